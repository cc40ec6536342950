// Package query translates {resource, user, query, state} into store
// filters, projections and update specs. Every function is a pure
// mapping; validation is the only failure path.
package query

import (
	"strings"
	"time"

	"docstate/internal/document/model"
	"docstate/internal/document/permission"
	"docstate/internal/resource"
	"docstate/store"
)

const dataPrefix = "data."

// Find maps data-prefixed query parameters onto equality constraints
// scoped under the state's data. Unrecognized keys are ignored.
func Find(r *resource.Resource, q model.Query, state resource.StateName) store.Filter {
	filter := store.Filter{DataState: r.ResolveState(state)}
	for key, value := range q.Params {
		if !strings.HasPrefix(key, dataPrefix) {
			continue
		}
		if filter.Data == nil {
			filter.Data = map[string]any{}
		}
		filter.Data[strings.TrimPrefix(key, dataPrefix)] = value
	}
	return filter
}

// Select projects the audit fields and every declared schema field of
// each state the user may reach with the given verb.
func Select(r *resource.Resource, user *model.User, verb resource.Verb) *store.Projection {
	projection := &store.Projection{States: map[resource.StateName]store.StateProjection{}}
	for _, state := range permission.StatesForRoles(user.RoleNames(), r, verb) {
		projection.States[state] = store.StateProjection{
			Audit:  true,
			Fields: append([]string(nil), r.Fields...),
		}
	}
	return projection
}

// GetStates projects only the audit fields of each reachable state.
func GetStates(r *resource.Resource, user *model.User) *store.Projection {
	projection := &store.Projection{States: map[resource.StateName]store.StateProjection{}}
	for _, state := range permission.StatesForRoles(user.RoleNames(), r, 0) {
		projection.States[state] = store.StateProjection{Audit: true}
	}
	return projection
}

// Create validates the payload when the target state requires it and
// builds a document holding exactly one state snapshot.
func Create(r *resource.Resource, data map[string]any, state resource.StateName, user *model.User, parentID string) (*store.Document, error) {
	state = r.ResolveState(state)
	if err := r.Validate(data, state); err != nil {
		return nil, err
	}
	doc := &store.Document{
		ParentID: parentID,
		States: map[resource.StateName]store.StateRecord{
			state: {
				CreatedAt: time.Now(),
				CreatedBy: user.IDRef(),
				Data:      data,
			},
		},
	}
	return doc, nil
}

// Update replaces the state's whole data object and refreshes its
// modification audit fields.
func Update(r *resource.Resource, data map[string]any, state resource.StateName, user *model.User) (store.UpdateSpec, error) {
	state = r.ResolveState(state)
	if err := r.Validate(data, state); err != nil {
		return store.UpdateSpec{}, err
	}
	return store.UpdateSpec{
		State:      state,
		SetData:    data,
		ModifiedAt: time.Now(),
		ModifiedBy: user.IDRef(),
	}, nil
}

// Patch merges only the provided fields into the state's data and
// refreshes its modification audit fields.
func Patch(r *resource.Resource, data map[string]any, state resource.StateName, user *model.User) (store.UpdateSpec, error) {
	state = r.ResolveState(state)
	if err := r.Validate(data, state); err != nil {
		return store.UpdateSpec{}, err
	}
	return store.UpdateSpec{
		State:      state,
		MergeData:  data,
		ModifiedAt: time.Now(),
		ModifiedBy: user.IDRef(),
	}, nil
}

// SetState validates the source state's existing data against the
// destination state's validation flag and builds the rename spec. The
// move carries the data forward untouched; modification audit fields are
// stamped at the document root.
func SetState(docData map[string]any, from, to resource.StateName, r *resource.Resource, user *model.User) (store.UpdateSpec, error) {
	if err := r.Validate(docData, to); err != nil {
		return store.UpdateSpec{}, err
	}
	return store.UpdateSpec{
		RenameFrom:     from,
		RenameTo:       to,
		RootModifiedAt: time.Now(),
		RootModifiedBy: user.IDRef(),
	}, nil
}

// DeleteFilter matches a document by id once its states map is empty,
// used to garbage-collect fully-unset documents.
func DeleteFilter(id string) store.Filter {
	return store.Filter{ID: id, StatesEmpty: true}
}
