package model

import (
	"strings"
	"time"

	"docstate/internal/resource"
	"docstate/store"
)

// Query carries the caller's list/read options, parsed by the HTTP layer.
type Query struct {
	// Params are the raw query parameters; keys prefixed "data." become
	// equality constraints, everything else is ignored by the builder.
	Params map[string]any
	// States is the comma-split "states" value; empty means every state
	// declared on the resource.
	States []resource.StateName
	// With holds enrichment flags ("creator", "parentId").
	With []string
	// Embed names embedded resources handed to the embedding resolver.
	Embed []string
	// WithLinks requests neighbor navigation links.
	WithLinks bool
}

// Has reports whether an enrichment flag was requested.
func (q Query) Has(flag string) bool {
	for _, w := range q.With {
		if strings.EqualFold(w, flag) {
			return true
		}
	}
	return false
}

// RequestedStates defaults to all states of the resource when the caller
// supplied none.
func (q Query) RequestedStates(r *resource.Resource) []resource.StateName {
	if len(q.States) > 0 {
		return q.States
	}
	all := make([]resource.StateName, 0, len(r.States))
	for name := range r.States {
		all = append(all, name)
	}
	return all
}

// Pagination is the caller's page window. Zero values fall back to page 1
// and the resource or configured default page size.
type Pagination struct {
	Page    int64
	PerPage int64
}

// Creator is the trimmed user record attached by with=creator.
type Creator struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// DocumentView is the response shape for a single document in one state,
// with the permitted state snapshots alongside.
type DocumentView struct {
	ID         string                                 `json:"id"`
	State      resource.StateName                     `json:"state"`
	States     map[resource.StateName]store.StateRecord `json:"states,omitempty"`
	CreatedAt  time.Time                              `json:"createdAt"`
	CreatedBy  *string                                `json:"createdBy"`
	ModifiedAt *time.Time                             `json:"modifiedAt,omitempty"`
	ModifiedBy *string                                `json:"modifiedBy,omitempty"`
	Data       map[string]any                         `json:"data"`
	Groups     []string                               `json:"groups,omitempty"`
	ParentID   string                                 `json:"parentId,omitempty"`
	Creator    *Creator                               `json:"creator,omitempty"`
}

// Nav is page navigation metadata for a list response.
type Nav struct {
	First    int64  `json:"first"`
	Last     int64  `json:"last"`
	Previous *int64 `json:"previous,omitempty"`
	Next     *int64 `json:"next,omitempty"`
}

// ListResult is the response shape of a document list.
type ListResult struct {
	Count   int64           `json:"count"`
	Label   string          `json:"label"`
	Page    int64           `json:"page"`
	PerPage int64           `json:"perPage"`
	Nav     Nav             `json:"nav"`
	Docs    []*DocumentView `json:"docs"`
}

// Links points to the neighboring documents by primary-key proximity.
type Links struct {
	Previous string `json:"previous,omitempty"`
	Next     string `json:"next,omitempty"`
}

// CreatedDocument is the response of a document creation: the new id plus
// the initial state snapshot.
type CreatedDocument struct {
	ID    string             `json:"id"`
	State resource.StateName `json:"state"`
	store.StateRecord
}

// UpdatedDocument is the response of a data update.
type UpdatedDocument struct {
	ID    string             `json:"id"`
	State resource.StateName `json:"state"`
	Data  map[string]any     `json:"data"`
}

// StateTransition reports a completed state move.
type StateTransition struct {
	ID   string             `json:"id"`
	From resource.StateName `json:"from"`
	To   resource.StateName `json:"to"`
	Data map[string]any     `json:"data"`
}
