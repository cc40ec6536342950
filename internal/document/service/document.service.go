// Package service orchestrates the document core: it composes the query
// builder, the permission resolver, the lock manager, the storage
// collaborator and the embedding resolver into the document operations.
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"docstate/internal/document/embed"
	"docstate/internal/document/lock"
	"docstate/internal/document/model"
	"docstate/internal/document/permission"
	"docstate/internal/document/query"
	"docstate/internal/resource"
	"docstate/pkg/apierror"
	"docstate/pkg/logger"
	"docstate/store"
)

type DocumentService struct {
	Store   store.Store
	Embed   embed.Resolver
	Locks   *lock.Manager
	PerPage int64
}

func NewDocumentService(st store.Store, resolver embed.Resolver, locks *lock.Manager, perPage int64) *DocumentService {
	if resolver == nil {
		resolver = embed.Noop{}
	}
	return &DocumentService{Store: st, Embed: resolver, Locks: locks, PerPage: perPage}
}

func (s *DocumentService) collection(r *resource.Resource) store.DocumentStore {
	return s.Store.Documents(r.Collection)
}

func (s *DocumentService) perPageFor(r *resource.Resource) int64 {
	if r.PerPage > 0 {
		return r.PerPage
	}
	if s.PerPage > 0 {
		return s.PerPage
	}
	return 100
}

// GetDocuments lists documents holding the state, applying data filters,
// inheritance merge, creator enrichment, pagination and per-row state
// visibility.
func (s *DocumentService) GetDocuments(ctx context.Context, r *resource.Resource, filter store.Filter, user *model.User, q model.Query, state resource.StateName, sortKey string, page model.Pagination, others map[string]*resource.Resource) (*model.ListResult, error) {
	state = r.ResolveState(state)
	coll := s.collection(r)

	dbFilter := filter
	dbFilter.StateExists = state
	found := query.Find(r, q, state)
	dbFilter.DataState = found.DataState
	dbFilter.Data = found.Data

	count, err := coll.Count(ctx, dbFilter)
	if err != nil {
		return nil, err
	}

	skip, limit, pageN, nav := pageWindow(count, page, s.perPageFor(r))
	sortFields := parseSort(sortKey, state)
	if len(sortFields) == 0 {
		sortFields = defaultSort()
	}

	docs, err := coll.Find(ctx, dbFilter, store.FindOptions{Sort: sortFields, Skip: skip, Limit: limit})
	if err != nil {
		return nil, err
	}

	result := &model.ListResult{
		Count:   count,
		Label:   r.Label,
		Page:    pageN,
		PerPage: limit,
		Nav:     nav,
		Docs:    make([]*model.DocumentView, 0, len(docs)),
	}

	requested := q.RequestedStates(r)
	withCreator := q.Has("creator")
	withParent := q.Has("parentId")
	for _, doc := range docs {
		if r.IsInheritable {
			if err := s.mergeAncestorData(ctx, coll, doc, state); err != nil {
				return nil, err
			}
		}
		currentState := doc.States[state]
		allowed := permission.AllowedStates(user, r, resource.VerbGet, doc)
		view := &model.DocumentView{
			ID:        doc.ID,
			State:     state,
			States:    permission.FilterDocumentStates(doc, allowed, requested),
			CreatedAt: currentState.CreatedAt,
			CreatedBy: currentState.CreatedBy,
			Data:      currentState.Data,
		}
		if view.Data == nil {
			view.Data = map[string]any{}
		}
		if r.IsInheritable && withParent {
			view.ParentID = doc.ParentID
		}
		if withCreator {
			view.Creator = s.lookupCreator(ctx, currentState.CreatedBy)
		}
		r.ApplyVirtuals(view.Data)
		result.Docs = append(result.Docs, view)
	}

	if err := s.Embed.ResolveMany(ctx, r, q.Embed, user, result.Docs, others); err != nil {
		return nil, err
	}
	return result, nil
}

// GetDocument reads a single document in the given state, with the same
// inheritance merge as GetDocuments.
func (s *DocumentService) GetDocument(ctx context.Context, r *resource.Resource, filter store.Filter, q model.Query, user *model.User, state resource.StateName, others map[string]*resource.Resource) (*model.DocumentView, error) {
	state = r.ResolveState(state)
	coll := s.collection(r)

	dbFilter := filter
	dbFilter.StateExists = state
	doc, err := coll.FindOne(ctx, dbFilter, nil)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, apierror.NotFound("document not found")
	}
	if _, ok := doc.States[state]; !ok {
		return nil, apierror.NotFound("document not found")
	}
	if r.IsInheritable {
		if err := s.mergeAncestorData(ctx, coll, doc, state); err != nil {
			return nil, err
		}
	}

	currentState := doc.States[state]
	allowed := permission.AllowedStates(user, r, resource.VerbGet, doc)
	view := &model.DocumentView{
		ID:         doc.ID,
		State:      state,
		States:     permission.FilterDocumentStates(doc, allowed, q.RequestedStates(r)),
		CreatedAt:  currentState.CreatedAt,
		CreatedBy:  currentState.CreatedBy,
		ModifiedAt: currentState.ModifiedAt,
		ModifiedBy: currentState.ModifiedBy,
		Data:       currentState.Data,
		Groups:     doc.Groups,
	}
	if view.Data == nil {
		view.Data = map[string]any{}
	}
	if view.Groups == nil {
		view.Groups = []string{}
	}
	r.ApplyVirtuals(view.Data)

	if err := s.Embed.ResolveOne(ctx, r, q.Embed, user, view, others); err != nil {
		return nil, err
	}
	return view, nil
}

// GetDocumentLinks finds the nearest neighbors by primary-key ordering on
// either side of the current document. Links are computed only when
// requested and only for non-inheritable resources; this is an
// id-proximity heuristic, not page-aware.
func (s *DocumentService) GetDocumentLinks(ctx context.Context, r *resource.Resource, filter store.Filter, q model.Query, state resource.StateName, headers map[string]string) (*model.Links, error) {
	links := &model.Links{}
	requested := q.WithLinks || strings.EqualFold(headers["with-links"], "true")
	if !requested || r.IsInheritable {
		return links, nil
	}

	state = r.ResolveState(state)
	coll := s.collection(r)

	match := filter
	match.ID = ""
	match.StateExists = state

	before := match
	before.IDBefore = filter.ID
	if prev, err := coll.Neighbor(ctx, before, true); err == nil && prev != nil {
		links.Previous = prev.ID
	} else if err != nil {
		logger.Sugar.Errorf("Failed to find previous link for doc %s: %v", filter.ID, err)
		return links, nil
	}

	after := match
	after.IDAfter = filter.ID
	if next, err := coll.Neighbor(ctx, after, false); err == nil && next != nil {
		links.Next = next.ID
	} else if err != nil {
		logger.Sugar.Errorf("Failed to find next link for doc %s: %v", filter.ID, err)
	}
	return links, nil
}

// CreateDocument inserts a document with exactly one initial state.
// Virtual property keys are stripped before validation; a parent's groups
// are copied onto the new document before explicit groups are unioned in.
func (s *DocumentService) CreateDocument(ctx context.Context, r *resource.Resource, data map[string]any, state resource.StateName, user *model.User, parentID string, groups []string) (*model.CreatedDocument, error) {
	r.StripVirtuals(data)
	state = r.ResolveState(state)

	doc, err := query.Create(r, data, state, user, parentID)
	if err != nil {
		return nil, err
	}

	coll := s.collection(r)
	if doc.ParentID != "" {
		parent, err := coll.FindOne(ctx, store.Filter{ID: doc.ParentID}, nil)
		if err != nil {
			logger.Sugar.Errorf("Failed to load parent %s: %v", doc.ParentID, err)
		} else if parent != nil {
			doc.Groups = parent.Groups
		}
	}
	if len(groups) > 0 {
		doc.Groups = unionGroups(doc.Groups, groups)
	}

	if err := coll.InsertOne(ctx, doc); err != nil {
		logger.Sugar.Errorf("Failed to create document: %v", err)
		return nil, err
	}
	return &model.CreatedDocument{ID: doc.ID, State: state, StateRecord: doc.States[state]}, nil
}

// SetDocument replaces the state's data wholesale.
func (s *DocumentService) SetDocument(ctx context.Context, r *resource.Resource, filter store.Filter, data map[string]any, state resource.StateName, user *model.User) (*model.UpdatedDocument, error) {
	r.StripVirtuals(data)
	state = r.ResolveState(state)

	update, err := query.Update(r, data, state, user)
	if err != nil {
		return nil, err
	}
	coll := s.collection(r)
	modified, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	if modified != 1 {
		return nil, s.explainMiss(ctx, coll, filter.ID)
	}
	return &model.UpdatedDocument{ID: filter.ID, State: state, Data: data}, nil
}

// PatchDocument merges only the provided data fields.
func (s *DocumentService) PatchDocument(ctx context.Context, r *resource.Resource, filter store.Filter, data map[string]any, state resource.StateName, user *model.User) (*model.UpdatedDocument, error) {
	r.StripVirtuals(data)
	state = r.ResolveState(state)

	update, err := query.Patch(r, data, state, user)
	if err != nil {
		return nil, err
	}
	coll := s.collection(r)
	updated, err := coll.FindOneAndUpdate(ctx, filter, update, nil)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, s.explainMiss(ctx, coll, filter.ID)
	}
	return &model.UpdatedDocument{ID: updated.ID, State: state, Data: updated.States[state].Data}, nil
}

// SetDocumentState moves a snapshot from one state name to another. The
// requester needs read access to the source state and write access to
// the destination, both evaluated against the loaded document.
func (s *DocumentService) SetDocumentState(ctx context.Context, r *resource.Resource, filter store.Filter, fromState, toState resource.StateName, user *model.User) (*model.StateTransition, error) {
	if !r.HasState(toState) {
		return nil, &apierror.UndefinedStateError{State: string(toState)}
	}
	if !r.HasState(fromState) {
		return nil, &apierror.UndefinedStateError{State: string(fromState)}
	}

	coll := s.collection(r)
	doc, err := coll.FindOne(ctx, filter, nil)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, apierror.NotFound("document not found")
	}

	allowedPut := permission.AllowedStates(user, r, resource.VerbPut, doc)
	allowedGet := permission.AllowedStates(user, r, resource.VerbGet, doc)
	if !permission.Contains(allowedPut, toState) || !permission.Contains(allowedGet, fromState) {
		return nil, apierror.ErrUnauthorized
	}

	rec, ok := doc.States[fromState]
	if !ok {
		return nil, apierror.NotFound("document has no such state")
	}
	update, err := query.SetState(rec.Data, fromState, toState, r, user)
	if err != nil {
		return nil, err
	}
	modified, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	if modified != 1 {
		return nil, apierror.NotFound("document not found")
	}
	return &model.StateTransition{ID: doc.ID, From: fromState, To: toState, Data: rec.Data}, nil
}

// DeleteDocumentState removes one snapshot from a document and
// garbage-collects the document once its states map is empty.
func (s *DocumentService) DeleteDocumentState(ctx context.Context, r *resource.Resource, filter store.Filter, state resource.StateName) error {
	state = r.ResolveState(state)
	coll := s.collection(r)
	out, err := coll.FindOneAndUpdate(ctx, filter, store.UpdateSpec{UnsetState: state}, nil)
	if err != nil {
		return err
	}
	if out == nil {
		return apierror.NotFound("document not found")
	}
	if len(out.States) == 0 {
		if _, err := coll.DeleteOne(ctx, query.DeleteFilter(out.ID)); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDocument removes a document. For inheritable resources the
// deleted document's state data is merged into each child first (the
// child's own fields win), children are re-parented to the deleted
// document's former parent, and only then is the document removed.
func (s *DocumentService) DeleteDocument(ctx context.Context, r *resource.Resource, filter store.Filter) error {
	coll := s.collection(r)
	if !r.IsInheritable {
		_, err := coll.DeleteOne(ctx, filter)
		return err
	}

	doc, err := coll.FindOne(ctx, filter, nil)
	if err != nil {
		return err
	}
	if doc == nil {
		return apierror.NotFound("document not found")
	}
	children, err := coll.Children(ctx, doc.ID)
	if err != nil {
		return err
	}
	for _, child := range children {
		for stateName, rec := range doc.States {
			childRec, ok := child.States[stateName]
			if !ok {
				child.States[stateName] = store.CloneStateRecord(rec)
				continue
			}
			if childRec.Data == nil {
				childRec.Data = map[string]any{}
			}
			for field, value := range rec.Data {
				if _, taken := childRec.Data[field]; !taken {
					childRec.Data[field] = value
				}
			}
			child.States[stateName] = childRec
		}
		child.ParentID = doc.ParentID
		if err := coll.ReplaceOne(ctx, child.ID, child); err != nil {
			return err
		}
	}
	_, err = coll.DeleteOne(ctx, filter)
	return err
}

// GetDocumentUsers lists the document's ACL entries. A missing document
// yields an empty list.
func (s *DocumentService) GetDocumentUsers(ctx context.Context, r *resource.Resource, filter store.Filter) ([]store.DocumentUser, error) {
	doc, err := s.collection(r).FindOne(ctx, filter, &store.Projection{Users: true})
	if err != nil {
		return nil, err
	}
	return usersList(doc), nil
}

// AddUserToDocument upserts an ACL entry and returns the updated list.
func (s *DocumentService) AddUserToDocument(ctx context.Context, r *resource.Resource, filter store.Filter, details store.DocumentUser) ([]store.DocumentUser, error) {
	coll := s.collection(r)
	doc, err := coll.FindOne(ctx, filter, nil)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, apierror.NotFound("document not found")
	}
	details.AddedAt = time.Now()
	updated, err := coll.FindOneAndUpdate(ctx, filter, store.UpdateSpec{SetUser: &details}, &store.Projection{Users: true})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, apierror.NotFound("document not found")
	}
	return usersList(updated), nil
}

// RemoveUserFromDocument removes an ACL entry, then pulls the derived
// "<label>_<id>" group from the user's global group list. The two writes
// hit different collections and are not transactional: when the group
// pull fails the ACL removal stands and the error propagates.
func (s *DocumentService) RemoveUserFromDocument(ctx context.Context, r *resource.Resource, filter store.Filter, userID string) ([]store.DocumentUser, error) {
	coll := s.collection(r)
	updated, err := coll.FindOneAndUpdate(ctx, filter, store.UpdateSpec{UnsetUser: userID}, &store.Projection{Users: true})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, apierror.NotFound("document not found")
	}
	group := fmt.Sprintf("%s_%s", r.Label, filter.ID)
	if err := s.Store.Users().PullGroup(ctx, userID, group); err != nil {
		logger.Sugar.Errorf("Failed to pull group %s from user %s: %v", group, userID, err)
		return nil, err
	}
	return usersList(updated), nil
}

// AnonymizePersonalData overwrites personal fields on a user record.
// Admin-only; soft-deleted or missing records are reported as not found.
func (s *DocumentService) AnonymizePersonalData(ctx context.Context, user *model.User, id string, fields map[string]any) (*store.UserRecord, error) {
	if !user.Admin() {
		return nil, apierror.Unauthorized("need to be admin to call this route")
	}
	rec, err := s.Store.Users().Anonymize(ctx, id, fields)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apierror.NotFound("resource not found or already soft deleted")
	}
	return rec, nil
}

// LockDocumentState, IsLockedByOtherUser, DeleteLock and GetLocks expose
// the lock manager on the service surface.

func (s *DocumentService) LockDocumentState(ctx context.Context, documentID string, state resource.StateName, user *model.User, ttlSeconds int64) (*store.Lock, error) {
	return s.Locks.Acquire(ctx, documentID, state, user, ttlSeconds)
}

func (s *DocumentService) IsLockedByOtherUser(ctx context.Context, documentID string, state resource.StateName, user *model.User) (bool, error) {
	return s.Locks.IsLockedByOtherUser(ctx, documentID, state, user)
}

func (s *DocumentService) DeleteLock(ctx context.Context, lockID string, user *model.User, surrogateUserID string) error {
	return s.Locks.Release(ctx, lockID, user, surrogateUserID)
}

func (s *DocumentService) GetLocks(ctx context.Context, documentID string, user *model.User) ([]*store.Lock, error) {
	return s.Locks.List(ctx, documentID, user)
}

// mergeAncestorData overlays ancestor state data under the document's
// own: walking root to nearest, nearer ancestors win, and the document's
// own fields win over all ancestors.
func (s *DocumentService) mergeAncestorData(ctx context.Context, coll store.DocumentStore, doc *store.Document, state resource.StateName) error {
	if doc.ParentID == "" {
		return nil
	}
	ancestors, err := coll.Ancestors(ctx, doc.ParentID)
	if err != nil {
		return err
	}
	merged := map[string]any{}
	for i := len(ancestors) - 1; i >= 0; i-- {
		for field, value := range ancestors[i].States[state].Data {
			merged[field] = value
		}
	}
	rec := doc.States[state]
	for field, value := range rec.Data {
		merged[field] = value
	}
	rec.Data = merged
	doc.States[state] = rec
	return nil
}

func (s *DocumentService) lookupCreator(ctx context.Context, createdBy *string) *model.Creator {
	if createdBy == nil {
		return nil
	}
	rec, err := s.Store.Users().FindByID(ctx, *createdBy)
	if err != nil {
		logger.Sugar.Errorf("Failed to load creator %s: %v", *createdBy, err)
		return nil
	}
	if rec == nil {
		return nil
	}
	return &model.Creator{ID: rec.ID, DisplayName: rec.DisplayName, Email: rec.Email}
}

// explainMiss disambiguates "zero rows modified": gone entirely versus
// excluded by the scoping filter, which is a permissions issue.
func (s *DocumentService) explainMiss(ctx context.Context, coll store.DocumentStore, id string) error {
	doc, err := coll.FindOne(ctx, store.Filter{ID: id}, nil)
	if err != nil {
		return err
	}
	if doc == nil {
		return apierror.NotFound("document not found")
	}
	return apierror.ErrUnauthorized
}

func usersList(doc *store.Document) []store.DocumentUser {
	out := []store.DocumentUser{}
	if doc == nil {
		return out
	}
	for _, u := range doc.Users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func unionGroups(base, extra []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(base)+len(extra))
	for _, g := range base {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	for _, g := range extra {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	return out
}
