package store

import (
	"context"
	"time"

	"docstate/internal/resource"
)

// DocumentStore is one document collection. Lookups that match nothing
// return (nil, nil); write operations report how many documents matched.
type DocumentStore interface {
	FindOne(ctx context.Context, filter Filter, projection *Projection) (*Document, error)
	Find(ctx context.Context, filter Filter, opts FindOptions) ([]*Document, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	InsertOne(ctx context.Context, doc *Document) error
	UpdateOne(ctx context.Context, filter Filter, update UpdateSpec) (int64, error)
	FindOneAndUpdate(ctx context.Context, filter Filter, update UpdateSpec, projection *Projection) (*Document, error)
	ReplaceOne(ctx context.Context, id string, doc *Document) error
	DeleteOne(ctx context.Context, filter Filter) (int64, error)

	// Ancestors walks parent pointers starting at parentID and returns
	// the chain ordered nearest ancestor first.
	Ancestors(ctx context.Context, parentID string) ([]*Document, error)
	Children(ctx context.Context, parentID string) ([]*Document, error)

	// Neighbor returns the nearest document by primary-key ordering on
	// the side selected by before, among documents matching filter.
	Neighbor(ctx context.Context, filter Filter, before bool) (*Document, error)
}

// LockStore is the lock collection. Acquire is a single atomic
// conditional write: it claims (documentID, state) when the slot is free,
// owned by the same user, or expired, and returns (nil, nil) when a
// different user holds a live claim.
type LockStore interface {
	Acquire(ctx context.Context, documentID string, state resource.StateName, userID string, timeout time.Time) (*Lock, error)
	Get(ctx context.Context, documentID string, state resource.StateName) (*Lock, error)
	GetByID(ctx context.Context, id string) (*Lock, error)
	ListByDocument(ctx context.Context, documentID string) ([]*Lock, error)
	Delete(ctx context.Context, id string) error
}

// UserStore is the global users collection.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*UserRecord, error)
	// PullGroup removes a group label from the user's global group list.
	PullGroup(ctx context.Context, userID, group string) error
	// Anonymize applies field overwrites to a user that has not been
	// soft-deleted yet, returning the updated record or (nil, nil).
	Anonymize(ctx context.Context, id string, fields map[string]any) (*UserRecord, error)
}

// Store bundles the collections the document core talks to.
type Store interface {
	Documents(collection string) DocumentStore
	Locks() LockStore
	Users() UserStore
}
