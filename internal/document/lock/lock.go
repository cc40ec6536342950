// Package lock provides per-(document, state) mutual exclusion with TTL
// expiry, used for collaborative-edit conflict avoidance. Acquisition is
// delegated to the store's atomic conditional write, so two concurrent
// claims on a free slot cannot both win.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"docstate/internal/document/model"
	"docstate/internal/resource"
	"docstate/pkg/apierror"
	"docstate/pkg/logger"
	"docstate/store"
)

type Manager struct {
	locks      store.LockStore
	defaultTTL time.Duration
}

func NewManager(locks store.LockStore, defaultTTLSeconds int64) *Manager {
	return &Manager{locks: locks, defaultTTL: time.Duration(defaultTTLSeconds) * time.Second}
}

// Acquire claims (documentID, state) for the user. A nil lock with a nil
// error means another user holds a live claim; callers must branch on
// the absence of a result, not on an error.
func (m *Manager) Acquire(ctx context.Context, documentID string, state resource.StateName, user *model.User, ttlSeconds int64) (*store.Lock, error) {
	if user == nil || user.ID == "" {
		return nil, apierror.Unauthorized("locks require an authenticated user")
	}
	ttl := m.defaultTTL
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	lock, err := m.locks.Acquire(ctx, documentID, state, user.ID, time.Now().Add(ttl))
	if err != nil {
		logger.Sugar.Errorf("Failed to acquire lock on doc %s state %s: %v", documentID, state, err)
		return nil, err
	}
	return lock, nil
}

// IsLockedByOtherUser reports whether a non-expired claim exists on
// (documentID, state) owned by someone other than user.
func (m *Manager) IsLockedByOtherUser(ctx context.Context, documentID string, state resource.StateName, user *model.User) (bool, error) {
	lock, err := m.locks.Get(ctx, documentID, state)
	if err != nil {
		return false, err
	}
	if lock == nil {
		return false, nil
	}
	entry, ok := lock.States[state]
	if !ok || entry.Expired(time.Now()) {
		return false, nil
	}
	return user == nil || entry.UserID != user.ID, nil
}

// Release deletes a lock by id. Admins may release on behalf of a
// surrogate owner; everyone else releases their own locks only.
func (m *Manager) Release(ctx context.Context, lockID string, user *model.User, surrogateUserID string) error {
	if user == nil {
		return apierror.Unauthorized("locks require an authenticated user")
	}
	ownerID := user.ID
	if surrogateUserID != "" && user.Admin() {
		ownerID = surrogateUserID
	}
	if _, err := uuid.Parse(lockID); err != nil {
		return apierror.BadRequest("invalid lock id")
	}
	lock, err := m.locks.GetByID(ctx, lockID)
	if err != nil {
		return err
	}
	if lock == nil {
		return apierror.ErrNotFound
	}
	// The lock may hold claims for any state; it is releasable when the
	// resolved owner holds one of them.
	for _, entry := range lock.States {
		if entry.UserID == ownerID {
			return m.locks.Delete(ctx, lockID)
		}
	}
	if len(lock.States) > 0 {
		return apierror.ErrUnauthorized
	}
	return apierror.ErrNotFound
}

// List returns every lock record referencing the document. Admin-only.
// A missing document id is answered with no result rather than an error.
func (m *Manager) List(ctx context.Context, documentID string, user *model.User) ([]*store.Lock, error) {
	if !user.Admin() {
		return nil, apierror.ErrUnauthorized
	}
	if documentID == "" {
		return nil, nil
	}
	return m.locks.ListByDocument(ctx, documentID)
}
