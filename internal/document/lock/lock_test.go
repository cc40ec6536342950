package lock

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docstate/internal/document/model"
	"docstate/pkg/apierror"
	"docstate/store"
)

func newManager() (*Manager, store.LockStore) {
	locks := store.NewMemory().Locks()
	return NewManager(locks, 60), locks
}

func TestAcquireAndConflict(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()
	u1 := &model.User{ID: "u1"}
	u2 := &model.User{ID: "u2"}

	l, err := m.Acquire(ctx, "doc-1", "draft", u1, 0)
	require.NoError(t, err)
	require.NotNil(t, l)
	entry := l.States["draft"]
	assert.Equal(t, "u1", entry.UserID)
	assert.True(t, entry.Timeout.After(time.Now()), "default ttl applies")

	// a live claim held by someone else yields no result and no error
	conflict, err := m.Acquire(ctx, "doc-1", "draft", u2, 0)
	require.NoError(t, err)
	assert.Nil(t, conflict)

	// the owner re-acquires freely
	refreshed, err := m.Acquire(ctx, "doc-1", "draft", u1, 120)
	require.NoError(t, err)
	require.NotNil(t, refreshed)
	assert.Equal(t, l.ID, refreshed.ID)

	_, err = m.Acquire(ctx, "doc-1", "draft", nil, 0)
	assert.ErrorIs(t, err, apierror.ErrUnauthorized)
}

func TestExpiredClaimIsTakenOver(t *testing.T) {
	ctx := context.Background()
	m, locks := newManager()
	u2 := &model.User{ID: "u2"}

	_, err := locks.Acquire(ctx, "doc-1", "draft", "u1", time.Now().Add(-time.Second))
	require.NoError(t, err)

	held, err := m.IsLockedByOtherUser(ctx, "doc-1", "draft", u2)
	require.NoError(t, err)
	assert.False(t, held, "expired claims do not block")

	taken, err := m.Acquire(ctx, "doc-1", "draft", u2, 0)
	require.NoError(t, err)
	require.NotNil(t, taken)
	assert.Equal(t, "u2", taken.States["draft"].UserID)
}

func TestIsLockedByOtherUser(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()
	u1 := &model.User{ID: "u1"}
	u2 := &model.User{ID: "u2"}

	held, err := m.IsLockedByOtherUser(ctx, "doc-1", "draft", u1)
	require.NoError(t, err)
	assert.False(t, held, "no claim at all")

	_, err = m.Acquire(ctx, "doc-1", "draft", u1, 0)
	require.NoError(t, err)

	held, err = m.IsLockedByOtherUser(ctx, "doc-1", "draft", u1)
	require.NoError(t, err)
	assert.False(t, held, "own claim does not count")

	held, err = m.IsLockedByOtherUser(ctx, "doc-1", "draft", u2)
	require.NoError(t, err)
	assert.True(t, held)

	held, err = m.IsLockedByOtherUser(ctx, "doc-1", "draft", nil)
	require.NoError(t, err)
	assert.True(t, held, "anonymous requesters never own a claim")

	held, err = m.IsLockedByOtherUser(ctx, "doc-1", "published", u2)
	require.NoError(t, err)
	assert.False(t, held, "states lock independently")
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	m, locks := newManager()
	u1 := &model.User{ID: "u1"}
	u2 := &model.User{ID: "u2"}
	admin := &model.User{ID: "root", IsAdmin: true}

	l, err := m.Acquire(ctx, "doc-1", "draft", u1, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Release(ctx, "not-a-uuid", u1, ""), apierror.ErrBadRequest)
	assert.ErrorIs(t, m.Release(ctx, uuid.NewString(), u1, ""), apierror.ErrNotFound)
	assert.ErrorIs(t, m.Release(ctx, l.ID, u2, ""), apierror.ErrUnauthorized)
	assert.ErrorIs(t, m.Release(ctx, l.ID, nil, ""), apierror.ErrUnauthorized)

	// the surrogate path is admin-only
	assert.ErrorIs(t, m.Release(ctx, l.ID, u2, "u1"), apierror.ErrUnauthorized)
	require.NoError(t, m.Release(ctx, l.ID, admin, "u1"))

	gone, err := locks.GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	// the owner releases their own claim
	l, err = m.Acquire(ctx, "doc-1", "draft", u1, 0)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, l.ID, u1, ""))
}

func TestListIsAdminOnly(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()
	u1 := &model.User{ID: "u1"}
	admin := &model.User{ID: "root", IsAdmin: true}

	_, err := m.Acquire(ctx, "doc-1", "draft", u1, 0)
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "doc-1", "published", u1, 0)
	require.NoError(t, err)

	_, err = m.List(ctx, "doc-1", u1)
	assert.ErrorIs(t, err, apierror.ErrUnauthorized)

	locks, err := m.List(ctx, "doc-1", admin)
	require.NoError(t, err)
	assert.Len(t, locks, 2)

	none, err := m.List(ctx, "", admin)
	require.NoError(t, err)
	assert.Nil(t, none)
}
