package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"docstate/internal/resource"
	"docstate/pkg/logger"
	"docstate/store"
)

// LockRepository stores one row per (document, state) claim. The unique
// constraint on that pair makes Acquire a single conditional write.
type LockRepository struct {
	DB *sql.DB
}

func lockFromRow(id, documentID string, state resource.StateName, userID string, timeout time.Time) *store.Lock {
	return &store.Lock{
		ID:         id,
		DocumentID: documentID,
		States: map[resource.StateName]store.LockEntry{
			state: {UserID: userID, Timeout: timeout},
		},
	}
}

// Acquire claims the slot atomically: the insert succeeds on a free
// slot, the conflict branch overwrites only when the claim belongs to
// the same user or has expired, and no row comes back otherwise.
func (r *LockRepository) Acquire(ctx context.Context, documentID string, state resource.StateName, userID string, timeout time.Time) (*store.Lock, error) {
	var id string
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO locks (id, document_id, state, user_id, timeout)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (document_id, state) DO UPDATE
		 SET user_id = EXCLUDED.user_id, timeout = EXCLUDED.timeout
		 WHERE locks.user_id = EXCLUDED.user_id OR locks.timeout < now()
		 RETURNING id`,
		uuid.NewString(), documentID, string(state), userID, timeout).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to acquire lock on doc %s state %s: %v", documentID, state, err)
		return nil, err
	}
	return lockFromRow(id, documentID, state, userID, timeout), nil
}

func (r *LockRepository) Get(ctx context.Context, documentID string, state resource.StateName) (*store.Lock, error) {
	var (
		id, userID string
		timeout    time.Time
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, user_id, timeout FROM locks WHERE document_id = $1 AND state = $2",
		documentID, string(state)).Scan(&id, &userID, &timeout)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get lock on doc %s state %s: %v", documentID, state, err)
		return nil, err
	}
	return lockFromRow(id, documentID, state, userID, timeout), nil
}

func (r *LockRepository) GetByID(ctx context.Context, id string) (*store.Lock, error) {
	var (
		documentID, state, userID string
		timeout                   time.Time
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT document_id, state, user_id, timeout FROM locks WHERE id = $1", id).
		Scan(&documentID, &state, &userID, &timeout)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get lock %s: %v", id, err)
		return nil, err
	}
	return lockFromRow(id, documentID, resource.StateName(state), userID, timeout), nil
}

func (r *LockRepository) ListByDocument(ctx context.Context, documentID string) ([]*store.Lock, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, state, user_id, timeout FROM locks WHERE document_id = $1 ORDER BY id ASC", documentID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list locks for doc %s: %v", documentID, err)
		return nil, err
	}
	defer rows.Close()

	var locks []*store.Lock
	for rows.Next() {
		var (
			id, state, userID string
			timeout           time.Time
		)
		if err := rows.Scan(&id, &state, &userID, &timeout); err != nil {
			return nil, err
		}
		locks = append(locks, lockFromRow(id, documentID, resource.StateName(state), userID, timeout))
	}
	return locks, rows.Err()
}

func (r *LockRepository) Delete(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM locks WHERE id = $1", id)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete lock %s: %v", id, err)
	}
	return err
}
