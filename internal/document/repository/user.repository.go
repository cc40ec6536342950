package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"

	"docstate/pkg/logger"
	"docstate/store"
)

type UserRepository struct {
	DB *sql.DB
}

const userColumns = "id, display_name, email, groups, deleted_at, infos"

func scanUser(row rowScanner) (*store.UserRecord, error) {
	var (
		rec       store.UserRecord
		groups    pq.StringArray
		deletedAt sql.NullTime
		infosRaw  []byte
	)
	if err := row.Scan(&rec.ID, &rec.DisplayName, &rec.Email, &groups, &deletedAt, &infosRaw); err != nil {
		return nil, err
	}
	rec.Groups = []string(groups)
	if deletedAt.Valid {
		t := deletedAt.Time
		rec.DeletedAt = &t
	}
	if len(infosRaw) > 0 {
		if err := json.Unmarshal(infosRaw, &rec.Infos); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*store.UserRecord, error) {
	row := r.DB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	rec, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get user %s: %v", id, err)
		return nil, err
	}
	return rec, nil
}

func (r *UserRepository) PullGroup(ctx context.Context, userID, group string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET groups = array_remove(groups, $2) WHERE id = $1", userID, group)
	if err != nil {
		logger.Sugar.Errorf("Failed to pull group %s from user %s: %v", group, userID, err)
	}
	return err
}

// Anonymize overwrites personal fields on a live record. Unknown field
// keys are merged into the infos document.
func (r *UserRepository) Anonymize(ctx context.Context, id string, fields map[string]any) (*store.UserRecord, error) {
	displayName, email := sql.NullString{}, sql.NullString{}
	infos := map[string]any{}
	for key, value := range fields {
		switch key {
		case "displayName":
			if s, ok := value.(string); ok {
				displayName = sql.NullString{String: s, Valid: true}
			}
		case "email":
			if s, ok := value.(string); ok {
				email = sql.NullString{String: s, Valid: true}
			}
		default:
			infos[key] = value
		}
	}
	infosRaw, err := json.Marshal(infos)
	if err != nil {
		return nil, err
	}

	row := r.DB.QueryRowContext(ctx,
		`UPDATE users SET
			display_name = COALESCE($2, display_name),
			email = COALESCE($3, email),
			infos = infos || $4::jsonb
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING `+userColumns,
		id, displayName, email, infosRaw)
	rec, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to anonymize user %s: %v", id, err)
		return nil, err
	}
	return rec, nil
}
