package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"docstate/internal/resource"
	"docstate/pkg/logger"
	"docstate/store"
)

const documentColumns = "id, states, users, groups, parent_id, modified_at, modified_by"

type DocumentRepository struct {
	DB         *sql.DB
	Collection string
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *DocumentRepository) where(filter store.Filter, args *[]any) string {
	*args = append(*args, r.Collection)
	conds := []string{"collection = $1"}
	add := func(format string, value any) {
		*args = append(*args, value)
		conds = append(conds, fmt.Sprintf(format, len(*args)))
	}
	if filter.ID != "" {
		add("id = $%d", filter.ID)
	}
	if filter.IDBefore != "" {
		add("id < $%d", filter.IDBefore)
	}
	if filter.IDAfter != "" {
		add("id > $%d", filter.IDAfter)
	}
	if filter.ParentID != "" {
		add("parent_id = $%d", filter.ParentID)
	}
	if filter.StateExists != "" {
		add("jsonb_exists(states, $%d)", string(filter.StateExists))
	}
	if filter.StatesEmpty {
		conds = append(conds, "states = '{}'::jsonb")
	}
	if len(filter.Data) > 0 {
		contained, _ := json.Marshal(map[resource.StateName]any{
			filter.DataState: map[string]any{"data": filter.Data},
		})
		add("states @> $%d::jsonb", string(contained))
	}
	return strings.Join(conds, " AND ")
}

func orderBy(fields []store.SortField) string {
	if len(fields) == 0 {
		return "id ASC"
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		expr := "id"
		switch f.Key {
		case "", "id":
		case "createdAt", "modifiedAt":
			expr = fmt.Sprintf("states #>> '{%s,%s}'", jsonbPathPart(string(f.State)), jsonbPathPart(f.Key))
		default:
			expr = fmt.Sprintf("states #>> '{%s,data,%s}'", jsonbPathPart(string(f.State)), jsonbPathPart(f.Key))
		}
		dir := "ASC"
		if f.Desc {
			dir = "DESC"
		}
		parts = append(parts, expr+" "+dir)
	}
	return strings.Join(parts, ", ")
}

// jsonbPathPart keeps state and field names safe to splice into a jsonb
// path literal. Names come from the resource schema, which the core
// consumes read-only, so stripping quotes is enough.
func jsonbPathPart(s string) string {
	return strings.NewReplacer("'", "", "{", "", "}", "", ",", "").Replace(s)
}

func scanDocument(row rowScanner) (*store.Document, error) {
	var (
		doc        store.Document
		statesRaw  []byte
		usersRaw   []byte
		groups     pq.StringArray
		parentID   sql.NullString
		modifiedAt sql.NullTime
		modifiedBy sql.NullString
	)
	if err := row.Scan(&doc.ID, &statesRaw, &usersRaw, &groups, &parentID, &modifiedAt, &modifiedBy); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(statesRaw, &doc.States); err != nil {
		return nil, err
	}
	if len(usersRaw) > 0 {
		if err := json.Unmarshal(usersRaw, &doc.Users); err != nil {
			return nil, err
		}
	}
	doc.Groups = []string(groups)
	if parentID.Valid {
		doc.ParentID = parentID.String
	}
	if modifiedAt.Valid {
		t := modifiedAt.Time
		doc.ModifiedAt = &t
	}
	if modifiedBy.Valid {
		by := modifiedBy.String
		doc.ModifiedBy = &by
	}
	return &doc, nil
}

func documentArgs(doc *store.Document) (statesRaw, usersRaw []byte, groups pq.StringArray, parentID, modifiedBy sql.NullString, modifiedAt sql.NullTime, err error) {
	statesRaw, err = json.Marshal(doc.States)
	if err != nil {
		return
	}
	users := doc.Users
	if users == nil {
		users = map[string]store.DocumentUser{}
	}
	usersRaw, err = json.Marshal(users)
	if err != nil {
		return
	}
	groups = pq.StringArray(doc.Groups)
	if groups == nil {
		groups = pq.StringArray{}
	}
	if doc.ParentID != "" {
		parentID = sql.NullString{String: doc.ParentID, Valid: true}
	}
	if doc.ModifiedAt != nil {
		modifiedAt = sql.NullTime{Time: *doc.ModifiedAt, Valid: true}
	}
	if doc.ModifiedBy != nil {
		modifiedBy = sql.NullString{String: *doc.ModifiedBy, Valid: true}
	}
	return
}

func (r *DocumentRepository) FindOne(ctx context.Context, filter store.Filter, projection *store.Projection) (*store.Document, error) {
	var args []any
	q := fmt.Sprintf("SELECT %s FROM documents WHERE %s ORDER BY id ASC LIMIT 1", documentColumns, r.where(filter, &args))
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, q, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to find document in %s: %v", r.Collection, err)
		return nil, err
	}
	return projection.Apply(doc), nil
}

func (r *DocumentRepository) Find(ctx context.Context, filter store.Filter, opts store.FindOptions) ([]*store.Document, error) {
	var args []any
	q := fmt.Sprintf("SELECT %s FROM documents WHERE %s ORDER BY %s", documentColumns, r.where(filter, &args), orderBy(opts.Sort))
	if opts.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Skip > 0 {
		q += fmt.Sprintf(" OFFSET %d", opts.Skip)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		logger.Sugar.Errorf("Failed to list documents in %s: %v", r.Collection, err)
		return nil, err
	}
	defer rows.Close()

	var docs []*store.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, opts.Projection.Apply(doc))
	}
	return docs, rows.Err()
}

func (r *DocumentRepository) Count(ctx context.Context, filter store.Filter) (int64, error) {
	var args []any
	q := fmt.Sprintf("SELECT COUNT(*) FROM documents WHERE %s", r.where(filter, &args))
	var count int64
	if err := r.DB.QueryRowContext(ctx, q, args...).Scan(&count); err != nil {
		logger.Sugar.Errorf("Failed to count documents in %s: %v", r.Collection, err)
		return 0, err
	}
	return count, nil
}

func (r *DocumentRepository) InsertOne(ctx context.Context, doc *store.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	statesRaw, usersRaw, groups, parentID, modifiedBy, modifiedAt, err := documentArgs(doc)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO documents (collection, id, states, users, groups, parent_id, modified_at, modified_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.Collection, doc.ID, statesRaw, usersRaw, groups, parentID, modifiedAt, modifiedBy)
	if err != nil {
		logger.Sugar.Errorf("Failed to insert document %s: %v", doc.ID, err)
	}
	return err
}

// findForUpdate loads the first matching row under a row lock so the
// read-apply-write below is one single-document update.
func (r *DocumentRepository) findForUpdate(ctx context.Context, tx *sql.Tx, filter store.Filter) (*store.Document, error) {
	var args []any
	q := fmt.Sprintf("SELECT %s FROM documents WHERE %s ORDER BY id ASC LIMIT 1 FOR UPDATE", documentColumns, r.where(filter, &args))
	doc, err := scanDocument(tx.QueryRowContext(ctx, q, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

func (r *DocumentRepository) writeBack(ctx context.Context, tx *sql.Tx, doc *store.Document) error {
	statesRaw, usersRaw, groups, parentID, modifiedBy, modifiedAt, err := documentArgs(doc)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE documents SET states = $3, users = $4, groups = $5, parent_id = $6, modified_at = $7, modified_by = $8
		 WHERE collection = $1 AND id = $2`,
		r.Collection, doc.ID, statesRaw, usersRaw, groups, parentID, modifiedAt, modifiedBy)
	return err
}

func (r *DocumentRepository) applyInTx(ctx context.Context, filter store.Filter, update store.UpdateSpec) (*store.Document, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	doc, err := r.findForUpdate(ctx, tx, filter)
	if err != nil || doc == nil {
		tx.Rollback()
		return nil, err
	}
	update.Apply(doc)
	if err := r.writeBack(ctx, tx, doc); err != nil {
		tx.Rollback()
		logger.Sugar.Errorf("Failed to update document %s: %v", doc.ID, err)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepository) UpdateOne(ctx context.Context, filter store.Filter, update store.UpdateSpec) (int64, error) {
	doc, err := r.applyInTx(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	if doc == nil {
		return 0, nil
	}
	return 1, nil
}

func (r *DocumentRepository) FindOneAndUpdate(ctx context.Context, filter store.Filter, update store.UpdateSpec, projection *store.Projection) (*store.Document, error) {
	doc, err := r.applyInTx(ctx, filter, update)
	if err != nil || doc == nil {
		return nil, err
	}
	return projection.Apply(doc), nil
}

func (r *DocumentRepository) ReplaceOne(ctx context.Context, id string, doc *store.Document) error {
	replacement := store.CloneDocument(doc)
	replacement.ID = id
	statesRaw, usersRaw, groups, parentID, modifiedBy, modifiedAt, err := documentArgs(replacement)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		`UPDATE documents SET states = $3, users = $4, groups = $5, parent_id = $6, modified_at = $7, modified_by = $8
		 WHERE collection = $1 AND id = $2`,
		r.Collection, id, statesRaw, usersRaw, groups, parentID, modifiedAt, modifiedBy)
	if err != nil {
		logger.Sugar.Errorf("Failed to replace document %s: %v", id, err)
	}
	return err
}

func (r *DocumentRepository) DeleteOne(ctx context.Context, filter store.Filter) (int64, error) {
	var args []any
	q := fmt.Sprintf(
		"DELETE FROM documents WHERE ctid IN (SELECT ctid FROM documents WHERE %s ORDER BY id ASC LIMIT 1)",
		r.where(filter, &args))
	result, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete document in %s: %v", r.Collection, err)
		return 0, err
	}
	return result.RowsAffected()
}

func (r *DocumentRepository) Ancestors(ctx context.Context, parentID string) ([]*store.Document, error) {
	q := fmt.Sprintf(`WITH RECURSIVE ancestors AS (
		SELECT d.%s, 1 AS depth FROM documents d WHERE d.collection = $1 AND d.id = $2
		UNION ALL
		SELECT d.%s, a.depth + 1 FROM documents d
		JOIN ancestors a ON d.id = a.parent_id AND d.collection = $1
	)
	SELECT %s FROM ancestors ORDER BY depth ASC`,
		strings.ReplaceAll(documentColumns, ", ", ", d."),
		strings.ReplaceAll(documentColumns, ", ", ", d."),
		documentColumns)
	rows, err := r.DB.QueryContext(ctx, q, r.Collection, parentID)
	if err != nil {
		logger.Sugar.Errorf("Failed to walk ancestors of %s: %v", parentID, err)
		return nil, err
	}
	defer rows.Close()

	var chain []*store.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		chain = append(chain, doc)
	}
	return chain, rows.Err()
}

func (r *DocumentRepository) Children(ctx context.Context, parentID string) ([]*store.Document, error) {
	return r.Find(ctx, store.Filter{ParentID: parentID}, store.FindOptions{})
}

func (r *DocumentRepository) Neighbor(ctx context.Context, filter store.Filter, before bool) (*store.Document, error) {
	dir := "ASC"
	if before {
		dir = "DESC"
	}
	var args []any
	q := fmt.Sprintf("SELECT %s FROM documents WHERE %s ORDER BY id %s LIMIT 1", documentColumns, r.where(filter, &args), dir)
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, q, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to find neighbor in %s: %v", r.Collection, err)
		return nil, err
	}
	return doc, nil
}
