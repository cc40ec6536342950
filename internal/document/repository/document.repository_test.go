package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docstate/internal/resource"
	"docstate/store"
)

const statesJSON = `{"draft":{"data":{"title":"hello"},"createdAt":"2024-01-01T00:00:00Z","createdBy":"u1"}}`

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func documentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "states", "users", "groups", "parent_id", "modified_at", "modified_by"}).
		AddRow("d1", []byte(statesJSON), []byte(`{}`), "{g1,g2}", nil, nil, nil)
}

func TestFindOne(t *testing.T) {
	db, mock := newMock(t)
	repo := &DocumentRepository{DB: db, Collection: "articles"}

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT id, states, users, groups, parent_id, modified_at, modified_by FROM documents WHERE collection = $1 AND id = $2 ORDER BY id ASC LIMIT 1")).
		WithArgs("articles", "d1").
		WillReturnRows(documentRows())

	doc, err := repo.FindOne(context.Background(), store.Filter{ID: "d1"}, nil)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "d1", doc.ID)
	assert.Equal(t, "hello", doc.States["draft"].Data["title"])
	require.NotNil(t, doc.States["draft"].CreatedBy)
	assert.Equal(t, "u1", *doc.States["draft"].CreatedBy)
	assert.Equal(t, []string{"g1", "g2"}, doc.Groups)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOneNoRows(t *testing.T) {
	db, mock := newMock(t)
	repo := &DocumentRepository{DB: db, Collection: "articles"}

	mock.ExpectQuery("SELECT id, states, users").WillReturnError(sql.ErrNoRows)

	doc, err := repo.FindOne(context.Background(), store.Filter{ID: "missing"}, nil)
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWhereBuildsConditions(t *testing.T) {
	repo := &DocumentRepository{Collection: "articles"}

	var args []any
	clause := repo.where(store.Filter{
		ID:          "d1",
		ParentID:    "p1",
		StateExists: "draft",
		DataState:   "draft",
		Data:        map[string]any{"title": "hello"},
	}, &args)

	assert.Equal(t,
		"collection = $1 AND id = $2 AND parent_id = $3 AND jsonb_exists(states, $4) AND states @> $5::jsonb",
		clause)
	require.Len(t, args, 5)
	assert.Equal(t, "articles", args[0])
	assert.JSONEq(t, `{"draft":{"data":{"title":"hello"}}}`, args[4].(string))

	args = nil
	clause = repo.where(store.Filter{ID: "d1", StatesEmpty: true}, &args)
	assert.Equal(t, "collection = $1 AND id = $2 AND states = '{}'::jsonb", clause)
}

func TestOrderBy(t *testing.T) {
	assert.Equal(t, "id ASC", orderBy(nil))
	assert.Equal(t, "id ASC", orderBy([]store.SortField{{Key: "id"}}))
	assert.Equal(t, "states #>> '{draft,createdAt}' DESC",
		orderBy([]store.SortField{{Key: "createdAt", State: "draft", Desc: true}}))
	assert.Equal(t, "states #>> '{draft,data,title}' ASC",
		orderBy([]store.SortField{{Key: "title", State: "draft"}}))
	// path metacharacters are stripped, not quoted
	assert.Equal(t, "states #>> '{draft,data,ti}' ASC",
		orderBy([]store.SortField{{Key: "t'i{,}", State: "draft"}}))
}

func TestCount(t *testing.T) {
	db, mock := newMock(t)
	repo := &DocumentRepository{DB: db, Collection: "articles"}

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT COUNT(*) FROM documents WHERE collection = $1 AND jsonb_exists(states, $2)")).
		WithArgs("articles", "draft").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.Count(context.Background(), store.Filter{StateExists: "draft"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOneAssignsID(t *testing.T) {
	db, mock := newMock(t)
	repo := &DocumentRepository{DB: db, Collection: "articles"}

	mock.ExpectExec("INSERT INTO documents").
		WillReturnResult(sqlmock.NewResult(0, 1))

	doc := &store.Document{States: map[resource.StateName]store.StateRecord{
		"draft": {CreatedAt: time.Now()},
	}}
	require.NoError(t, repo.InsertOne(context.Background(), doc))
	assert.NotEmpty(t, doc.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOneAppliesInTx(t *testing.T) {
	db, mock := newMock(t)
	repo := &DocumentRepository{DB: db, Collection: "articles"}

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("articles", "d1").
		WillReturnRows(documentRows())
	mock.ExpectExec("UPDATE documents SET states").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := repo.UpdateOne(context.Background(), store.Filter{ID: "d1"}, store.UpdateSpec{
		State:      "draft",
		SetData:    map[string]any{"title": "v2"},
		ModifiedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOneMissRollsBack(t *testing.T) {
	db, mock := newMock(t)
	repo := &DocumentRepository{DB: db, Collection: "articles"}

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	n, err := repo.UpdateOne(context.Background(), store.Filter{ID: "missing"}, store.UpdateSpec{
		State:   "draft",
		SetData: map[string]any{},
	})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOne(t *testing.T) {
	db, mock := newMock(t)
	repo := &DocumentRepository{DB: db, Collection: "articles"}

	mock.ExpectExec(regexp.QuoteMeta(
		"DELETE FROM documents WHERE ctid IN (SELECT ctid FROM documents WHERE collection = $1 AND id = $2 AND states = '{}'::jsonb ORDER BY id ASC LIMIT 1)")).
		WithArgs("articles", "d1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.DeleteOne(context.Background(), store.Filter{ID: "d1", StatesEmpty: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAncestorsOrder(t *testing.T) {
	db, mock := newMock(t)
	repo := &DocumentRepository{DB: db, Collection: "pages"}

	rows := sqlmock.NewRows([]string{"id", "states", "users", "groups", "parent_id", "modified_at", "modified_by"}).
		AddRow("b", []byte(`{}`), []byte(`{}`), "{}", "a", nil, nil).
		AddRow("a", []byte(`{}`), []byte(`{}`), "{}", nil, nil, nil)
	mock.ExpectQuery("WITH RECURSIVE ancestors").
		WithArgs("pages", "b").
		WillReturnRows(rows)

	chain, err := repo.Ancestors(context.Background(), "b")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "b", chain[0].ID, "nearest ancestor first")
	assert.Equal(t, "a", chain[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockAcquire(t *testing.T) {
	db, mock := newMock(t)
	repo := &LockRepository{DB: db}
	timeout := time.Now().Add(time.Minute)

	mock.ExpectQuery("INSERT INTO locks").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("lock-1"))

	lock, err := repo.Acquire(context.Background(), "d1", "draft", "u1", timeout)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "lock-1", lock.ID)
	assert.Equal(t, "u1", lock.States["draft"].UserID)

	// the conditional write returns no row when another user holds a
	// live claim
	mock.ExpectQuery("INSERT INTO locks").WillReturnError(sql.ErrNoRows)
	lock, err = repo.Acquire(context.Background(), "d1", "draft", "u2", timeout)
	require.NoError(t, err)
	assert.Nil(t, lock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserPullGroup(t *testing.T) {
	db, mock := newMock(t)
	repo := &UserRepository{DB: db}

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE users SET groups = array_remove(groups, $2) WHERE id = $1")).
		WithArgs("u1", "articles_d1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.PullGroup(context.Background(), "u1", "articles_d1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserAnonymize(t *testing.T) {
	db, mock := newMock(t)
	repo := &UserRepository{DB: db}

	rows := sqlmock.NewRows([]string{"id", "display_name", "email", "groups", "deleted_at", "infos"}).
		AddRow("u1", "deleted user", "deleted@example.com", "{}", nil, []byte(`{}`))
	mock.ExpectQuery("UPDATE users SET").WillReturnRows(rows)

	rec, err := repo.Anonymize(context.Background(), "u1", map[string]any{
		"displayName": "deleted user",
		"email":       "deleted@example.com",
	})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "deleted user", rec.DisplayName)

	// soft-deleted or missing records produce no row
	mock.ExpectQuery("UPDATE users SET").WillReturnError(sql.ErrNoRows)
	rec, err = repo.Anonymize(context.Background(), "u2", nil)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserFindByIDNoRows(t *testing.T) {
	db, mock := newMock(t)
	repo := &UserRepository{DB: db}

	mock.ExpectQuery("SELECT id, display_name").WillReturnError(sql.ErrNoRows)

	rec, err := repo.FindByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}
