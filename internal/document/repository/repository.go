// Package repository implements the store interfaces on PostgreSQL.
// Documents live as JSONB rows keyed by (collection, id); ancestor
// traversal is a recursive CTE and lock acquisition is a single
// conditional insert, so no read-then-write window exists.
package repository

import (
	"database/sql"

	"docstate/store"
)

// Store adapts a *sql.DB to the storage collaborator boundary.
type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) Documents(collection string) store.DocumentStore {
	return &DocumentRepository{DB: s.DB, Collection: collection}
}

func (s *Store) Locks() store.LockStore { return &LockRepository{DB: s.DB} }

func (s *Store) Users() store.UserStore { return &UserRepository{DB: s.DB} }

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection  text NOT NULL,
	id          text NOT NULL,
	states      jsonb NOT NULL DEFAULT '{}'::jsonb,
	users       jsonb NOT NULL DEFAULT '{}'::jsonb,
	groups      text[] NOT NULL DEFAULT '{}',
	parent_id   text,
	modified_at timestamptz,
	modified_by text,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_parent_idx ON documents (collection, parent_id);
CREATE TABLE IF NOT EXISTS locks (
	id          text PRIMARY KEY,
	document_id text NOT NULL,
	state       text NOT NULL,
	user_id     text NOT NULL,
	timeout     timestamptz NOT NULL,
	UNIQUE (document_id, state)
);
CREATE TABLE IF NOT EXISTS users (
	id           text PRIMARY KEY,
	display_name text NOT NULL DEFAULT '',
	email        text NOT NULL DEFAULT '',
	groups       text[] NOT NULL DEFAULT '{}',
	deleted_at   timestamptz,
	infos        jsonb NOT NULL DEFAULT '{}'::jsonb
);`

// EnsureSchema creates the tables the repositories expect.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
