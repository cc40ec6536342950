// Package store defines the storage collaborator boundary of the document
// core: the persistence model, typed filter/projection/update specs, the
// collection interfaces and an in-memory implementation. The PostgreSQL
// implementation lives in internal/document/repository.
package store

import (
	"time"

	"docstate/internal/resource"
)

// StateRecord is one named, independently audited snapshot of a
// document's data.
type StateRecord struct {
	Data       map[string]any `json:"data"`
	CreatedAt  time.Time      `json:"createdAt"`
	CreatedBy  *string        `json:"createdBy"`
	ModifiedAt *time.Time     `json:"modifiedAt,omitempty"`
	ModifiedBy *string        `json:"modifiedBy,omitempty"`
}

// DocumentUser is one entry of a document's own ACL.
type DocumentUser struct {
	UserID      string          `json:"userId"`
	Roles       []resource.Role `json:"roles"`
	AddedAt     time.Time       `json:"addedAt"`
	DisplayName string          `json:"displayName"`
	Infos       map[string]any  `json:"infos,omitempty"`
}

// Document is the stored record. A document holds zero or more state
// snapshots simultaneously; it exists only while States is non-empty.
type Document struct {
	ID         string                                 `json:"id"`
	States     map[resource.StateName]StateRecord     `json:"states"`
	Users      map[string]DocumentUser                `json:"users,omitempty"`
	Groups     []string                               `json:"groups,omitempty"`
	ParentID   string                                 `json:"parentId,omitempty"`
	ModifiedAt *time.Time                             `json:"modifiedAt,omitempty"`
	ModifiedBy *string                                `json:"modifiedBy,omitempty"`
}

// LockEntry is the per-state claim inside a lock record.
type LockEntry struct {
	UserID  string    `json:"userId"`
	Timeout time.Time `json:"timeout"`
}

// Expired reports whether the claim has passed its TTL at now.
func (e LockEntry) Expired(now time.Time) bool {
	return now.After(e.Timeout)
}

// Lock is a lock record: claims for one or more states of one document,
// keyed by state name.
type Lock struct {
	ID         string                             `json:"id"`
	DocumentID string                             `json:"documentId"`
	States     map[resource.StateName]LockEntry   `json:"states"`
}

// UserRecord is an entry of the global users collection, used for creator
// enrichment, the removal dual-write and anonymization.
type UserRecord struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"displayName"`
	Email       string         `json:"email"`
	Groups      []string       `json:"groups,omitempty"`
	DeletedAt   *time.Time     `json:"deletedAt,omitempty"`
	Infos       map[string]any `json:"infos,omitempty"`
}

// CloneDocument deep-copies a document so callers can mutate results
// without aliasing store memory.
func CloneDocument(doc *Document) *Document {
	if doc == nil {
		return nil
	}
	out := &Document{
		ID:         doc.ID,
		ParentID:   doc.ParentID,
		ModifiedAt: copyTime(doc.ModifiedAt),
		ModifiedBy: copyString(doc.ModifiedBy),
	}
	if doc.States != nil {
		out.States = make(map[resource.StateName]StateRecord, len(doc.States))
		for name, rec := range doc.States {
			out.States[name] = CloneStateRecord(rec)
		}
	}
	if doc.Users != nil {
		out.Users = make(map[string]DocumentUser, len(doc.Users))
		for id, u := range doc.Users {
			u.Roles = append([]resource.Role(nil), u.Roles...)
			u.Infos = cloneMap(u.Infos)
			out.Users[id] = u
		}
	}
	out.Groups = append([]string(nil), doc.Groups...)
	return out
}

// CloneStateRecord deep-copies a state snapshot.
func CloneStateRecord(rec StateRecord) StateRecord {
	rec.Data = cloneMap(rec.Data)
	rec.ModifiedAt = copyTime(rec.ModifiedAt)
	rec.ModifiedBy = copyString(rec.ModifiedBy)
	return rec
}

func cloneLock(l *Lock) *Lock {
	if l == nil {
		return nil
	}
	out := &Lock{ID: l.ID, DocumentID: l.DocumentID}
	out.States = make(map[resource.StateName]LockEntry, len(l.States))
	for name, e := range l.States {
		out.States[name] = e
	}
	return out
}

func cloneUserRecord(u *UserRecord) *UserRecord {
	if u == nil {
		return nil
	}
	out := *u
	out.Groups = append([]string(nil), u.Groups...)
	out.DeletedAt = copyTime(u.DeletedAt)
	out.Infos = cloneMap(u.Infos)
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
