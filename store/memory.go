package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"docstate/internal/resource"
)

// ErrDuplicateKey is returned when inserting a document whose id already
// exists in the collection.
var ErrDuplicateKey = errors.New("duplicate key")

// Memory is an in-process Store guarded by a single mutex. Every result
// is a deep copy, so callers never alias store memory. Lock acquisition
// happens inside one critical section, which makes it the atomic
// conditional write the lock manager requires.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]*Document
	locks       map[string]*Lock
	users       map[string]*UserRecord
}

func NewMemory() *Memory {
	return &Memory{
		collections: map[string]map[string]*Document{},
		locks:       map[string]*Lock{},
		users:       map[string]*UserRecord{},
	}
}

func (m *Memory) Documents(collection string) DocumentStore {
	return &memoryCollection{mem: m, name: collection}
}

func (m *Memory) Locks() LockStore { return &memoryLocks{mem: m} }

func (m *Memory) Users() UserStore { return &memoryUsers{mem: m} }

// SeedUser inserts or replaces a record in the global users collection.
func (m *Memory) SeedUser(u UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = cloneUserRecord(&u)
}

// collection returns the named collection map. Caller holds the mutex.
func (m *Memory) collection(name string) map[string]*Document {
	c, ok := m.collections[name]
	if !ok {
		c = map[string]*Document{}
		m.collections[name] = c
	}
	return c
}

type memoryCollection struct {
	mem  *Memory
	name string
}

func (c *memoryCollection) matches(filter Filter) []*Document {
	var out []*Document
	for _, doc := range c.mem.collection(c.name) {
		if filter.Matches(doc) {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *memoryCollection) FindOne(ctx context.Context, filter Filter, projection *Projection) (*Document, error) {
	c.mem.mu.Lock()
	defer c.mem.mu.Unlock()
	docs := c.matches(filter)
	if len(docs) == 0 {
		return nil, nil
	}
	return projection.Apply(CloneDocument(docs[0])), nil
}

func (c *memoryCollection) Find(ctx context.Context, filter Filter, opts FindOptions) ([]*Document, error) {
	c.mem.mu.Lock()
	defer c.mem.mu.Unlock()
	docs := c.matches(filter)
	if len(opts.Sort) > 0 {
		sortDocuments(docs, opts.Sort)
	}
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(docs)) {
			docs = nil
		} else {
			docs = docs[opts.Skip:]
		}
	}
	if opts.Limit > 0 && opts.Limit < int64(len(docs)) {
		docs = docs[:opts.Limit]
	}
	out := make([]*Document, 0, len(docs))
	for _, doc := range docs {
		out = append(out, opts.Projection.Apply(CloneDocument(doc)))
	}
	return out, nil
}

func (c *memoryCollection) Count(ctx context.Context, filter Filter) (int64, error) {
	c.mem.mu.Lock()
	defer c.mem.mu.Unlock()
	return int64(len(c.matches(filter))), nil
}

func (c *memoryCollection) InsertOne(ctx context.Context, doc *Document) error {
	c.mem.mu.Lock()
	defer c.mem.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	coll := c.mem.collection(c.name)
	if _, exists := coll[doc.ID]; exists {
		return ErrDuplicateKey
	}
	coll[doc.ID] = CloneDocument(doc)
	return nil
}

func (c *memoryCollection) UpdateOne(ctx context.Context, filter Filter, update UpdateSpec) (int64, error) {
	c.mem.mu.Lock()
	defer c.mem.mu.Unlock()
	docs := c.matches(filter)
	if len(docs) == 0 {
		return 0, nil
	}
	update.Apply(docs[0])
	return 1, nil
}

func (c *memoryCollection) FindOneAndUpdate(ctx context.Context, filter Filter, update UpdateSpec, projection *Projection) (*Document, error) {
	c.mem.mu.Lock()
	defer c.mem.mu.Unlock()
	docs := c.matches(filter)
	if len(docs) == 0 {
		return nil, nil
	}
	update.Apply(docs[0])
	return projection.Apply(CloneDocument(docs[0])), nil
}

func (c *memoryCollection) ReplaceOne(ctx context.Context, id string, doc *Document) error {
	c.mem.mu.Lock()
	defer c.mem.mu.Unlock()
	coll := c.mem.collection(c.name)
	if _, exists := coll[id]; !exists {
		return nil
	}
	replacement := CloneDocument(doc)
	replacement.ID = id
	coll[id] = replacement
	return nil
}

func (c *memoryCollection) DeleteOne(ctx context.Context, filter Filter) (int64, error) {
	c.mem.mu.Lock()
	defer c.mem.mu.Unlock()
	docs := c.matches(filter)
	if len(docs) == 0 {
		return 0, nil
	}
	delete(c.mem.collection(c.name), docs[0].ID)
	return 1, nil
}

func (c *memoryCollection) Ancestors(ctx context.Context, parentID string) ([]*Document, error) {
	c.mem.mu.Lock()
	defer c.mem.mu.Unlock()
	coll := c.mem.collection(c.name)
	var chain []*Document
	visited := map[string]bool{}
	for id := parentID; id != "" && !visited[id]; {
		visited[id] = true
		doc, ok := coll[id]
		if !ok {
			break
		}
		chain = append(chain, CloneDocument(doc))
		id = doc.ParentID
	}
	return chain, nil
}

func (c *memoryCollection) Children(ctx context.Context, parentID string) ([]*Document, error) {
	c.mem.mu.Lock()
	defer c.mem.mu.Unlock()
	docs := c.matches(Filter{ParentID: parentID})
	out := make([]*Document, 0, len(docs))
	for _, doc := range docs {
		out = append(out, CloneDocument(doc))
	}
	return out, nil
}

func (c *memoryCollection) Neighbor(ctx context.Context, filter Filter, before bool) (*Document, error) {
	c.mem.mu.Lock()
	defer c.mem.mu.Unlock()
	docs := c.matches(filter)
	if len(docs) == 0 {
		return nil, nil
	}
	if before {
		return CloneDocument(docs[len(docs)-1]), nil
	}
	return CloneDocument(docs[0]), nil
}

func sortDocuments(docs []*Document, fields []SortField) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			a, b := sortValue(docs[i], f), sortValue(docs[j], f)
			if valuesEqual(a, b) {
				continue
			}
			if f.Desc {
				return lessValue(b, a)
			}
			return lessValue(a, b)
		}
		return false
	})
}

func sortValue(doc *Document, f SortField) any {
	switch f.Key {
	case "", "id":
		return doc.ID
	case "createdAt":
		return doc.States[f.State].CreatedAt
	case "modifiedAt":
		rec := doc.States[f.State]
		if rec.ModifiedAt != nil {
			return *rec.ModifiedAt
		}
		return time.Time{}
	default:
		return doc.States[f.State].Data[f.Key]
	}
}

func valuesEqual(a, b any) bool {
	return !lessValue(a, b) && !lessValue(b, a)
}

func lessValue(a, b any) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av < bv
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Before(bv)
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af < bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

type memoryLocks struct {
	mem *Memory
}

func (l *memoryLocks) findForState(documentID string, state resource.StateName) *Lock {
	var found *Lock
	for _, lock := range l.mem.locks {
		if lock.DocumentID != documentID {
			continue
		}
		if _, ok := lock.States[state]; !ok {
			continue
		}
		if found == nil || lock.ID < found.ID {
			found = lock
		}
	}
	return found
}

func (l *memoryLocks) Acquire(ctx context.Context, documentID string, state resource.StateName, userID string, timeout time.Time) (*Lock, error) {
	l.mem.mu.Lock()
	defer l.mem.mu.Unlock()
	existing := l.findForState(documentID, state)
	if existing == nil {
		lock := &Lock{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			States: map[resource.StateName]LockEntry{
				state: {UserID: userID, Timeout: timeout},
			},
		}
		l.mem.locks[lock.ID] = lock
		return cloneLock(lock), nil
	}
	entry := existing.States[state]
	if entry.UserID == userID || entry.Expired(time.Now()) {
		existing.States[state] = LockEntry{UserID: userID, Timeout: timeout}
		return cloneLock(existing), nil
	}
	return nil, nil
}

func (l *memoryLocks) Get(ctx context.Context, documentID string, state resource.StateName) (*Lock, error) {
	l.mem.mu.Lock()
	defer l.mem.mu.Unlock()
	return cloneLock(l.findForState(documentID, state)), nil
}

func (l *memoryLocks) GetByID(ctx context.Context, id string) (*Lock, error) {
	l.mem.mu.Lock()
	defer l.mem.mu.Unlock()
	return cloneLock(l.mem.locks[id]), nil
}

func (l *memoryLocks) ListByDocument(ctx context.Context, documentID string) ([]*Lock, error) {
	l.mem.mu.Lock()
	defer l.mem.mu.Unlock()
	var out []*Lock
	for _, lock := range l.mem.locks {
		if lock.DocumentID == documentID {
			out = append(out, cloneLock(lock))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *memoryLocks) Delete(ctx context.Context, id string) error {
	l.mem.mu.Lock()
	defer l.mem.mu.Unlock()
	delete(l.mem.locks, id)
	return nil
}

type memoryUsers struct {
	mem *Memory
}

func (u *memoryUsers) FindByID(ctx context.Context, id string) (*UserRecord, error) {
	u.mem.mu.Lock()
	defer u.mem.mu.Unlock()
	return cloneUserRecord(u.mem.users[id]), nil
}

func (u *memoryUsers) PullGroup(ctx context.Context, userID, group string) error {
	u.mem.mu.Lock()
	defer u.mem.mu.Unlock()
	rec, ok := u.mem.users[userID]
	if !ok {
		return nil
	}
	groups := rec.Groups[:0]
	for _, g := range rec.Groups {
		if g != group {
			groups = append(groups, g)
		}
	}
	rec.Groups = groups
	return nil
}

func (u *memoryUsers) Anonymize(ctx context.Context, id string, fields map[string]any) (*UserRecord, error) {
	u.mem.mu.Lock()
	defer u.mem.mu.Unlock()
	rec, ok := u.mem.users[id]
	if !ok || rec.DeletedAt != nil {
		return nil, nil
	}
	for key, value := range fields {
		switch key {
		case "displayName":
			if s, ok := value.(string); ok {
				rec.DisplayName = s
			}
		case "email":
			if s, ok := value.(string); ok {
				rec.Email = s
			}
		default:
			if rec.Infos == nil {
				rec.Infos = map[string]any{}
			}
			rec.Infos[key] = value
		}
	}
	return cloneUserRecord(rec), nil
}
