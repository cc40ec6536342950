package store

import (
	"reflect"
	"time"

	"docstate/internal/resource"
)

// Filter selects documents. Zero-valued conditions are ignored; set
// conditions are combined with AND.
type Filter struct {
	ID          string
	IDBefore    string // primary key strictly below
	IDAfter     string // primary key strictly above
	ParentID    string
	StateExists resource.StateName
	StatesEmpty bool // matches only documents whose states map is empty
	DataState   resource.StateName
	Data        map[string]any // equality under states.<DataState>.data.<key>
}

// Matches evaluates the filter against a document in memory.
func (f Filter) Matches(doc *Document) bool {
	if doc == nil {
		return false
	}
	if f.ID != "" && doc.ID != f.ID {
		return false
	}
	if f.IDBefore != "" && doc.ID >= f.IDBefore {
		return false
	}
	if f.IDAfter != "" && doc.ID <= f.IDAfter {
		return false
	}
	if f.ParentID != "" && doc.ParentID != f.ParentID {
		return false
	}
	if f.StateExists != "" {
		if _, ok := doc.States[f.StateExists]; !ok {
			return false
		}
	}
	if f.StatesEmpty && len(doc.States) > 0 {
		return false
	}
	for key, want := range f.Data {
		rec, ok := doc.States[f.DataState]
		if !ok {
			return false
		}
		got, ok := rec.Data[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// StateProjection selects what to expose for one state: its audit fields
// and, optionally, declared data fields.
type StateProjection struct {
	Audit  bool
	Fields []string
}

// Projection limits what FindOne/Find return. A nil *Projection returns
// the full document. Users selects only the ACL map; otherwise States
// keys the id plus the projected states.
type Projection struct {
	Users  bool
	States map[resource.StateName]StateProjection
}

// Apply trims a document copy down to the projection.
func (p *Projection) Apply(doc *Document) *Document {
	if p == nil {
		return doc
	}
	out := &Document{ID: doc.ID}
	if p.Users {
		out.Users = doc.Users
		return out
	}
	out.States = make(map[resource.StateName]StateRecord, len(p.States))
	for name, sp := range p.States {
		rec, ok := doc.States[name]
		if !ok {
			continue
		}
		projected := StateRecord{}
		if sp.Audit {
			projected.CreatedAt = rec.CreatedAt
			projected.CreatedBy = rec.CreatedBy
			projected.ModifiedAt = rec.ModifiedAt
			projected.ModifiedBy = rec.ModifiedBy
		}
		if len(sp.Fields) > 0 {
			projected.Data = make(map[string]any, len(sp.Fields))
			for _, field := range sp.Fields {
				if v, ok := rec.Data[field]; ok {
					projected.Data[field] = v
				}
			}
		}
		out.States[name] = projected
	}
	return out
}

// UpdateSpec is a single-document update. Exactly one family of fields is
// set by each Query Builder operation: a data write, a state rename, a
// state unset, or an ACL mutation.
type UpdateSpec struct {
	State      resource.StateName
	SetData    map[string]any // replaces the state's whole data object
	MergeData  map[string]any // merges only the provided fields
	ModifiedAt time.Time
	ModifiedBy *string

	RenameFrom     resource.StateName
	RenameTo       resource.StateName
	RootModifiedAt time.Time
	RootModifiedBy *string

	UnsetState resource.StateName

	SetUser   *DocumentUser
	UnsetUser string
}

// Apply mutates the document in place according to the spec. Both store
// implementations funnel their single-document writes through this, so
// update semantics cannot drift between them.
func (u UpdateSpec) Apply(doc *Document) {
	if u.RenameFrom != "" && u.RenameTo != "" {
		if rec, ok := doc.States[u.RenameFrom]; ok {
			delete(doc.States, u.RenameFrom)
			doc.States[u.RenameTo] = rec
		}
		t := u.RootModifiedAt
		doc.ModifiedAt = &t
		doc.ModifiedBy = copyString(u.RootModifiedBy)
	}
	if u.SetData != nil || u.MergeData != nil {
		if doc.States == nil {
			doc.States = map[resource.StateName]StateRecord{}
		}
		rec := doc.States[u.State]
		if u.SetData != nil {
			rec.Data = cloneMap(u.SetData)
		} else {
			if rec.Data == nil {
				rec.Data = map[string]any{}
			}
			for k, v := range u.MergeData {
				rec.Data[k] = v
			}
		}
		t := u.ModifiedAt
		rec.ModifiedAt = &t
		rec.ModifiedBy = copyString(u.ModifiedBy)
		doc.States[u.State] = rec
	}
	if u.UnsetState != "" {
		delete(doc.States, u.UnsetState)
	}
	if u.SetUser != nil {
		if doc.Users == nil {
			doc.Users = map[string]DocumentUser{}
		}
		doc.Users[u.SetUser.UserID] = *u.SetUser
	}
	if u.UnsetUser != "" {
		delete(doc.Users, u.UnsetUser)
	}
}

// SortField orders results. Key is "id", an audit field name, or a data
// field name scoped by State. The zero Sort in FindOptions means primary
// key ascending.
type SortField struct {
	Key   string
	State resource.StateName
	Desc  bool
}

// FindOptions carries sort, pagination window and projection for Find.
type FindOptions struct {
	Sort       []SortField
	Skip       int64
	Limit      int64
	Projection *Projection
}
