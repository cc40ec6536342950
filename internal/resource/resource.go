// Package resource holds the externally supplied schema describing one
// kind of document: its states, permission table, declared fields,
// virtual properties and inheritability. The core consumes it read-only.
package resource

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"docstate/pkg/apierror"
)

// StateName identifies one named lifecycle snapshot of a document.
type StateName string

// Role identifies a permission role. Anonymous requesters hold RolePublic.
type Role string

const (
	RolePublic Role = "public"
	RoleAdmin  Role = "admin"
)

// Verb is an access method in the permission table.
type Verb uint8

const (
	VerbGet Verb = iota + 1
	VerbPost
	VerbPut
	VerbPatch
	VerbDelete
)

// VerbSet is the grant one role holds on one state: either the wildcard
// or an explicit verb list. The zero value grants nothing.
type VerbSet struct {
	all   bool
	verbs map[Verb]struct{}
}

// AllVerbs is the wildcard grant.
func AllVerbs() VerbSet {
	return VerbSet{all: true}
}

// Verbs builds an explicit grant.
func Verbs(vs ...Verb) VerbSet {
	set := make(map[Verb]struct{}, len(vs))
	for _, v := range vs {
		set[v] = struct{}{}
	}
	return VerbSet{verbs: set}
}

// Allows reports whether the grant covers v. A zero verb means "any
// method": the mere presence of a grant is enough.
func (s VerbSet) Allows(v Verb) bool {
	if v == 0 || s.all {
		return true
	}
	_, ok := s.verbs[v]
	return ok
}

// IsZero reports whether the set grants nothing at all.
func (s VerbSet) IsZero() bool {
	return !s.all && len(s.verbs) == 0
}

// State is the per-state configuration. Validate gates schema validation
// on writes targeting the state.
type State struct {
	Validate bool
}

// Validator is the external schema-validation engine boundary. A nil or
// empty result means the payload passed.
type Validator interface {
	Validate(data map[string]any) []apierror.FieldError
}

// VirtualFunc computes a virtual property from the existing data. It must
// be pure: evaluated fresh on every read, never persisted.
type VirtualFunc func(data map[string]any) any

// Resource describes one document kind.
type Resource struct {
	Label         string
	Collection    string
	States        map[StateName]State
	DefaultState  StateName
	Permissions   map[Role]map[StateName]VerbSet
	Fields        []string
	Virtuals      map[string]VirtualFunc
	IsInheritable bool
	Validator     Validator
	PerPage       int64
}

// ResolveState falls back to the resource default when the caller did not
// name a state.
func (r *Resource) ResolveState(name StateName) StateName {
	if name == "" {
		return r.DefaultState
	}
	return name
}

// HasState reports whether the state is declared on the resource.
func (r *Resource) HasState(name StateName) bool {
	_, ok := r.States[name]
	return ok
}

// ShouldValidate reports whether writes targeting the state must pass the
// validator. Unknown states never validate, matching the reference
// fallback for undeclared names.
func (r *Resource) ShouldValidate(name StateName) bool {
	return r.States[name].Validate
}

// Validate runs the external validator when the target state requires it.
func (r *Resource) Validate(data map[string]any, state StateName) error {
	if !r.ShouldValidate(state) || r.Validator == nil {
		return nil
	}
	if errs := r.Validator.Validate(data); len(errs) > 0 {
		return &apierror.ValidationError{Errors: errs}
	}
	return nil
}

// ApplyVirtuals computes every virtual property into data.
func (r *Resource) ApplyVirtuals(data map[string]any) {
	if data == nil {
		return
	}
	for name, compute := range r.Virtuals {
		data[name] = compute(data)
	}
}

// StripVirtuals removes virtual property keys from incoming data. Virtual
// properties are always derived, never accepted as input.
func (r *Resource) StripVirtuals(data map[string]any) {
	for name := range r.Virtuals {
		delete(data, name)
	}
}

// VirtualExpr compiles an expression into a virtual property function.
// Missing fields evaluate as nil rather than failing the whole read.
func VirtualExpr(src string) (VirtualFunc, error) {
	prog, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	return func(data map[string]any) any {
		out, err := runProgram(prog, data)
		if err != nil {
			return nil
		}
		return out
	}, nil
}

// MustVirtualExpr is VirtualExpr for statically known expressions.
func MustVirtualExpr(src string) VirtualFunc {
	fn, err := VirtualExpr(src)
	if err != nil {
		panic(err)
	}
	return fn
}

func runProgram(prog *vm.Program, data map[string]any) (any, error) {
	env := map[string]any(data)
	if env == nil {
		env = map[string]any{}
	}
	return expr.Run(prog, env)
}
