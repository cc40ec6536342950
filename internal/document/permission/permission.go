// Package permission computes which document states a requester may see
// or mutate. It is pure: no I/O, no stored state.
package permission

import (
	"docstate/internal/document/model"
	"docstate/internal/resource"
	"docstate/store"
)

// StatesForRoles evaluates the resource's static permission table: a
// state is included when any of the roles holds the wildcard on it or,
// for a non-zero verb, a grant listing that verb.
func StatesForRoles(roles []resource.Role, r *resource.Resource, verb resource.Verb) []resource.StateName {
	seen := map[resource.StateName]bool{}
	var allowed []resource.StateName
	for _, role := range roles {
		grants, ok := r.Permissions[role]
		if !ok {
			continue
		}
		for state := range r.States {
			grant, ok := grants[state]
			if !ok || seen[state] {
				continue
			}
			if grant.Allows(verb) {
				seen[state] = true
				allowed = append(allowed, state)
			}
		}
	}
	return allowed
}

// AllowedStates returns the union of the role-table grants and, when a
// document is supplied, the grants its own ACL gives the requester. The
// two sources carry equal weight: either alone is sufficient.
func AllowedStates(user *model.User, r *resource.Resource, verb resource.Verb, doc *store.Document) []resource.StateName {
	allowed := StatesForRoles(user.RoleNames(), r, verb)
	if doc == nil || user == nil {
		return allowed
	}
	entry, ok := doc.Users[user.ID]
	if !ok {
		return allowed
	}
	seen := map[resource.StateName]bool{}
	for _, s := range allowed {
		seen[s] = true
	}
	for _, s := range StatesForRoles(entry.Roles, r, verb) {
		if !seen[s] {
			seen[s] = true
			allowed = append(allowed, s)
		}
	}
	return allowed
}

// Contains reports whether the state is in the allowed set.
func Contains(states []resource.StateName, state resource.StateName) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

// FilterDocumentStates returns exactly the snapshots that are present on
// the document, allowed for the user and explicitly requested.
func FilterDocumentStates(doc *store.Document, allowed, requested []resource.StateName) map[resource.StateName]store.StateRecord {
	out := map[resource.StateName]store.StateRecord{}
	if doc == nil {
		return out
	}
	for _, state := range requested {
		rec, present := doc.States[state]
		if !present || !Contains(allowed, state) {
			continue
		}
		out[state] = rec
	}
	return out
}
