package service

import (
	"strings"

	"docstate/internal/document/model"
	"docstate/internal/resource"
	"docstate/store"
)

// pageWindow computes the skip/limit window and the navigation block for
// a list of count documents.
func pageWindow(count int64, p model.Pagination, perPage int64) (skip, limit, page int64, nav model.Nav) {
	if p.PerPage > 0 {
		perPage = p.PerPage
	}
	page = p.Page
	if page < 1 {
		page = 1
	}
	skip = (page - 1) * perPage
	limit = perPage

	last := (count + perPage - 1) / perPage
	if last < 1 {
		last = 1
	}
	nav = model.Nav{First: 1, Last: last}
	if page > 1 {
		previous := page - 1
		nav.Previous = &previous
	}
	if page < last {
		next := page + 1
		nav.Next = &next
	}
	return skip, limit, page, nav
}

// parseSort turns a caller sort key into a store sort. A leading "-"
// sorts descending; keys prefixed "data." are rewritten under the
// current state's data.
func parseSort(sort string, state resource.StateName) []store.SortField {
	sort = strings.TrimSpace(sort)
	if sort == "" {
		return nil
	}
	field := store.SortField{State: state}
	if strings.HasPrefix(sort, "-") {
		field.Desc = true
		sort = sort[1:]
	}
	field.Key = strings.TrimPrefix(sort, "data.")
	return []store.SortField{field}
}

// defaultSort is the stable primary-key ordering used when the caller
// supplies no explicit sort.
func defaultSort() []store.SortField {
	return []store.SortField{{Key: "id"}}
}
