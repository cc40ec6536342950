package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docstate/internal/document/model"
	"docstate/store"
)

func TestPageWindow(t *testing.T) {
	skip, limit, page, nav := pageWindow(5, model.Pagination{}, 2)
	assert.Zero(t, skip)
	assert.Equal(t, int64(2), limit)
	assert.Equal(t, int64(1), page)
	assert.Equal(t, int64(1), nav.First)
	assert.Equal(t, int64(3), nav.Last)
	assert.Nil(t, nav.Previous)
	require.NotNil(t, nav.Next)
	assert.Equal(t, int64(2), *nav.Next)

	skip, limit, page, nav = pageWindow(5, model.Pagination{Page: 3}, 2)
	assert.Equal(t, int64(4), skip)
	assert.Equal(t, int64(2), limit)
	assert.Equal(t, int64(3), page)
	require.NotNil(t, nav.Previous)
	assert.Equal(t, int64(2), *nav.Previous)
	assert.Nil(t, nav.Next, "last page has no next")

	// caller page size overrides the default
	_, limit, _, nav = pageWindow(5, model.Pagination{PerPage: 5}, 2)
	assert.Equal(t, int64(5), limit)
	assert.Equal(t, int64(1), nav.Last)

	// an empty collection still reports one page
	_, _, page, nav = pageWindow(0, model.Pagination{}, 2)
	assert.Equal(t, int64(1), page)
	assert.Equal(t, int64(1), nav.Last)
}

func TestParseSort(t *testing.T) {
	assert.Nil(t, parseSort("", "draft"))
	assert.Nil(t, parseSort("  ", "draft"))

	fields := parseSort("data.title", "draft")
	require.Len(t, fields, 1)
	assert.Equal(t, store.SortField{Key: "title", State: "draft"}, fields[0])

	fields = parseSort("-createdAt", "published")
	require.Len(t, fields, 1)
	assert.Equal(t, store.SortField{Key: "createdAt", State: "published", Desc: true}, fields[0])
}
