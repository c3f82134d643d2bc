package graphapi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pagedBody = []byte(`{
  "data": [
    {"id": "1", "name": "first", "tags": ["a", "b"]},
    {"id": "2", "name": "second", "tags": []},
    {"id": "3", "name": "third", "action.type": "click"}
  ],
  "paging": {
    "cursors": {"before": "QVFIUk", "after": "QVFIUl"},
    "next": "https://graph.facebook.com/v16.0/act_1/ads?after=QVFIUl"
  }
}`)

func TestCompilePath(t *testing.T) {

	valid := []string{"$", "$.data", "$.data[*]", "$.paging.cursors.after", "$['data'][0]", `$["paging"].cursors`, "$.data.*", "$.data[-1].id"}
	for _, expr := range valid {
		p, err := CompilePath(expr)
		assert.NoError(t, err, expr)
		assert.Equal(t, expr, p.String())
	}

	invalid := []string{"", "data", "$.", "$..data", "$.data[", "$.data[x]", "$data"}
	for _, expr := range invalid {
		_, err := CompilePath(expr)
		assert.True(t, errors.Is(err, ErrInvalidJSONPath), expr)
	}

	assert.Panics(t, func() { MustCompilePath("data") })
}

func TestPathFind(t *testing.T) {

	matches := MustCompilePath("$.data[*]").Find(pagedBody)
	require.Len(t, matches, 3)
	assert.Equal(t, "1", matches[0].Get("id").String())
	assert.Equal(t, "2", matches[1].Get("id").String())
	assert.Equal(t, "3", matches[2].Get("id").String())

	cursor, ok := MustCompilePath("$.paging.cursors.after").First(pagedBody)
	assert.True(t, ok)
	assert.Equal(t, "QVFIUl", cursor.String())

	names := MustCompilePath("$.data[*].name").Find(pagedBody)
	require.Len(t, names, 3)
	assert.Equal(t, "third", names[2].String())

	last, ok := MustCompilePath("$.data[-1].id").First(pagedBody)
	assert.True(t, ok)
	assert.Equal(t, "3", last.String())

	tags := MustCompilePath("$.data[*].tags[*]").Find(pagedBody)
	require.Len(t, tags, 2)
	assert.Equal(t, "a", tags[0].String())

	dotted, ok := MustCompilePath("$.data[2]['action.type']").First(pagedBody)
	assert.True(t, ok)
	assert.Equal(t, "click", dotted.String())

	cursors := MustCompilePath("$.paging.cursors.*").Find(pagedBody)
	assert.Len(t, cursors, 2)

	root := MustCompilePath("$").Find(pagedBody)
	assert.Len(t, root, 1)

	assert.Empty(t, MustCompilePath("$.paging.cursors.nope").Find(pagedBody))
	assert.Empty(t, MustCompilePath("$.data[7]").Find(pagedBody))
	assert.Empty(t, MustCompilePath("$.data.id").Find(pagedBody))
	assert.Empty(t, MustCompilePath("$.data[*]").Find([]byte(`{"data": []}`)))
	assert.Empty(t, MustCompilePath("$").Find(nil))

	_, ok = MustCompilePath("$.paging.cursors.after").First([]byte(`{"data": []}`))
	assert.False(t, ok)
}
