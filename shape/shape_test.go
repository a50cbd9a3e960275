package shape

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/collection-server/store"
)

func TestDocStripsBookkeeping(t *testing.T) {
	in := store.Document{
		"_id":          "a",
		"_rev":         "2-abc",
		"_conflicts":   []any{"1-x"},
		"_revisions":   map[string]any{"start": 2.0},
		"_attachments": map[string]any{},
		"collection":   "orders",
		"item":         "x",
	}
	out := Doc(in)
	assert.Equal(t, store.Document{"_id": "a", "collection": "orders", "item": "x"}, out)
	assert.Contains(t, in, "_rev", "input must not be modified")
}

func TestDocsNeverNil(t *testing.T) {
	b, err := json.Marshal(Docs(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(b))

	placeholder := store.Document{"_id": "B", "_error": "not_found"}
	assert.Equal(t, []store.Document{placeholder}, Docs([]store.Document{placeholder}))
}

func TestWriteResults(t *testing.T) {
	got := WriteResults([]store.WriteResult{
		{OK: true, ID: "a", Rev: "1-x"},
		{ID: "b", Error: "conflict", Reason: "Document update conflict."},
	})
	b, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"ok":true,"id":"a"},
		{"id":"b","error":"conflict","reason":"Document update conflict."}
	]`, string(b))
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{}, Names(nil))
	assert.Equal(t, []string{"mydb"}, Names([]string{"mydb"}))
}
