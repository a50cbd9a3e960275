// Package store defines the revisioned document store adapter and its backends.
//
// The store only understands flat databases of documents. Every document
// carries an opaque revision token in "_rev" that changes on each write; a
// write or delete that presents a stale token fails with a 409 conflict.
package store

import "context"

// Reserved document fields.
const (
	FieldID       = "_id"
	FieldRev      = "_rev"
	FieldDeleted  = "_deleted"
	DesignPrefix  = "_design/"
	ReduceCount   = "_count"
	IndexTypeJSON = "json"
	IndexTypeText = "text"
)

// Document is a JSON object as stored in a database.
type Document map[string]any

// ID returns the document identity, or "" if unset.
func (d Document) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

// Rev returns the revision token, or "" if unset.
func (d Document) Rev() string {
	rev, _ := d[FieldRev].(string)
	return rev
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneValue(map[string]any(d)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case Document:
		return cloneValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// WriteResult is the outcome of a single document write.
type WriteResult struct {
	OK     bool   `json:"ok,omitempty"`
	ID     string `json:"id"`
	Rev    string `json:"rev,omitempty"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Row is one entry of a multi-key lookup. Doc is nil when the key did not
// resolve, in which case Error says why.
type Row struct {
	Key   string   `json:"key"`
	Doc   Document `json:"doc,omitempty"`
	Error string   `json:"error,omitempty"`
}

// IndexSpec describes a secondary index. A text index with no fields covers
// every value in the document.
type IndexSpec struct {
	Name   string   `json:"name,omitempty"`
	Type   string   `json:"type"`
	Fields []string `json:"fields,omitempty"`
}

// ViewDef describes a map/reduce view that emits (doc[Field], null) for
// every document carrying a truthy Field and reduces with Reduce.
type ViewDef struct {
	Design string `json:"design"`
	Name   string `json:"name"`
	Field  string `json:"field"`
	Reduce string `json:"reduce"`
}

// ViewRow is one row of a view query.
type ViewRow struct {
	Key   any `json:"key"`
	Value any `json:"value"`
}

// Client is a connection to a store server.
type Client interface {
	// CreateDatabase creates a new, empty database.
	CreateDatabase(ctx context.Context, name string) error

	// ListDatabases returns the names of every database, system ones included.
	ListDatabases(ctx context.Context) ([]string, error)

	// Use returns a handle on a database. It performs no I/O.
	Use(name string) Database

	Close() error
}

// Database is a handle on a single database.
type Database interface {
	// Get returns the current revision of a document.
	Get(ctx context.Context, id string) (Document, error)

	// Insert creates a document, or updates it when doc carries the
	// current "_rev".
	Insert(ctx context.Context, doc Document) (WriteResult, error)

	// BulkInsert writes docs independently; per-document failures are
	// reported in the results rather than as an error.
	BulkInsert(ctx context.Context, docs []Document) ([]WriteResult, error)

	// Destroy deletes the document if rev is its current revision.
	Destroy(ctx context.Context, id, rev string) (WriteResult, error)

	// Find returns every document matching the selector.
	Find(ctx context.Context, selector map[string]any) ([]Document, error)

	// List looks up documents by key, preserving order.
	List(ctx context.Context, keys []string) ([]Row, error)

	CreateIndex(ctx context.Context, spec IndexSpec) error
	DefineView(ctx context.Context, def ViewDef) error
	QueryView(ctx context.Context, design, view string, group bool) ([]ViewRow, error)
}
