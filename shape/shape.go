// Package shape turns store results into the bodies sent to clients.
package shape

import "github.com/stevemurr/collection-server/store"

// bookkeeping lists the store's internal fields that clients never see.
var bookkeeping = []string{
	store.FieldRev,
	"_attachments",
	"_conflicts",
	"_deleted_conflicts",
	"_local_seq",
	"_revs_info",
	"_revisions",
}

// Doc returns a copy of doc without the store's bookkeeping fields.
func Doc(doc store.Document) store.Document {
	if doc == nil {
		return store.Document{}
	}
	out := make(store.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	for _, f := range bookkeeping {
		delete(out, f)
	}
	return out
}

// Docs shapes each document. The result is never nil.
func Docs(docs []store.Document) []store.Document {
	out := make([]store.Document, len(docs))
	for i, d := range docs {
		out[i] = Doc(d)
	}
	return out
}

// Write is the client view of one write outcome.
type Write struct {
	OK     bool   `json:"ok,omitempty"`
	ID     string `json:"id"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// WriteResult drops the revision from a write outcome.
func WriteResult(res store.WriteResult) Write {
	if res.Error != "" {
		return Write{ID: res.ID, Error: res.Error, Reason: res.Reason}
	}
	return Write{OK: true, ID: res.ID}
}

// WriteResults shapes a bulk write, one entry per submitted document.
func WriteResults(res []store.WriteResult) []Write {
	out := make([]Write, len(res))
	for i, r := range res {
		out[i] = WriteResult(r)
	}
	return out
}

// Names returns names, or an empty list when there are none.
func Names(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
