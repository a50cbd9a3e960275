package collection

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/stevemurr/collection-server/store"
)

// FilterParam is the query parameter carrying an explicit JSON selector.
const FilterParam = "_filter"

// BuildSelector returns the selector matching documents of collection that
// also satisfy the client's filter. A non-empty filter must be a JSON
// object; otherwise every query parameter is an equality clause, and a
// parameter given more than once matches any of its values.
func BuildSelector(collection string, params url.Values, filter string) (map[string]any, error) {
	scope := map[string]any{FieldCollection: collection}

	var q map[string]any
	if filter != "" {
		if err := json.Unmarshal([]byte(filter), &q); err != nil || q == nil {
			return nil, badRequest(msgBadFilter)
		}
	} else {
		q = implicitFilter(params)
	}
	if len(q) == 0 {
		return scope, nil
	}
	return map[string]any{"$and": []any{scope, q}}, nil
}

func implicitFilter(params url.Values) map[string]any {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != FilterParam {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	q := make(map[string]any, len(keys))
	for _, k := range keys {
		vals := params[k]
		switch len(vals) {
		case 0:
		case 1:
			q[k] = vals[0]
		default:
			in := make([]any, len(vals))
			for i, v := range vals {
				in[i] = v
			}
			q[k] = map[string]any{"$in": in}
		}
	}
	return q
}

// List returns the documents of collection matching the query parameters.
// The filter string, when set, replaces the implicit equality clauses.
func (s *Service) List(ctx context.Context, database, collection string, params url.Values, filter string) ([]store.Document, error) {
	sel, err := BuildSelector(collection, params, filter)
	if err != nil {
		return nil, err
	}
	docs, err := s.client.Use(database).Find(ctx, sel)
	if err != nil {
		return nil, fromStore(err)
	}
	return docs, nil
}

// SplitIDs splits a comma separated id path segment.
func SplitIDs(raw string) []string {
	return strings.Split(raw, ",")
}

// Get fetches one document of collection.
func (s *Service) Get(ctx context.Context, database, collection, id string) (store.Document, error) {
	doc, err := s.client.Use(database).Get(ctx, id)
	if err != nil {
		return nil, fromStore(err)
	}
	if !inCollection(doc, collection) {
		return nil, notFound(msgOutOfScope)
	}
	return doc, nil
}

// GetBatch fetches ids in one call. The result has one entry per id in
// request order; an id that does not resolve to a document of collection
// gets a placeholder {_id, _error} in its slot.
func (s *Service) GetBatch(ctx context.Context, database, collection string, ids []string) ([]store.Document, error) {
	rows, err := s.client.Use(database).List(ctx, ids)
	if err != nil {
		return nil, fromStore(err)
	}
	byKey := make(map[string]store.Row, len(rows))
	for _, r := range rows {
		byKey[r.Key] = r
	}
	out := make([]store.Document, 0, len(ids))
	for _, id := range ids {
		r, ok := byKey[id]
		switch {
		case ok && r.Doc != nil && inCollection(r.Doc, collection):
			out = append(out, r.Doc)
		case ok && r.Doc != nil:
			out = append(out, placeholder(id, msgOutOfScope))
		case ok && r.Error != "":
			out = append(out, placeholder(id, r.Error))
		default:
			out = append(out, placeholder(id, "not_found"))
		}
	}
	return out, nil
}

func placeholder(id, reason string) store.Document {
	return store.Document{store.FieldID: id, "_error": reason}
}
