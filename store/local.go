package store

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/stevemurr/collection-server/selector"
)

// backend is the persistence layer under the local revisioned engine. A
// backend only stores records; revision checks, selectors and views are
// implemented once in localDatabase.
type backend interface {
	createDatabase(name string) error
	listDatabases() ([]string, error)
	open(name string) (table, error)
	close() error
}

// table holds the records of one database.
type table interface {
	// get returns nil when the id has never been written.
	get(id string) (*record, error)
	put(id string, rec *record) error
	scan(fn func(id string, rec *record) error) error
	// getMeta returns nil when the key is absent.
	getMeta(key string) ([]byte, error)
	putMeta(key string, value []byte) error
}

// record is a stored document revision. Deleted records are tombstones and
// carry no body.
type record struct {
	Rev     string   `json:"rev"`
	Deleted bool     `json:"deleted,omitempty"`
	Body    Document `json:"body,omitempty"`
}

func (r *record) document(id string) Document {
	doc := r.Body.Clone()
	if doc == nil {
		doc = Document{}
	}
	doc[FieldID] = id
	doc[FieldRev] = r.Rev
	return doc
}

var validDatabaseName = regexp.MustCompile(`^[a-z][a-z0-9_$()+-]*$`)

func errIllegalName() *Error {
	return newError(http.StatusBadRequest, "illegal_database_name",
		"Name must begin with a letter and contain only lowercase letters, digits and _$()+-")
}

// localClient implements Client on top of a backend, serializing access to
// each database with its own mutex.
type localClient struct {
	backend backend

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLocalClient(b backend) *localClient {
	return &localClient{backend: b, locks: make(map[string]*sync.Mutex)}
}

func (c *localClient) lock(name string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[name]
	if !ok {
		l = &sync.Mutex{}
		c.locks[name] = l
	}
	return l
}

func (c *localClient) CreateDatabase(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validDatabaseName.MatchString(name) {
		return errIllegalName()
	}
	l := c.lock(name)
	l.Lock()
	defer l.Unlock()
	return c.backend.createDatabase(name)
}

func (c *localClient) ListDatabases(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names, err := c.backend.listDatabases()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (c *localClient) Use(name string) Database {
	return &localDatabase{client: c, name: name}
}

func (c *localClient) Close() error {
	return c.backend.close()
}

type localDatabase struct {
	client *localClient
	name   string
}

func (d *localDatabase) withTable(ctx context.Context, fn func(t table) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validDatabaseName.MatchString(d.name) {
		return errIllegalName()
	}
	l := d.client.lock(d.name)
	l.Lock()
	defer l.Unlock()
	t, err := d.client.backend.open(d.name)
	if err != nil {
		return err
	}
	return fn(t)
}

func (d *localDatabase) Get(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := d.withTable(ctx, func(t table) error {
		rec, err := t.get(id)
		if err != nil {
			return err
		}
		switch {
		case rec == nil:
			return errMissing()
		case rec.Deleted:
			return errDeleted()
		}
		doc = rec.document(id)
		return nil
	})
	return doc, err
}

func (d *localDatabase) Insert(ctx context.Context, doc Document) (WriteResult, error) {
	var res WriteResult
	err := d.withTable(ctx, func(t table) error {
		var err error
		res, err = writeDoc(t, doc)
		return err
	})
	return res, err
}

func (d *localDatabase) BulkInsert(ctx context.Context, docs []Document) ([]WriteResult, error) {
	results := make([]WriteResult, 0, len(docs))
	err := d.withTable(ctx, func(t table) error {
		for _, doc := range docs {
			res, err := writeDoc(t, doc)
			var se *Error
			if errors.As(err, &se) {
				res = WriteResult{ID: doc.ID(), Error: se.Msg, Reason: se.Reason}
			} else if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	return results, err
}

// writeDoc applies CouchDB write rules: a live document can only be
// replaced by presenting its current revision, a new or deleted one only
// without a stale revision.
func writeDoc(t table, doc Document) (WriteResult, error) {
	body := doc.Clone()
	if body == nil {
		body = Document{}
	}
	id := body.ID()
	if id == "" {
		id = newDocID()
	}
	if strings.HasPrefix(id, "_") {
		return WriteResult{}, errBadRequest("Only reserved document ids may start with underscore.")
	}
	rev := body.Rev()
	deleted, _ := body[FieldDeleted].(bool)
	delete(body, FieldID)
	delete(body, FieldRev)
	delete(body, FieldDeleted)

	cur, err := t.get(id)
	if err != nil {
		return WriteResult{}, err
	}
	var prev string
	switch {
	case cur == nil:
		if deleted {
			return WriteResult{}, errMissing()
		}
		if rev != "" {
			return WriteResult{}, errConflict()
		}
	case cur.Deleted:
		if rev != "" && rev != cur.Rev {
			return WriteResult{}, errConflict()
		}
		prev = cur.Rev
	default:
		if rev != cur.Rev {
			return WriteResult{}, errConflict()
		}
		prev = cur.Rev
	}

	rec := &record{Deleted: deleted}
	if !deleted {
		rec.Body = body
	}
	rec.Rev = nextRevision(prev, rec.Body, deleted)
	if err := t.put(id, rec); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{OK: true, ID: id, Rev: rec.Rev}, nil
}

func (d *localDatabase) Destroy(ctx context.Context, id, rev string) (WriteResult, error) {
	var res WriteResult
	err := d.withTable(ctx, func(t table) error {
		cur, err := t.get(id)
		if err != nil {
			return err
		}
		switch {
		case cur == nil:
			return errMissing()
		case cur.Deleted:
			return errDeleted()
		case cur.Rev != rev:
			return errConflict()
		}
		tomb := &record{Rev: nextRevision(cur.Rev, nil, true), Deleted: true}
		if err := t.put(id, tomb); err != nil {
			return err
		}
		res = WriteResult{OK: true, ID: id, Rev: tomb.Rev}
		return nil
	})
	return res, err
}

func (d *localDatabase) Find(ctx context.Context, sel map[string]any) ([]Document, error) {
	s, err := selector.Compile(sel)
	if err != nil {
		return nil, errBadRequest(err.Error())
	}
	docs := []Document{}
	err = d.withTable(ctx, func(t table) error {
		return t.scan(func(id string, rec *record) error {
			if rec.Deleted {
				return nil
			}
			doc := rec.document(id)
			if s.Match(doc) {
				docs = append(docs, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })
	return docs, nil
}

func (d *localDatabase) List(ctx context.Context, keys []string) ([]Row, error) {
	rows := make([]Row, 0, len(keys))
	err := d.withTable(ctx, func(t table) error {
		for _, key := range keys {
			rec, err := t.get(key)
			if err != nil {
				return err
			}
			switch {
			case rec == nil:
				rows = append(rows, Row{Key: key, Error: "not_found"})
			case rec.Deleted:
				rows = append(rows, Row{Key: key, Error: "deleted"})
			default:
				rows = append(rows, Row{Key: key, Doc: rec.document(key)})
			}
		}
		return nil
	})
	return rows, err
}

func indexName(spec IndexSpec) string {
	if spec.Name != "" {
		return spec.Name
	}
	return strings.Join(append([]string{spec.Type}, spec.Fields...), "-")
}

func (d *localDatabase) CreateIndex(ctx context.Context, spec IndexSpec) error {
	switch spec.Type {
	case IndexTypeJSON:
		if len(spec.Fields) == 0 {
			return errBadRequest("json index requires at least one field")
		}
	case IndexTypeText:
	default:
		return errBadRequest("unknown index type " + spec.Type)
	}
	return d.withTable(ctx, func(t table) error {
		key := "index:" + indexName(spec)
		existing, err := t.getMeta(key)
		if err != nil || existing != nil {
			return err
		}
		b, err := json.Marshal(spec)
		if err != nil {
			return err
		}
		return t.putMeta(key, b)
	})
}

func viewKey(design, view string) string {
	return "view:" + design + "/" + view
}

func (d *localDatabase) DefineView(ctx context.Context, def ViewDef) error {
	if def.Field == "" || def.Design == "" || def.Name == "" {
		return errBadRequest("view requires design, name and field")
	}
	if def.Reduce != ReduceCount {
		return errBadRequest("unsupported reduce " + def.Reduce)
	}
	return d.withTable(ctx, func(t table) error {
		key := viewKey(def.Design, def.Name)
		existing, err := t.getMeta(key)
		if err != nil {
			return err
		}
		if existing != nil {
			return errConflict()
		}
		b, err := json.Marshal(def)
		if err != nil {
			return err
		}
		return t.putMeta(key, b)
	})
}

func (d *localDatabase) QueryView(ctx context.Context, design, view string, group bool) ([]ViewRow, error) {
	var keys []any
	err := d.withTable(ctx, func(t table) error {
		raw, err := t.getMeta(viewKey(design, view))
		if err != nil {
			return err
		}
		if raw == nil {
			return errMissing()
		}
		var def ViewDef
		if err := json.Unmarshal(raw, &def); err != nil {
			return err
		}
		return t.scan(func(_ string, rec *record) error {
			if rec.Deleted {
				return nil
			}
			if v, ok := rec.Body[def.Field]; ok && truthy(v) {
				keys = append(keys, v)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []ViewRow{}, nil
	}
	if !group {
		return []ViewRow{{Key: nil, Value: float64(len(keys))}}, nil
	}

	sort.SliceStable(keys, func(i, j int) bool { return selector.Compare(keys[i], keys[j]) < 0 })
	var rows []ViewRow
	for _, k := range keys {
		if n := len(rows); n > 0 && selector.Equal(rows[n-1].Key, k) {
			rows[n-1].Value = rows[n-1].Value.(float64) + 1
			continue
		}
		rows = append(rows, ViewRow{Key: k, Value: float64(1)})
	}
	return rows, nil
}

// truthy mirrors JavaScript truthiness, which is what a CouchDB map
// function's `if (doc.field)` guard tests.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	}
	return true
}
