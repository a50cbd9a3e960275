// Package handler provides the HTTP surface of the collection server.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"github.com/stevemurr/collection-server/collection"
	"github.com/stevemurr/collection-server/shape"
	"github.com/stevemurr/collection-server/store"
)

// maxBodyBytes caps request bodies at 1 MiB.
const maxBodyBytes = 1 << 20

// Handler holds the server dependencies and registers routes.
type Handler struct {
	svc *collection.Service
	log *zap.SugaredLogger
	mux *http.ServeMux
}

// New creates a Handler and wires up all routes.
func New(svc *collection.Service, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	h := &Handler{svc: svc, log: log, mux: http.NewServeMux()}
	h.routes()
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	h.mux.HandleFunc("GET /{$}", h.listDatabases)
	h.mux.HandleFunc("GET /_health", h.health)

	// Databases
	h.mux.HandleFunc("PUT /{db}", h.createDatabase)
	h.mux.HandleFunc("GET /{db}", h.summarize)

	// Collections
	h.mux.HandleFunc("PUT /{db}/{collection}", h.createCollection)
	h.mux.HandleFunc("POST /{db}/{collection}", h.insert)
	h.mux.HandleFunc("GET /{db}/{collection}", h.list)

	// Documents
	h.mux.HandleFunc("POST /{db}/{collection}/{id}", h.update)
	h.mux.HandleFunc("GET /{db}/{collection}/{ids}", h.get)
	h.mux.HandleFunc("DELETE /{db}/{collection}/{id}", h.delete)

	h.mux.HandleFunc("/", h.unknown)
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "msg": msg})
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// fail writes err with the status of its failure kind.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := collection.StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.log.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, collection.MessageOf(err))
}

var errBadBody = errors.New("request body must be a JSON object or an array of objects")

// readBody decodes a JSON or form-encoded body. An empty body reads as an
// empty object.
func readBody(w http.ResponseWriter, r *http.Request) (any, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		doc := map[string]any{}
		for k, vals := range r.PostForm {
			if len(vals) == 1 {
				doc[k] = vals[0]
				continue
			}
			list := make([]any, len(vals))
			for i, v := range vals {
				list[i] = v
			}
			doc[k] = list
		}
		return doc, nil
	}

	var v any
	err := json.NewDecoder(r.Body).Decode(&v)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return map[string]any{}, nil
	case errors.As(err, &tooLarge):
		return nil, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
	case err != nil:
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return v, nil
}

func asDocument(v any) (store.Document, bool) {
	m, ok := v.(map[string]any)
	return store.Document(m), ok
}

// ---------- status endpoints ----------

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.ListDatabases(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"detail": collection.MessageOf(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) unknown(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusBadRequest, "unknown path")
}

// ---------- databases ----------

func (h *Handler) listDatabases(w http.ResponseWriter, r *http.Request) {
	names, err := h.svc.ListDatabases(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shape.Names(names))
}

func (h *Handler) createDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CreateDatabase(r.Context(), r.PathValue("db")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w)
}

func (h *Handler) summarize(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.Summarize(r.Context(), r.PathValue("db"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "collections": counts})
}

// ---------- collections ----------

func (h *Handler) createCollection(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CreateCollection(r.Context(), r.PathValue("db"), r.PathValue("collection")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w)
}

func (h *Handler) insert(w http.ResponseWriter, r *http.Request) {
	db, coll := r.PathValue("db"), r.PathValue("collection")
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch v := body.(type) {
	case map[string]any:
		res, err := h.svc.Insert(r.Context(), db, coll, store.Document(v))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, shape.WriteResult(res))
	case []any:
		docs := make([]store.Document, len(v))
		for i, item := range v {
			doc, ok := asDocument(item)
			if !ok {
				writeError(w, http.StatusBadRequest, errBadBody.Error())
				return
			}
			docs[i] = doc
		}
		res, err := h.svc.BulkInsert(r.Context(), db, coll, docs)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, shape.WriteResults(res))
	default:
		writeError(w, http.StatusBadRequest, errBadBody.Error())
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docs, err := h.svc.List(r.Context(), r.PathValue("db"), r.PathValue("collection"),
		q, q.Get(collection.FilterParam))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shape.Docs(docs))
}

// ---------- documents ----------

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	db, coll := r.PathValue("db"), r.PathValue("collection")
	ids := collection.SplitIDs(r.PathValue("ids"))
	if len(ids) == 1 {
		doc, err := h.svc.Get(r.Context(), db, coll, ids[0])
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, shape.Doc(doc))
		return
	}
	docs, err := h.svc.GetBatch(r.Context(), db, coll, ids)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shape.Docs(docs))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	doc, ok := asDocument(body)
	if !ok {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}
	err = h.svc.Update(r.Context(), r.PathValue("db"), r.PathValue("collection"), r.PathValue("id"), doc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Delete(r.Context(), r.PathValue("db"), r.PathValue("collection"), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w)
}
