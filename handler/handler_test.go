package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stevemurr/collection-server/collection"
	"github.com/stevemurr/collection-server/handler"
	"github.com/stevemurr/collection-server/store"
)

func setup() (*httptest.Server, store.Client) {
	s := store.NewMemoryClient()
	svc := collection.NewService(s, nil, collection.Options{RetryBase: time.Millisecond})
	h := handler.New(svc, nil)
	ts := httptest.NewServer(handler.CORS(h, []string{"*"}))
	return ts, s
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func decodeJSON(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func decodeJSONArray(t *testing.T, r io.Reader) []any {
	t.Helper()
	var v []any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func do(t *testing.T, method, target string, body []byte) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, target, r)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, b)
	}
}

func expectError(t *testing.T, resp *http.Response, status int, msg string) {
	t.Helper()
	defer resp.Body.Close()
	expectStatus(t, resp, status)
	body := decodeJSON(t, resp.Body)
	if body["ok"] != false {
		t.Fatalf("expected ok=false, got %v", body)
	}
	if msg != "" && body["msg"] != msg {
		t.Fatalf("expected msg %q, got %v", msg, body["msg"])
	}
}

func createDB(t *testing.T, ts *httptest.Server, name string) {
	t.Helper()
	resp := do(t, "PUT", ts.URL+"/"+name, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, 200)
}

func insert(t *testing.T, ts *httptest.Server, path string, doc map[string]any) string {
	t.Helper()
	resp := do(t, "POST", ts.URL+path, mustJSON(t, doc))
	defer resp.Body.Close()
	expectStatus(t, resp, 200)
	body := decodeJSON(t, resp.Body)
	if body["ok"] != true {
		t.Fatalf("insert failed: %v", body)
	}
	if _, hasRev := body["rev"]; hasRev {
		t.Fatalf("revision leaked in write result: %v", body)
	}
	return body["id"].(string)
}

func TestExampleFlow(t *testing.T) {
	ts, s := setup()
	defer ts.Close()

	createDB(t, ts, "mydb")
	id := insert(t, ts, "/mydb/orders", map[string]any{"item": "x"})

	stored, err := s.Use("mydb").Get(t.Context(), id)
	if err != nil {
		t.Fatal(err)
	}
	if stored["collection"] != "orders" {
		t.Fatalf("expected collection orders, got %v", stored["collection"])
	}

	resp := do(t, "GET", ts.URL+"/mydb", nil)
	expectStatus(t, resp, 200)
	summary := decodeJSON(t, resp.Body)
	resp.Body.Close()
	counts := summary["collections"].(map[string]any)
	if summary["ok"] != true || counts["orders"] != float64(1) || len(counts) != 1 {
		t.Fatalf("unexpected summary %v", summary)
	}

	resp = do(t, "GET", ts.URL+"/mydb/orders/"+id, nil)
	expectStatus(t, resp, 200)
	doc := decodeJSON(t, resp.Body)
	resp.Body.Close()
	if doc["_id"] != id || doc["item"] != "x" {
		t.Fatalf("unexpected doc %v", doc)
	}
	if _, ok := doc["_rev"]; ok {
		t.Fatal("_rev must be stripped")
	}

	resp = do(t, "DELETE", ts.URL+"/mydb/orders/"+id, nil)
	expectStatus(t, resp, 200)
	if body := decodeJSON(t, resp.Body); body["ok"] != true {
		t.Fatalf("unexpected delete response %v", body)
	}
	resp.Body.Close()

	expectError(t, do(t, "GET", ts.URL+"/mydb/orders/"+id, nil), 404, "")
}

func TestListDatabases(t *testing.T) {
	ts, _ := setup()
	defer ts.Close()

	resp := do(t, "GET", ts.URL+"/", nil)
	expectStatus(t, resp, 200)
	if names := decodeJSONArray(t, resp.Body); len(names) != 0 {
		t.Fatalf("expected no databases, got %v", names)
	}
	resp.Body.Close()

	createDB(t, ts, "mydb")
	createDB(t, ts, "mydb")

	resp = do(t, "GET", ts.URL+"/", nil)
	expectStatus(t, resp, 200)
	names := decodeJSONArray(t, resp.Body)
	resp.Body.Close()
	if len(names) != 1 || names[0] != "mydb" {
		t.Fatalf("unexpected databases %v", names)
	}

	expectError(t, do(t, "PUT", ts.URL+"/Not_Valid", nil), 400, "illegal_database_name")
}

func TestHealthAndUnknownPath(t *testing.T) {
	ts, _ := setup()
	defer ts.Close()

	resp := do(t, "GET", ts.URL+"/_health", nil)
	expectStatus(t, resp, 200)
	if body := decodeJSON(t, resp.Body); body["status"] != "healthy" {
		t.Fatalf("unexpected health %v", body)
	}
	resp.Body.Close()

	expectError(t, do(t, "GET", ts.URL+"/a/b/c/d", nil), 400, "unknown path")
	expectError(t, do(t, "DELETE", ts.URL+"/mydb", nil), 400, "unknown path")
	expectError(t, do(t, "PATCH", ts.URL+"/mydb/orders/x", nil), 400, "unknown path")
}

func TestCreateCollectionIsNoOp(t *testing.T) {
	ts, _ := setup()
	defer ts.Close()

	resp := do(t, "PUT", ts.URL+"/nodb/orders", nil)
	defer resp.Body.Close()
	expectStatus(t, resp, 200)
	if body := decodeJSON(t, resp.Body); body["ok"] != true {
		t.Fatalf("unexpected response %v", body)
	}
}

func TestBulkInsertAndFilters(t *testing.T) {
	ts, _ := setup()
	defer ts.Close()
	createDB(t, ts, "mydb")

	docs := []map[string]any{
		{"_id": "o1", "status": "open", "qty": 1},
		{"_id": "o2", "status": "closed", "qty": 5},
		{"_id": "o3", "status": "open", "qty": 9},
		{"_id": "o1", "status": "dup"},
	}
	resp := do(t, "POST", ts.URL+"/mydb/orders", mustJSON(t, docs))
	expectStatus(t, resp, 200)
	results := decodeJSONArray(t, resp.Body)
	resp.Body.Close()
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %v", results)
	}
	last := results[3].(map[string]any)
	if last["error"] != "conflict" || last["id"] != "o1" {
		t.Fatalf("expected conflict for duplicate, got %v", last)
	}
	insert(t, ts, "/mydb/invoices", map[string]any{"status": "open"})

	ids := func(t *testing.T, path string) []string {
		t.Helper()
		resp := do(t, "GET", ts.URL+path, nil)
		defer resp.Body.Close()
		expectStatus(t, resp, 200)
		var out []string
		for _, d := range decodeJSONArray(t, resp.Body) {
			out = append(out, d.(map[string]any)["_id"].(string))
		}
		return out
	}

	tests := []struct {
		path string
		want string
	}{
		{"/mydb/orders", "o1,o2,o3"},
		{"/mydb/orders?status=open", "o1,o3"},
		{"/mydb/orders?status=open&status=closed", "o1,o2,o3"},
		{"/mydb/orders?_filter=" + url.QueryEscape(`{"qty":{"$gt":2}}`), "o2,o3"},
		{"/mydb/orders?status=none", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := strings.Join(ids(t, tt.path), ","); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}

	expectError(t, do(t, "GET", ts.URL+"/mydb/orders?_filter=%7Bnope", nil), 400, "_filter parameter is not JSON")
}

func TestBatchGet(t *testing.T) {
	ts, _ := setup()
	defer ts.Close()
	createDB(t, ts, "mydb")

	insert(t, ts, "/mydb/orders", map[string]any{"_id": "A", "n": 1})
	insert(t, ts, "/mydb/orders", map[string]any{"_id": "C", "n": 3})

	resp := do(t, "GET", ts.URL+"/mydb/orders/A,B,C", nil)
	defer resp.Body.Close()
	expectStatus(t, resp, 200)
	docs := decodeJSONArray(t, resp.Body)
	if len(docs) != 3 {
		t.Fatalf("expected 3 slots, got %v", docs)
	}
	a, b, c := docs[0].(map[string]any), docs[1].(map[string]any), docs[2].(map[string]any)
	if a["_id"] != "A" || a["n"] != float64(1) || c["_id"] != "C" {
		t.Fatalf("unexpected documents %v", docs)
	}
	if b["_id"] != "B" || b["_error"] != "not_found" || len(b) != 2 {
		t.Fatalf("unexpected placeholder %v", b)
	}
	if _, ok := a["_rev"]; ok {
		t.Fatal("_rev must be stripped from batch results")
	}
}

func TestUpdate(t *testing.T) {
	ts, s := setup()
	defer ts.Close()
	createDB(t, ts, "mydb")
	id := insert(t, ts, "/mydb/orders", map[string]any{"item": "x", "qty": 1})

	resp := do(t, "POST", ts.URL+"/mydb/orders/"+id, mustJSON(t, map[string]any{"item": "y"}))
	expectStatus(t, resp, 200)
	body := decodeJSON(t, resp.Body)
	resp.Body.Close()
	if body["ok"] != true || len(body) != 1 {
		t.Fatalf("update must only confirm, got %v", body)
	}

	doc, err := s.Use("mydb").Get(t.Context(), id)
	if err != nil {
		t.Fatal(err)
	}
	if doc["item"] != "y" || doc["qty"] != nil || doc["collection"] != "orders" {
		t.Fatalf("unexpected stored doc %v", doc)
	}

	expectError(t, do(t, "POST", ts.URL+"/mydb/invoices/"+id, mustJSON(t, map[string]any{"item": "z"})),
		404, "document is not in the collection")
	expectError(t, do(t, "POST", ts.URL+"/mydb/orders/missing", mustJSON(t, map[string]any{})),
		404, "document does not exist")
	expectError(t, do(t, "POST", ts.URL+"/mydb/orders/"+id, []byte(`[1,2]`)), 400, "")
}

func TestDeleteOutsideCollection(t *testing.T) {
	ts, s := setup()
	defer ts.Close()
	createDB(t, ts, "mydb")
	id := insert(t, ts, "/mydb/orders", map[string]any{"item": "x"})

	expectError(t, do(t, "DELETE", ts.URL+"/mydb/invoices/"+id, nil), 404, "document is not in the collection")
	if _, err := s.Use("mydb").Get(t.Context(), id); err != nil {
		t.Fatalf("document must survive: %v", err)
	}
	expectError(t, do(t, "DELETE", ts.URL+"/mydb/orders/nope", nil), 404, "document does not exist")
}

func TestFormBody(t *testing.T) {
	ts, s := setup()
	defer ts.Close()
	createDB(t, ts, "mydb")

	form := url.Values{"item": {"pen"}, "tag": {"a", "b"}}
	resp, err := http.PostForm(ts.URL+"/mydb/orders", form)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, 200)
	id := decodeJSON(t, resp.Body)["id"].(string)

	doc, err := s.Use("mydb").Get(t.Context(), id)
	if err != nil {
		t.Fatal(err)
	}
	if doc["item"] != "pen" || len(doc["tag"].([]any)) != 2 {
		t.Fatalf("unexpected doc %v", doc)
	}
}

func TestBadBodies(t *testing.T) {
	ts, _ := setup()
	defer ts.Close()
	createDB(t, ts, "mydb")

	expectError(t, do(t, "POST", ts.URL+"/mydb/orders", []byte(`{"item":`)), 400, "")
	expectError(t, do(t, "POST", ts.URL+"/mydb/orders", []byte(`"just a string"`)), 400, "")
	expectError(t, do(t, "POST", ts.URL+"/mydb/orders", []byte(`[{"ok":1}, 2]`)), 400, "")

	big := `{"blob":"` + strings.Repeat("x", 1<<20) + `"}`
	expectError(t, do(t, "POST", ts.URL+"/mydb/orders", []byte(big)), 400, "")
}

func TestMissingDatabase(t *testing.T) {
	ts, _ := setup()
	defer ts.Close()

	expectError(t, do(t, "GET", ts.URL+"/nodb", nil), 404, "not_found")
	expectError(t, do(t, "GET", ts.URL+"/nodb/orders", nil), 404, "not_found")
	expectError(t, do(t, "POST", ts.URL+"/nodb/orders", mustJSON(t, map[string]any{"a": 1})), 404, "not_found")
}

func TestCORS(t *testing.T) {
	h := handler.CORS(http.NotFoundHandler(), []string{"http://b.test", " http://a.test"})

	req := httptest.NewRequest("OPTIONS", "/mydb", nil)
	req.Header.Set("Origin", "http://a.test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://a.test" {
		t.Fatalf("expected allowed origin, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Fatalf("credentials must not be allowed, got %q", got)
	}

	req = httptest.NewRequest("GET", "/mydb", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}
