package database

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bfast/bfast-go/pkg/cache"
	"github.com/bfast/bfast-go/pkg/config"
	"github.com/bfast/bfast-go/pkg/transport"
)

// fakeBackend is an in-memory stand-in for the Parse REST surface the
// database package talks to. It understands equality filters, order, skip,
// limit and count.
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	classes  map[string][]map[string]any
	nextID   int
	requests []*http.Request
	bodies   [][]byte
	calls    atomic.Int32

	aggregate func(r *http.Request) any
	// visible emulates record ACLs; nil shows every record.
	visible func(r *http.Request, rec map[string]any) bool
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{t: t, classes: make(map[string][]map[string]any)}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) seed(class string, records ...map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range records {
		b.nextID++
		if id, _ := r["objectId"].(string); id == "" {
			r["objectId"] = fmt.Sprintf("id%d", b.nextID)
		}
		b.classes[class] = append(b.classes[class], r)
	}
}

func (b *fakeBackend) lastRequest() *http.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		b.t.Fatal("no request recorded")
	}
	return b.requests[len(b.requests)-1]
}

func (b *fakeBackend) lastBody() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.bodies) == 0 {
		b.t.Fatal("no request recorded")
	}
	return b.bodies[len(b.bodies)-1]
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	b.calls.Add(1)
	body, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	b.requests = append(b.requests, r.Clone(r.Context()))
	b.bodies = append(b.bodies, body)
	b.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case parts[0] == "classes" && len(parts) == 2 && r.Method == http.MethodGet:
		b.list(w, r, parts[1])
	case parts[0] == "classes" && len(parts) == 2 && r.Method == http.MethodPost:
		var rec map[string]any
		_ = json.Unmarshal(body, &rec)
		b.seed(parts[1], rec)
		writeJSON(w, http.StatusCreated, map[string]any{
			"objectId":  rec["objectId"],
			"createdAt": "2024-01-02T03:04:05Z",
		})
	case parts[0] == "classes" && len(parts) == 3 && r.Method == http.MethodGet:
		rec := b.find(parts[1], parts[2])
		if rec == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"code": 101, "error": "Object not found."})
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case parts[0] == "classes" && len(parts) == 3 && r.Method == http.MethodPut:
		writeJSON(w, http.StatusOK, map[string]any{"updatedAt": "2024-01-02T03:04:05Z"})
	case parts[0] == "classes" && len(parts) == 3 && r.Method == http.MethodDelete:
		writeJSON(w, http.StatusOK, map[string]any{})
	case parts[0] == "aggregate" && len(parts) == 2:
		if b.aggregate == nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": 102, "error": "no aggregate"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": b.aggregate(r)})
	case parts[0] == "batch" && r.Method == http.MethodPost:
		var req struct {
			Requests []BatchRequest `json:"requests"`
		}
		_ = json.Unmarshal(body, &req)
		out := make([]map[string]any, 0, len(req.Requests))
		for _, rq := range req.Requests {
			if strings.HasSuffix(rq.Path, "/missing") {
				out = append(out, map[string]any{"error": map[string]any{"code": 101, "error": "Object not found."}})
				continue
			}
			out = append(out, map[string]any{"success": map[string]any{"objectId": "batched"}})
		}
		writeJSON(w, http.StatusOK, out)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"code": 404, "error": "no route"})
	}
}

func (b *fakeBackend) find(class, id string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, rec := range b.classes[class] {
		if rec["objectId"] == id {
			return rec
		}
	}
	return nil
}

func (b *fakeBackend) list(w http.ResponseWriter, r *http.Request, class string) {
	q := r.URL.Query()
	b.mu.Lock()
	records := make([]map[string]any, 0, len(b.classes[class]))
	for _, rec := range b.classes[class] {
		if b.visible == nil || b.visible(r, rec) {
			records = append(records, rec)
		}
	}
	b.mu.Unlock()

	if where := q.Get("where"); where != "" {
		var filter map[string]any
		if err := json.Unmarshal([]byte(where), &filter); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": 107, "error": "bad where"})
			return
		}
		kept := records[:0]
		for _, rec := range records {
			if matches(rec, filter) {
				kept = append(kept, rec)
			}
		}
		records = kept
	}

	if q.Get("count") == "1" {
		writeJSON(w, http.StatusOK, map[string]any{"results": []any{}, "count": len(records)})
		return
	}

	if order := q.Get("order"); order != "" {
		keys := strings.Split(order, ",")
		sort.SliceStable(records, func(i, j int) bool {
			for _, k := range keys {
				desc := strings.HasPrefix(k, "-")
				k = strings.TrimPrefix(k, "-")
				a, c := fmt.Sprint(records[i][k]), fmt.Sprint(records[j][k])
				if a == c {
					continue
				}
				if desc {
					return a > c
				}
				return a < c
			}
			return false
		})
	}
	if skip, _ := strconv.Atoi(q.Get("skip")); skip > 0 {
		if skip > len(records) {
			skip = len(records)
		}
		records = records[skip:]
	}
	if limit, _ := strconv.Atoi(q.Get("limit")); limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": records})
}

func matches(rec, filter map[string]any) bool {
	for k, want := range filter {
		if fmt.Sprint(rec[k]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type staticSession string

func (s staticSession) SessionToken(_ context.Context) string { return string(s) }

func newTestDatabase(t *testing.T, b *fakeBackend, store cache.Store, sessions SessionSource) *Database {
	t.Helper()
	reg := config.NewRegistry()
	if err := reg.Register(config.DefaultApp, config.AppCredentials{
		ApplicationID: "app-id",
		ProjectID:     "proj",
		DatabaseURL:   b.srv.URL,
		AppPassword:   "master-secret",
		Cache:         config.CacheOptions{DTL: 60},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	db, err := New(Options{
		Registry:  reg,
		Transport: transport.NewHTTPTransport(config.TransportConfig{Timeout: 5 * time.Second}, nil),
		Store:     store,
		Sessions:  sessions,
	})
	if err != nil {
		t.Fatalf("new database: %v", err)
	}
	return db
}
