package database

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bfast/bfast-go/pkg/apperr"
	"github.com/bfast/bfast-go/pkg/cache"
	"github.com/bfast/bfast-go/pkg/config"
	"github.com/bfast/bfast-go/pkg/query"
)

type person struct {
	ObjectID string `json:"objectId"`
	Name     string `json:"name"`
	Age      int    `json:"age"`
}

func seedPeople(b *fakeBackend) {
	b.seed("people",
		map[string]any{"name": "carol", "age": 3},
		map[string]any{"name": "alice", "age": 1},
		map[string]any{"name": "bob", "age": 2},
	)
}

func TestFind_OrdersBySingleField(t *testing.T) {
	b := newFakeBackend(t)
	seedPeople(b)
	db := newTestDatabase(t, b, nil, nil)

	people, err := NewDomain[person](db, "people").Find(context.Background(), query.Model[person]{
		OrderBy: []query.Order{query.Ascending("age")},
	})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	var ages []int
	for _, p := range people {
		ages = append(ages, p.Age)
	}
	if len(ages) != 3 || ages[0] != 1 || ages[1] != 2 || ages[2] != 3 {
		t.Fatalf("ages = %v, want [1 2 3]", ages)
	}
	if got := b.lastRequest().URL.Query().Get("order"); got != "age" {
		t.Fatalf("order = %q, want age", got)
	}
}

func TestFind_SendsConcatenatedOrderAndPaging(t *testing.T) {
	b := newFakeBackend(t)
	seedPeople(b)
	db := newTestDatabase(t, b, nil, nil)

	_, err := NewDomain[person](db, "people").Find(context.Background(), query.Model[person]{
		OrderBy: []query.Order{query.Descending("age"), query.Ascending("name")},
		Skip:    1,
		Size:    5,
		Keys:    []string{"name"},
	})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	q := b.lastRequest().URL.Query()
	if q.Get("order") != "-age,name" || q.Get("skip") != "1" || q.Get("limit") != "5" || q.Get("keys") != "name" {
		t.Fatalf("unexpected query %v", q)
	}
}

func TestFind_RejectsUnknownOrderField(t *testing.T) {
	b := newFakeBackend(t)
	db := newTestDatabase(t, b, nil, nil)

	_, err := NewDomain[person](db, "people").Find(context.Background(), query.Model[person]{
		OrderBy: []query.Order{query.Ascending("height")},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if b.calls.Load() != 0 {
		t.Fatalf("validation error must not reach the network")
	}
}

func TestFind_IDWithFilterIsValidationError(t *testing.T) {
	b := newFakeBackend(t)
	db := newTestDatabase(t, b, nil, nil)

	_, err := db.Domain("people").Find(context.Background(), query.Model[map[string]any]{
		ID:     "id1",
		Filter: query.Filter{"name": "alice"},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFirst_EmptyIsNil(t *testing.T) {
	b := newFakeBackend(t)
	db := newTestDatabase(t, b, nil, nil)

	got, err := NewDomain[person](db, "people").First(context.Background(), query.Model[person]{})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
	if limit := b.lastRequest().URL.Query().Get("limit"); limit != "1" {
		t.Fatalf("limit = %q, want 1", limit)
	}
}

func TestFirst_ReturnsLowestByOrder(t *testing.T) {
	b := newFakeBackend(t)
	seedPeople(b)
	db := newTestDatabase(t, b, nil, nil)

	got, err := NewDomain[person](db, "people").First(context.Background(), query.Model[person]{
		OrderBy: []query.Order{query.Ascending("name")},
		Size:    10,
	})
	if err != nil || got == nil {
		t.Fatalf("first: %v %v", got, err)
	}
	if got.Name != "alice" {
		t.Fatalf("name = %q, want alice", got.Name)
	}
}

func TestGet(t *testing.T) {
	b := newFakeBackend(t)
	b.seed("people", map[string]any{"objectId": "p1", "name": "ana", "age": 30})
	db := newTestDatabase(t, b, nil, nil)
	people := NewDomain[person](db, "people")

	got, err := people.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "ana" || got.ObjectID != "p1" {
		t.Fatalf("unexpected record %+v", got)
	}

	_, err = people.Get(context.Background(), "nope")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	_, err = people.Get(context.Background(), " ")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGet_RouteMissIsNotARecordMiss(t *testing.T) {
	b := &fakeBackend{t: t, classes: map[string][]map[string]any{}}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "404 page not found", http.StatusNotFound)
	}))
	t.Cleanup(b.srv.Close)
	people := newTestDatabase(t, b, nil, nil).Domain("people")

	_, err := people.Get(context.Background(), "p1")
	if !errors.Is(err, apperr.ErrConfig) || errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected config error for an unrouted url, got %v", err)
	}
	if _, err := people.Find(context.Background(), query.Model[map[string]any]{ID: "p1"}); !errors.Is(err, apperr.ErrConfig) {
		t.Fatalf("find by id should surface the misconfiguration, got %v", err)
	}
}

func TestCount_IgnoresFetchShaping(t *testing.T) {
	b := newFakeBackend(t)
	seedPeople(b)
	db := newTestDatabase(t, b, nil, nil)
	people := NewDomain[person](db, "people")

	plain, err := people.Count(context.Background(), query.Model[person]{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	first := b.lastRequest().URL.RawQuery

	shaped, err := people.Count(context.Background(), query.Model[person]{
		Skip:    2,
		Size:    1,
		OrderBy: []query.Order{query.Descending("age")},
		Keys:    []string{"name"},
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if plain != 3 || shaped != 3 {
		t.Fatalf("counts = %d, %d, want 3", plain, shaped)
	}
	if second := b.lastRequest().URL.RawQuery; first != second {
		t.Fatalf("count requests differ: %q vs %q", first, second)
	}

	filtered, err := people.Count(context.Background(), query.Model[person]{Filter: query.Filter{"name": "bob"}})
	if err != nil || filtered != 1 {
		t.Fatalf("filtered count = %d, %v", filtered, err)
	}
}

func TestMasterKeyAppliesPerCall(t *testing.T) {
	b := newFakeBackend(t)
	db := newTestDatabase(t, b, nil, nil)
	people := db.Domain("people")

	if _, err := people.Find(context.Background(), query.Model[map[string]any]{}, RequestOptions{UseMasterKey: true}); err != nil {
		t.Fatalf("find: %v", err)
	}
	if got := b.lastRequest().Header.Get(config.HeaderMasterKey); got != "master-secret" {
		t.Fatalf("master key header = %q", got)
	}

	if _, err := people.Find(context.Background(), query.Model[map[string]any]{}); err != nil {
		t.Fatalf("find: %v", err)
	}
	req := b.lastRequest()
	if got := req.Header.Get(config.HeaderMasterKey); got != "" {
		t.Fatalf("master key leaked into a normal call: %q", got)
	}
	if got := req.Header.Get(config.HeaderApplicationID); got != "app-id" {
		t.Fatalf("application id header = %q", got)
	}
}

func TestSessionTokenIsForwarded(t *testing.T) {
	b := newFakeBackend(t)
	db := newTestDatabase(t, b, nil, staticSession("r:token"))

	if _, err := db.Domain("people").Find(context.Background(), query.Model[map[string]any]{}); err != nil {
		t.Fatalf("find: %v", err)
	}
	if got := b.lastRequest().Header.Get(config.HeaderSessionToken); got != "r:token" {
		t.Fatalf("session token = %q", got)
	}
}

func TestFind_StaleWhileRevalidate(t *testing.T) {
	b := newFakeBackend(t)
	seedPeople(b)
	store := cache.NewInMemoryStore()
	db := newTestDatabase(t, b, store, nil)
	people := NewDomain[person](db, "people")
	q := query.Model[person]{OrderBy: []query.Order{query.Ascending("age")}}

	var (
		mu    sync.Mutex
		fresh []FreshData
	)
	opts := RequestOptions{CacheEnable: true, DTL: 60, FreshDataCallback: func(d FreshData) {
		mu.Lock()
		defer mu.Unlock()
		fresh = append(fresh, d)
	}}

	warm, err := people.Find(context.Background(), q, opts)
	if err != nil || len(warm) != 3 {
		t.Fatalf("warm: %v %v", warm, err)
	}
	if b.calls.Load() != 1 {
		t.Fatalf("calls after miss = %d, want 1", b.calls.Load())
	}

	b.seed("people", map[string]any{"name": "dave", "age": 4})
	cached, err := people.Find(context.Background(), q, opts)
	if err != nil {
		t.Fatalf("cached: %v", err)
	}
	if len(cached) != 3 {
		t.Fatalf("hit should return the cached value, got %d records", len(cached))
	}
	people.Wait()

	if b.calls.Load() != 2 {
		t.Fatalf("calls after hit = %d, want 2", b.calls.Load())
	}
	mu.Lock()
	if len(fresh) != 2 {
		t.Fatalf("callbacks = %d, want 2", len(fresh))
	}
	if data, ok := fresh[1].Data.([]person); !ok || len(data) != 4 {
		t.Fatalf("refresh callback data = %#v", fresh[1].Data)
	}
	if fresh[0].Identifier != fresh[1].Identifier {
		t.Fatalf("identifiers differ across calls")
	}
	mu.Unlock()

	refreshed, err := people.Find(context.Background(), q, opts)
	people.Wait()
	if err != nil || len(refreshed) != 4 {
		t.Fatalf("refreshed entry: %d records, %v", len(refreshed), err)
	}
}

func TestFind_CacheDisabledAlwaysHitsNetwork(t *testing.T) {
	b := newFakeBackend(t)
	db := newTestDatabase(t, b, cache.NewInMemoryStore(), nil)
	people := db.Domain("people")

	for i := 0; i < 2; i++ {
		if _, err := people.Find(context.Background(), query.Model[map[string]any]{}); err != nil {
			t.Fatalf("find: %v", err)
		}
	}
	if b.calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", b.calls.Load())
	}
}

func TestWriteInvalidatesCache(t *testing.T) {
	b := newFakeBackend(t)
	seedPeople(b)
	db := newTestDatabase(t, b, cache.NewInMemoryStore(), nil)
	people := NewDomain[person](db, "people")
	opts := RequestOptions{CacheEnable: true}

	if _, err := people.Find(context.Background(), query.Model[person]{}, opts); err != nil {
		t.Fatalf("find: %v", err)
	}
	ref, err := people.Save(context.Background(), person{Name: "erin", Age: 5})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if ref.ObjectID == "" || ref.CreatedAt.IsZero() {
		t.Fatalf("unexpected ref %+v", ref)
	}

	got, err := people.Find(context.Background(), query.Model[person]{}, opts)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("records after save = %d, want 4", len(got))
	}
}

func TestUpdateAndDelete(t *testing.T) {
	b := newFakeBackend(t)
	db := newTestDatabase(t, b, nil, nil)
	people := db.Domain("people")

	res, err := people.Update(context.Background(), "p1", map[string]any{"age": 31}, RequestOptions{UseMasterKey: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.UpdatedAt.IsZero() {
		t.Fatalf("updatedAt not decoded")
	}
	req := b.lastRequest()
	if req.Method != "PUT" || req.URL.Path != "/classes/people/p1" || req.Header.Get(config.HeaderMasterKey) == "" {
		t.Fatalf("unexpected update request %s %s", req.Method, req.URL.Path)
	}

	if err := people.Delete(context.Background(), "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if req := b.lastRequest(); req.Method != "DELETE" {
		t.Fatalf("method = %s", req.Method)
	}

	if _, err := people.Update(context.Background(), "p1", nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("empty update should be a validation error, got %v", err)
	}
	if err := people.Delete(context.Background(), ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("empty id should be a validation error, got %v", err)
	}
}

// ownerACL shows a record to the master key or to the session named in its owner field.
func ownerACL(r *http.Request, rec map[string]any) bool {
	if r.Header.Get(config.HeaderMasterKey) != "" {
		return true
	}
	owner, _ := rec["owner"].(string)
	return owner == "" || owner == r.Header.Get(config.HeaderSessionToken)
}

func TestFind_CacheIsScopedByCredential(t *testing.T) {
	b := newFakeBackend(t)
	b.visible = ownerACL
	b.seed("notes",
		map[string]any{"text": "public"},
		map[string]any{"text": "ana's", "owner": "r:ana"},
		map[string]any{"text": "ben's", "owner": "r:ben"},
	)
	store := cache.NewInMemoryStore()
	opts := RequestOptions{CacheEnable: true, DTL: 60}
	masterOpts := RequestOptions{CacheEnable: true, DTL: 60, UseMasterKey: true}

	anon := newTestDatabase(t, b, store, nil).Domain("notes")
	ana := newTestDatabase(t, b, store, staticSession("r:ana")).Domain("notes")
	ben := newTestDatabase(t, b, store, staticSession("r:ben")).Domain("notes")

	ctx := context.Background()
	all, err := anon.Find(ctx, query.Model[map[string]any]{}, masterOpts)
	if err != nil || len(all) != 3 {
		t.Fatalf("master read: %v %v", all, err)
	}
	anon.Wait()

	public, err := anon.Find(ctx, query.Model[map[string]any]{}, opts)
	if err != nil {
		t.Fatalf("anonymous read: %v", err)
	}
	if len(public) != 1 || public[0]["text"] != "public" {
		t.Fatalf("anonymous read served master records: %v", public)
	}
	anon.Wait()

	if _, err := ana.Find(ctx, query.Model[map[string]any]{}, opts); err != nil {
		t.Fatalf("ana read: %v", err)
	}
	ana.Wait()
	got, err := ben.Find(ctx, query.Model[map[string]any]{}, opts)
	if err != nil {
		t.Fatalf("ben read: %v", err)
	}
	for _, rec := range got {
		if rec["text"] == "ana's" {
			t.Fatalf("ben was served ana's cached records: %v", got)
		}
	}
	ben.Wait()
}

func TestCount_CacheIsScopedByCredential(t *testing.T) {
	b := newFakeBackend(t)
	b.visible = ownerACL
	b.seed("notes",
		map[string]any{"text": "public"},
		map[string]any{"text": "ana's", "owner": "r:ana"},
	)
	people := newTestDatabase(t, b, cache.NewInMemoryStore(), nil).Domain("notes")
	ctx := context.Background()

	n, err := people.Count(ctx, query.Model[map[string]any]{}, RequestOptions{CacheEnable: true, UseMasterKey: true})
	if err != nil || n != 2 {
		t.Fatalf("master count = %d, %v", n, err)
	}
	people.Wait()
	n, err = people.Count(ctx, query.Model[map[string]any]{}, RequestOptions{CacheEnable: true})
	if err != nil || n != 1 {
		t.Fatalf("anonymous count = %d, %v; want 1", n, err)
	}
	people.Wait()
}
