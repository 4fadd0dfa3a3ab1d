package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type failingStore struct {
	*InMemoryStore
	setErr error
}

func (s *failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return s.setErr
}

func TestFetch_DisabledAlwaysLoads(t *testing.T) {
	ctrl := NewController(NewInMemoryStore(), "ns", nil)
	var calls int32
	load := func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 7, nil
	}
	for i := 0; i < 2; i++ {
		v, err := Fetch(context.Background(), ctrl, "id", Policy{}, load)
		if err != nil || v != 7 {
			t.Fatalf("unexpected result %d, %v", v, err)
		}
	}
	if calls != 2 {
		t.Errorf("expected 2 loads, got %d", calls)
	}
	if ok, _ := ctrl.Get(context.Background(), "id", nil); ok {
		t.Error("disabled cache must not write")
	}
}

func TestFetch_MissWritesBack(t *testing.T) {
	ctrl := NewController(NewInMemoryStore(), "ns", nil)
	var fresh []string
	policy := Policy{
		Enable:  true,
		DTL:     time.Minute,
		OnFresh: func(id string, _ any) { fresh = append(fresh, id) },
	}

	v, err := Fetch(context.Background(), ctrl, "id", policy, func(context.Context) ([]user, error) {
		return []user{{Name: "ana"}}, nil
	})
	if err != nil || len(v) != 1 {
		t.Fatalf("unexpected result %v, %v", v, err)
	}
	if len(fresh) != 1 || fresh[0] != "id" {
		t.Errorf("expected one fresh callback, got %v", fresh)
	}
	var cached []user
	if ok, _ := ctrl.Get(context.Background(), "id", &cached); !ok || cached[0].Name != "ana" {
		t.Errorf("expected written entry, got %v", cached)
	}
}

func TestFetch_WarmEntryServesCachedThenRefreshes(t *testing.T) {
	ctrl := NewController(NewInMemoryStore(), "ns", nil)
	ctx := context.Background()
	if err := ctrl.Set(ctx, "id", []user{{Name: "stale"}}, time.Minute); err != nil {
		t.Fatalf("seed: %v", err)
	}

	release := make(chan struct{})
	var loads, callbacks int32
	var seenAtCallback []user
	var mu sync.Mutex

	policy := Policy{
		Enable: true,
		DTL:    time.Minute,
		OnFresh: func(id string, _ any) {
			atomic.AddInt32(&callbacks, 1)
			mu.Lock()
			defer mu.Unlock()
			// the entry must still hold the old value: the write comes after the callback
			_, _ = ctrl.Get(ctx, id, &seenAtCallback)
		},
	}

	v, err := Fetch(ctx, ctrl, "id", policy, func(context.Context) ([]user, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return []user{{Name: "fresh"}}, nil
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(v) != 1 || v[0].Name != "stale" {
		t.Fatalf("expected cached value before refresh, got %v", v)
	}

	close(release)
	ctrl.Wait()

	if loads != 1 {
		t.Errorf("expected exactly one network load, got %d", loads)
	}
	if callbacks != 1 {
		t.Errorf("expected exactly one fresh callback, got %d", callbacks)
	}
	mu.Lock()
	if len(seenAtCallback) != 1 || seenAtCallback[0].Name != "stale" {
		t.Errorf("callback must run before the cache write, saw %v", seenAtCallback)
	}
	mu.Unlock()

	var after []user
	if ok, _ := ctrl.Get(ctx, "id", &after); !ok || after[0].Name != "fresh" {
		t.Errorf("expected refreshed entry, got %v", after)
	}
}

func TestFetch_BackgroundFailureKeepsCachedValue(t *testing.T) {
	ctrl := NewController(NewInMemoryStore(), "ns", nil)
	ctx := context.Background()
	_ = ctrl.Set(ctx, "id", 1, time.Minute)

	v, err := Fetch(ctx, ctrl, "id", Policy{Enable: true, DTL: time.Minute}, func(context.Context) (int, error) {
		return 0, errors.New("network down")
	})
	ctrl.Wait()
	if err != nil || v != 1 {
		t.Fatalf("expected cached value and no error, got %d, %v", v, err)
	}
	var still int
	if ok, _ := ctrl.Get(ctx, "id", &still); !ok || still != 1 {
		t.Errorf("failed refresh must not touch the entry, got %d", still)
	}
}

func TestFetch_CacheWriteFailureIsNotReturned(t *testing.T) {
	store := &failingStore{InMemoryStore: NewInMemoryStore(), setErr: errors.New("disk full")}
	ctrl := NewController(store, "ns", nil)

	v, err := Fetch(context.Background(), ctrl, "id", Policy{Enable: true, DTL: time.Minute}, func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("expected network value despite cache failure, got %q, %v", v, err)
	}
}

func TestFetch_MissPropagatesLoadError(t *testing.T) {
	ctrl := NewController(NewInMemoryStore(), "ns", nil)
	boom := errors.New("boom")
	_, err := Fetch(context.Background(), ctrl, "id", Policy{Enable: true}, func(context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected load error, got %v", err)
	}
}

func TestFetch_BackgroundRefreshOutlivesCallerContext(t *testing.T) {
	ctrl := NewController(NewInMemoryStore(), "ns", nil)
	ctx, cancel := context.WithCancel(context.Background())
	_ = ctrl.Set(ctx, "id", 1, time.Minute)

	started := make(chan struct{})
	var bgErr error
	_, _ = Fetch(ctx, ctrl, "id", Policy{Enable: true, DTL: time.Minute}, func(ctx context.Context) (int, error) {
		close(started)
		<-time.After(10 * time.Millisecond)
		bgErr = ctx.Err()
		return 2, nil
	})
	<-started
	cancel()
	ctrl.Wait()
	if bgErr != nil {
		t.Errorf("background refresh must not observe caller cancellation, got %v", bgErr)
	}
}
