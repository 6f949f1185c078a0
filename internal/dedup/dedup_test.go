package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryAcquireOnce(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Acquire(ctx, "msg-1"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one claim, got %d", wins.Load())
	}
	if ok, _ := m.Acquire(ctx, "msg-1"); ok {
		t.Fatal("claims are never handed out twice within the ttl")
	}
}

func TestMemoryEvictsExpiredClaims(t *testing.T) {
	m := NewMemory(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if ok, _ := m.Acquire(ctx, key); !ok {
			t.Fatalf("first claim of %s refused", key)
		}
	}
	if m.Len() != 3 {
		t.Fatalf("expected 3 held keys, got %d", m.Len())
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := m.Acquire(ctx, "d"); !ok {
		t.Fatal("new key refused")
	}
	if m.Len() != 1 {
		t.Fatalf("expired claims should be swept, got %d held", m.Len())
	}
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (f *fakeRecorder) ClaimMessage(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.seen[id] {
		return false, nil
	}
	f.seen[id] = true
	return true, nil
}

func TestLayeredStopsAtFirstRefusal(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{seen: map[string]bool{"old": true}}
	claims := Layered{NewMemory(0), NewDurable(rec)}

	if ok, _ := claims.Acquire(ctx, "new"); !ok {
		t.Fatal("fresh key refused")
	}
	if ok, _ := claims.Acquire(ctx, "new"); ok {
		t.Fatal("repeat key accepted")
	}
	if ok, _ := claims.Acquire(ctx, "old"); ok {
		t.Fatal("key recorded before a restart accepted")
	}

	rec.err = errors.New("disk full")
	if _, err := claims.Acquire(ctx, "other"); err == nil {
		t.Fatal("expected recorder error")
	}
}
