package relay

import (
	"io"
	"log/slog"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistryInsertRemove(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger(), nil)

	a := NewClient("a", 4)
	b := NewClient("b", 4)
	r.Insert(a)
	r.Insert(b)
	if got := r.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	r.Remove("a")
	if got := r.Len(); got != 1 {
		t.Fatalf("Len() after remove = %d, want 1", got)
	}

	// Removing an absent or already-removed id is a no-op.
	r.Remove("a")
	r.Remove("never-inserted")
	if got := r.Len(); got != 1 {
		t.Fatalf("Len() after redundant removes = %d, want 1", got)
	}
}

func TestRegistryInsertReplacesSameConnID(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger(), nil)

	old := NewClient("dup", 4)
	r.Insert(old)
	repl := NewClient("dup", 4)
	r.Insert(repl)

	if got := r.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1 after replace", got)
	}

	r.Broadcast(AllConnections, "hello")
	if len(repl.Send) != 1 {
		t.Fatalf("replacement did not receive the broadcast")
	}
	if len(old.Send) != 0 {
		t.Fatalf("replaced handle still receives broadcasts")
	}
}

func TestRegistryRemoveClearsUserIndex(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger(), nil)

	c := NewClient("c1", 4)
	r.Insert(c)
	r.BindUser("c1", "user-1")

	if _, ok := r.LookupUser("user-1"); !ok {
		t.Fatalf("LookupUser before remove: not found")
	}

	r.Remove("c1")
	if _, ok := r.LookupUser("user-1"); ok {
		t.Fatalf("user index entry survived connection removal")
	}
}

func TestRegistryBroadcastReachesAllLiveConnections(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger(), nil)

	clients := []*Client{NewClient("a", 4), NewClient("b", 4), NewClient("c", 4)}
	for _, c := range clients {
		r.Insert(c)
	}

	if got := r.Broadcast(AllConnections, "hi"); got != 3 {
		t.Fatalf("Broadcast delivered = %d, want 3", got)
	}
	for _, c := range clients {
		select {
		case payload := <-c.Send:
			if payload != "hi" {
				t.Fatalf("conn %s got %q, want %q", c.ConnID, payload, "hi")
			}
		default:
			t.Fatalf("conn %s received nothing", c.ConnID)
		}
	}
}

func TestRegistryBroadcastSkipsBlockedClient(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger(), nil)

	full := NewClient("full", 1)
	full.TryPush("stuck") // saturate the queue
	healthy := NewClient("ok", 4)
	closed := NewClient("closed", 4)
	closed.Close()
	for _, c := range []*Client{full, healthy, closed} {
		r.Insert(c)
	}

	if got := r.Broadcast(AllConnections, "x"); got != 1 {
		t.Fatalf("Broadcast delivered = %d, want 1", got)
	}
	if len(healthy.Send) != 1 {
		t.Fatalf("healthy client missed the broadcast")
	}
}

func TestRegistryBroadcastPredicate(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger(), nil)

	a := NewClient("a", 4)
	b := NewClient("b", 4)
	r.Insert(a)
	r.Insert(b)

	got := r.Broadcast(func(connID string) bool { return connID == "b" }, "targeted")
	if got != 1 {
		t.Fatalf("Broadcast delivered = %d, want 1", got)
	}
	if len(a.Send) != 0 || len(b.Send) != 1 {
		t.Fatalf("predicate not honored: a=%d b=%d", len(a.Send), len(b.Send))
	}
}

func TestRegistryConcurrentChurnAndBroadcast(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Insert(NewClient(id, 1))
				r.Broadcast(AllConnections, "m")
				r.Remove(id)
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	if got := r.Len(); got != 0 {
		t.Fatalf("Len() after churn = %d, want 0", got)
	}
}
