package approval

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cmdwarden/warden/internal/core"
)

func TestAwaitAndResolve(t *testing.T) {
	broker := NewInMemoryBroker(5 * time.Second)
	defer broker.Close()

	ctx := context.Background()

	doneCh := make(chan Ruling)
	go func() {
		ruling, err := broker.Await(ctx, Pending{
			ID:          "req-1",
			Command:     "docker ps",
			Source:      core.SourceCLI,
			SourceLabel: "user",
		})
		if err != nil {
			t.Errorf("await failed: %v", err)
		}
		doneCh <- ruling
	}()

	time.Sleep(100 * time.Millisecond)

	pending, err := broker.GetPending(ctx)
	if err != nil {
		t.Fatalf("get pending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending approval, got %d", len(pending))
	}
	if pending[0].Command != "docker ps" {
		t.Errorf("pending command = %q, want %q", pending[0].Command, "docker ps")
	}

	if err := broker.Resolve(ctx, pending[0].ID, Ruling{Approved: true, DecidedBy: "tester"}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	select {
	case result := <-doneCh:
		if !result.Approved {
			t.Error("expected approved ruling")
		}
		if result.DecidedBy != "tester" {
			t.Errorf("decided_by = %q, want tester", result.DecidedBy)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for ruling")
	}
}

func TestAwaitTimeout(t *testing.T) {
	broker := NewInMemoryBroker(100 * time.Millisecond)
	defer broker.Close()

	ruling, err := broker.Await(context.Background(), Pending{ID: "req-t", Command: "rm cache"})
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}

	if ruling.Approved {
		t.Error("expected timeout to deny")
	}
	if !ruling.TimedOut {
		t.Error("expected TimedOut to be set")
	}

	// Timed-out entries leave the pending list.
	pending, _ := broker.GetPending(context.Background())
	if len(pending) != 0 {
		t.Errorf("pending after timeout = %d, want 0", len(pending))
	}
}

func TestAwaitContextCancelled(t *testing.T) {
	broker := NewInMemoryBroker(5 * time.Second)
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := broker.Await(ctx, Pending{ID: "req-c", Command: "ls"})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestResolveNonExistent(t *testing.T) {
	broker := NewInMemoryBroker(5 * time.Second)
	defer broker.Close()

	err := broker.Resolve(context.Background(), "nonexistent-id", Ruling{Approved: true})
	if err == nil {
		t.Error("expected error for non-existent approval")
	}
}

func TestConcurrentAwaitsResolveIndependently(t *testing.T) {
	broker := NewInMemoryBroker(5 * time.Second)
	defer broker.Close()

	ctx := context.Background()
	const numRequests = 10

	results := make(chan Ruling, numRequests)
	var wg sync.WaitGroup
	wg.Add(numRequests)

	for i := 0; i < numRequests; i++ {
		go func(n int) {
			defer wg.Done()
			ruling, err := broker.Await(ctx, Pending{
				ID:      fmt.Sprintf("req-%d", n),
				Command: "uptime",
			})
			if err != nil {
				t.Errorf("await %d failed: %v", n, err)
				return
			}
			results <- ruling
		}(i)
	}

	// All ten must be pending at once: no await queues behind another.
	deadline := time.Now().Add(2 * time.Second)
	for {
		pending, _ := broker.GetPending(ctx)
		if len(pending) == numRequests {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d awaits pending", len(pending), numRequests)
		}
		time.Sleep(10 * time.Millisecond)
	}

	pending, _ := broker.GetPending(ctx)
	for _, p := range pending {
		if err := broker.Resolve(ctx, p.ID, Ruling{Approved: true, DecidedBy: "tester"}); err != nil {
			t.Errorf("resolve %s failed: %v", p.ID, err)
		}
	}

	wg.Wait()
	close(results)

	approved := 0
	for r := range results {
		if r.Approved {
			approved++
		}
	}
	if approved != numRequests {
		t.Errorf("approved = %d, want %d", approved, numRequests)
	}
}

func TestCloseReleasesWaiters(t *testing.T) {
	broker := NewInMemoryBroker(5 * time.Second)

	doneCh := make(chan Ruling)
	go func() {
		ruling, _ := broker.Await(context.Background(), Pending{ID: "req-x", Command: "ls"})
		doneCh <- ruling
	}()

	time.Sleep(100 * time.Millisecond)
	broker.Close()

	select {
	case ruling := <-doneCh:
		if ruling.Approved {
			t.Error("shutdown must not approve anything")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("waiter not released on close")
	}
}
