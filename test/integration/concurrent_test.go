package integration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmdwarden/warden/internal/approval"
	"github.com/cmdwarden/warden/internal/core"
)

// TestConcurrentRequests pushes parallel requests through the full
// pipeline and checks nothing is lost: every request returns and every
// one has a ledger row.
func TestConcurrentRequests(t *testing.T) {
	env := SetupTestEnvironment(t, Options{})

	numRequests := 30
	var wg sync.WaitGroup
	var successCount, failCount int32

	start := time.Now()

	for i := 0; i < numRequests; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			rec, err := env.Pipeline.Process(context.Background(),
				core.SourceWeb, fmt.Sprintf("client-%d", id), fmt.Sprintf("echo request-%d", id))
			if err == nil && rec.Decision.Action == core.ActionExecute {
				atomic.AddInt32(&successCount, 1)
			} else {
				atomic.AddInt32(&failCount, 1)
			}
		}(i)
	}

	wg.Wait()
	t.Logf("completed %d requests in %v (success=%d fail=%d)",
		numRequests, time.Since(start), successCount, failCount)

	assert.Equal(t, int32(numRequests), successCount, "every request should execute")

	stats, err := env.Store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(numRequests), stats.Total)
	assert.Equal(t, int64(numRequests), stats.Succeeded)
}

// TestConcurrentResolveRace fires several rulings at the same pending
// approval. Exactly one may land; the waiter sees that one and the
// rest error out.
func TestConcurrentResolveRace(t *testing.T) {
	env := SetupTestEnvironment(t, Options{Mode: core.ModePrompt})

	recCh := make(chan core.Record, 1)
	go func() {
		rec, _ := env.Process("echo contested")
		recCh <- rec
	}()

	pending := env.WaitForPending(3 * time.Second)
	require.Len(t, pending, 1)
	id := pending[0].ID

	numRacers := 5
	var wg sync.WaitGroup
	errs := make(chan error, numRacers)

	for i := 0; i < numRacers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs <- env.Broker.Resolve(context.Background(), id, approval.Ruling{
				Approved:  true,
				DecidedBy: fmt.Sprintf("racer-%d", n),
			})
		}(i)
	}

	wg.Wait()
	close(errs)

	wins, losses := 0, 0
	for err := range errs {
		if err == nil {
			wins++
		} else {
			losses++
		}
	}
	assert.Equal(t, 1, wins, "exactly one ruling should land")
	assert.Equal(t, numRacers-1, losses)

	select {
	case rec := <-recCh:
		assert.Equal(t, core.ActionExecute, rec.Decision.Action)
		assert.Equal(t, core.ApprovedByHuman, rec.Decision.ApprovedBy)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never got the winning ruling")
	}
}

// TestConcurrentLedgerWrites hammers the SQLite store from many
// goroutines; the busy-retry layer must land every row.
func TestConcurrentLedgerWrites(t *testing.T) {
	env := SetupTestEnvironment(t, Options{})

	numWrites := 100
	var wg sync.WaitGroup
	var errorCount int32

	for i := 0; i < numWrites; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			rec := core.Record{
				Request: core.NewRequest(core.SourceScheduled, fmt.Sprintf("writer-%d", id), "concurrent write"),
				Decision: core.Decision{
					Mode:       core.ModeAuditOnly,
					Action:     core.ActionSkipLogged,
					ApprovedBy: core.ApprovedByNone,
					DecidedAt:  time.Now().UTC(),
				},
			}
			if err := env.Store.Append(context.Background(), rec); err != nil {
				atomic.AddInt32(&errorCount, 1)
				t.Logf("append error for %d: %v", id, err)
			}
		}(i)
	}

	wg.Wait()

	assert.Equal(t, int32(0), errorCount, "every append should succeed")

	stats, err := env.Store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(numWrites), stats.Total)
}

// TestPendingQueueDrainsAfterTimeouts overlaps short-lived approvals
// with constant GetPending polling; the queue must end empty and
// nothing may hang.
func TestPendingQueueDrainsAfterTimeouts(t *testing.T) {
	broker := approval.NewInMemoryBroker(100 * time.Millisecond)
	defer broker.Close()

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			ruling, err := broker.Await(context.Background(), approval.Pending{
				ID:      fmt.Sprintf("drain-%d", id),
				Command: fmt.Sprintf("echo drain-%d", id),
				Source:  core.SourceCLI,
			})
			assert.NoError(t, err)
			assert.True(t, ruling.TimedOut)
		}(i)

		time.Sleep(10 * time.Millisecond)
	}

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		for i := 0; i < 20; i++ {
			_, err := broker.GetPending(context.Background())
			assert.NoError(t, err)
			time.Sleep(10 * time.Millisecond)
		}
	}()

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		t.Fatal("await goroutines hung past their timeout")
	}
	<-pollDone

	pending, err := broker.GetPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending, "queue should drain after timeouts")
}
