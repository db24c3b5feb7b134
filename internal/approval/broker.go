package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type InMemoryBroker struct {
	mu       sync.RWMutex
	pending  map[string]*Pending
	timeout  time.Duration
	notifyCh chan struct{}
	closed   bool
}

func NewInMemoryBroker(timeout time.Duration) *InMemoryBroker {
	return &InMemoryBroker{
		pending:  make(map[string]*Pending),
		timeout:  timeout,
		notifyCh: make(chan struct{}, 100),
	}
}

// Await parks the calling request until a ruling arrives, the approval
// timeout elapses, or ctx is cancelled. Timeout yields a denial with
// TimedOut set rather than an error.
func (b *InMemoryBroker) Await(ctx context.Context, p Pending) (Ruling, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.Status = StatusPending

	resultCh := make(chan Ruling, 1)
	p.resultCh = resultCh

	b.addPending(&p)
	b.notifyWatchers()

	log.Info().Str("id", p.ID).Str("command", p.Command).Str("source", p.SourceLabel).
		Msg("approval pending")

	return b.wait(ctx, p.ID, resultCh)
}

func (b *InMemoryBroker) GetPending(ctx context.Context) ([]Pending, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pending := make([]Pending, 0, len(b.pending))
	for _, p := range b.pending {
		pending = append(pending, *p)
	}

	return pending, nil
}

// Resolve delivers a ruling to the waiter. Unknown ids mean the
// request was already decided, timed out, or never existed.
func (b *InMemoryBroker) Resolve(ctx context.Context, id string, ruling Ruling) error {
	b.mu.Lock()
	p, exists := b.pending[id]
	if !exists {
		b.mu.Unlock()
		return fmt.Errorf("pending approval not found: %s", id)
	}

	delete(b.pending, id)
	b.mu.Unlock()

	p.Status = StatusDenied
	if ruling.Approved {
		p.Status = StatusApproved
	}

	select {
	case p.resultCh <- ruling:
		log.Info().Str("id", id).Bool("approved", ruling.Approved).
			Str("decided_by", ruling.DecidedBy).Msg("approval resolved")
	default:
		log.Warn().Str("id", id).Msg("waiter gone, ruling dropped")
	}

	b.notifyWatchers()
	return nil
}

func (b *InMemoryBroker) NotifyChannel() <-chan struct{} {
	return b.notifyCh
}

func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for id, p := range b.pending {
		close(p.resultCh)
		delete(b.pending, id)
	}

	close(b.notifyCh)
	return nil
}

func (b *InMemoryBroker) addPending(p *Pending) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[p.ID] = p
}

func (b *InMemoryBroker) wait(ctx context.Context, id string, resultCh <-chan Ruling) (Ruling, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	select {
	case ruling := <-resultCh:
		return ruling, nil
	case <-timeoutCtx.Done():
		b.abandon(id)
		if err := ctx.Err(); err != nil {
			return Ruling{}, err
		}
		return Ruling{TimedOut: true}, nil
	}
}

func (b *InMemoryBroker) abandon(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, exists := b.pending[id]; exists {
		p.Status = StatusTimeout
		delete(b.pending, id)
		close(p.resultCh)
		log.Warn().Str("id", id).Msg("approval timed out")
	}

	b.notifyWatchersLocked()
}

func (b *InMemoryBroker) notifyWatchers() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.notifyWatchersLocked()
}

func (b *InMemoryBroker) notifyWatchersLocked() {
	if b.closed {
		return
	}
	select {
	case b.notifyCh <- struct{}{}:
	default:
	}
}
