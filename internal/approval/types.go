package approval

import (
	"context"
	"time"

	"github.com/cmdwarden/warden/internal/core"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusTimeout  Status = "timeout"
)

// Pending is one command waiting for a human ruling. ID matches the
// pipeline request it belongs to.
type Pending struct {
	ID          string                  `json:"id"`
	Command     string                  `json:"command"`
	Source      core.SourceKind         `json:"source"`
	SourceLabel string                  `json:"source_label"`
	Input       string                  `json:"input"`
	MatchedRule string                  `json:"matched_rule,omitempty"`
	Flags       []core.SanitizationFlag `json:"flags,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	Status      Status                  `json:"status"`

	resultCh chan<- Ruling
}

// Ruling is a human's answer for one pending command. TimedOut is set
// by the broker itself when no answer arrived in time.
type Ruling struct {
	Approved  bool   `json:"approved"`
	DecidedBy string `json:"decided_by,omitempty"`
	Note      string `json:"note,omitempty"`
	TimedOut  bool   `json:"-"`
}

// Broker suspends requests that need a human and routes rulings back
// to them. Each waiting request owns its channel, so one pending
// approval never blocks another.
type Broker interface {
	Await(ctx context.Context, p Pending) (Ruling, error)
	GetPending(ctx context.Context) ([]Pending, error)
	Resolve(ctx context.Context, id string, ruling Ruling) error
	NotifyChannel() <-chan struct{}
	Close() error
}
