package audit

import (
	"context"
	"errors"
	"time"

	"github.com/cmdwarden/warden/internal/core"
)

var (
	// ErrNotFound reports a request id with no ledger row.
	ErrNotFound = errors.New("audit: record not found")

	// ErrResultConflict reports an attach against a row that is not
	// awaiting a result, with a different outcome than the one stored.
	ErrResultConflict = errors.New("audit: record not awaiting this result")
)

// Query narrows Filter. Zero-valued fields are ignored.
type Query struct {
	Action  core.Action
	Outcome core.Outcome
	Source  core.SourceKind
	Since   time.Time
	Until   time.Time
	Search  string
	Limit   int
}

// Stats summarizes the ledger by action and by execution outcome.
type Stats struct {
	Total     int64 `json:"total"`
	Executed  int64 `json:"executed"`
	Simulated int64 `json:"simulated"`
	Skipped   int64 `json:"skipped"`
	Rejected  int64 `json:"rejected"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	TimedOut  int64 `json:"timed_out"`
	Unknown   int64 `json:"unknown"`
}

// Store is the append-only request ledger. Every processed request
// gets exactly one row, written before any execution starts; rows are
// never rewritten except for the single result attach on executed
// requests.
type Store interface {
	Append(ctx context.Context, rec core.Record) error
	AttachResult(ctx context.Context, requestID string, res core.ExecutionResult) error
	ByRequest(ctx context.Context, requestID string) (core.Record, error)
	Recent(ctx context.Context, limit int) ([]core.Record, error)
	Filter(ctx context.Context, q Query) ([]core.Record, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
