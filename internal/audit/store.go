package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cmdwarden/warden/internal/core"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.configure(); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Append writes the complete record for one request. Executed requests
// land with their outcome still unknown and pick it up later through
// AttachResult; every other action is final at append time.
func (s *SQLiteStore) Append(ctx context.Context, rec core.Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	flags, err := encodeFlags(rec.Verdict.Flags)
	if err != nil {
		return err
	}

	var res core.ExecutionResult
	state := core.OutcomeNotRun
	switch rec.Decision.Action {
	case core.ActionExecute:
		state = core.OutcomeUnknown
	case core.ActionSimulate:
		res = *rec.Result
		state = res.State
	}

	_, err = s.execWithRetry(ctx, queryInsertRecord,
		rec.Request.ID,
		formatTime(rec.Request.ReceivedAt),
		string(rec.Request.Source),
		rec.Request.SourceLabel,
		rec.Request.RawText,
		rec.Suggestion.ModelOutput,
		rec.Suggestion.Command,
		rec.Suggestion.Ambiguous,
		string(rec.Verdict.Classification),
		rec.Verdict.MatchedRule,
		flags,
		string(rec.Decision.Mode),
		string(rec.Decision.Action),
		string(rec.Decision.ApprovedBy),
		string(rec.Decision.Reason),
		formatTime(rec.Decision.DecidedAt),
		nullableExitCode(res.ExitCode),
		res.Stdout,
		res.Stderr,
		nullableTime(res.StartedAt),
		nullableTime(res.FinishedAt),
		res.TimedOut,
		res.Truncated,
		string(state),
	)
	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// AttachResult fills in the outcome of an executed request, exactly
// once. Re-attaching an identical result is a no-op; anything else is
// a conflict.
func (s *SQLiteStore) AttachResult(ctx context.Context, requestID string, res core.ExecutionResult) error {
	if err := validateResult(res); err != nil {
		return err
	}

	out, err := s.execWithRetry(ctx, queryAttachResult,
		nullableExitCode(res.ExitCode),
		res.Stdout,
		res.Stderr,
		nullableTime(res.StartedAt),
		nullableTime(res.FinishedAt),
		res.TimedOut,
		res.Truncated,
		string(res.State),
		requestID,
	)
	if err != nil {
		return fmt.Errorf("attach result: %w", err)
	}

	n, err := out.RowsAffected()
	if err != nil {
		return fmt.Errorf("attach result: %w", err)
	}
	if n == 1 {
		return nil
	}

	existing, err := s.ByRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if existing.Result != nil && sameOutcome(*existing.Result, res) {
		return nil
	}
	return fmt.Errorf("%w: request %s", ErrResultConflict, requestID)
}

func (s *SQLiteStore) ByRequest(ctx context.Context, requestID string) (core.Record, error) {
	rows, err := s.db.QueryContext(ctx, queryByRequest, requestID)
	if err != nil {
		return core.Record{}, fmt.Errorf("query record: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return core.Record{}, err
	}
	if len(recs) == 0 {
		return core.Record{}, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
	}
	return recs[0], nil
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]core.Record, error) {
	if limit <= 0 {
		limit = defaultFilterLimit
	}

	rows, err := s.db.QueryContext(ctx, queryRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (s *SQLiteStore) Filter(ctx context.Context, q Query) ([]core.Record, error) {
	var conds []string
	var args []any

	if q.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, string(q.Action))
	}
	if q.Outcome != "" {
		conds = append(conds, "outcome_state = ?")
		args = append(args, string(q.Outcome))
	}
	if q.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, string(q.Source))
	}
	if !q.Since.IsZero() {
		conds = append(conds, "decided_at >= ?")
		args = append(args, formatTime(q.Since))
	}
	if !q.Until.IsZero() {
		conds = append(conds, "decided_at < ?")
		args = append(args, formatTime(q.Until))
	}
	if q.Search != "" {
		conds = append(conds, "(raw_text LIKE ? OR command LIKE ?)")
		pattern := "%" + q.Search + "%"
		args = append(args, pattern, pattern)
	}

	query := querySelectRecord
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultFilterLimit
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query filter: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, queryStats).Scan(
		&st.Total,
		&st.Executed,
		&st.Simulated,
		&st.Skipped,
		&st.Rejected,
		&st.Succeeded,
		&st.Failed,
		&st.TimedOut,
		&st.Unknown,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-64000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute pragma: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) initializeSchema() error {
	for _, stmt := range schemaStatements() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("execute schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	const maxRetries = 3
	var out sql.Result
	var err error

	for attempt := 0; attempt < maxRetries; attempt++ {
		out, err = s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return out, nil
		}

		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			backoff := time.Duration(attempt+1) * 10 * time.Millisecond
			time.Sleep(backoff)
			continue
		}

		return nil, err
	}

	return nil, fmt.Errorf("after %d retries: %w", maxRetries, err)
}

func sameOutcome(stored, res core.ExecutionResult) bool {
	if stored.State != res.State || stored.Stdout != res.Stdout || stored.Stderr != res.Stderr {
		return false
	}
	if (stored.ExitCode == nil) != (res.ExitCode == nil) {
		return false
	}
	if stored.ExitCode != nil && *stored.ExitCode != *res.ExitCode {
		return false
	}
	return true
}

var _ Store = (*SQLiteStore)(nil)
