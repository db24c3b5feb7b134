package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cmdwarden/warden/internal/core"
)

func scanRecords(rows *sql.Rows) ([]core.Record, error) {
	var recs []core.Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return recs, nil
}

func scanRecord(rows *sql.Rows) (core.Record, error) {
	var (
		rec                    core.Record
		receivedAt, decidedAt  string
		source, classification string
		flagsJSON              string
		mode, action           string
		approvedBy, reason     string
		exitCode               sql.NullInt64
		stdout, stderr         string
		startedAt, finishedAt  sql.NullString
		timedOut, truncated    bool
		outcomeState           string
	)

	err := rows.Scan(
		&rec.Request.ID,
		&receivedAt,
		&source,
		&rec.Request.SourceLabel,
		&rec.Request.RawText,
		&rec.Suggestion.ModelOutput,
		&rec.Suggestion.Command,
		&rec.Suggestion.Ambiguous,
		&classification,
		&rec.Verdict.MatchedRule,
		&flagsJSON,
		&mode,
		&action,
		&approvedBy,
		&reason,
		&decidedAt,
		&exitCode,
		&stdout,
		&stderr,
		&startedAt,
		&finishedAt,
		&timedOut,
		&truncated,
		&outcomeState,
	)
	if err != nil {
		return core.Record{}, fmt.Errorf("scan row: %w", err)
	}

	rec.Request.Source = core.SourceKind(source)
	rec.Request.ReceivedAt, err = parseTimestamp(receivedAt)
	if err != nil {
		return core.Record{}, err
	}

	rec.Verdict.Classification = core.Classification(classification)
	if classification != "" {
		rec.Verdict.Command = rec.Suggestion.Command
	}
	rec.Verdict.Flags, err = decodeFlags(flagsJSON)
	if err != nil {
		return core.Record{}, err
	}

	rec.Decision.Mode = core.ExecMode(mode)
	rec.Decision.Action = core.Action(action)
	rec.Decision.ApprovedBy = core.Approver(approvedBy)
	rec.Decision.Reason = core.ReasonCode(reason)
	rec.Decision.DecidedAt, err = parseTimestamp(decidedAt)
	if err != nil {
		return core.Record{}, err
	}

	// Parse failures never reach the validator, so their record has a
	// suggestion but no verdict.
	if rec.Decision.Reason == core.ReasonNoCommand {
		rec.Suggestion.ParseFailure = core.ReasonNoCommand
	}

	if core.Outcome(outcomeState) != core.OutcomeNotRun {
		res := core.ExecutionResult{
			Stdout:    stdout,
			Stderr:    stderr,
			TimedOut:  timedOut,
			Truncated: truncated,
			State:     core.Outcome(outcomeState),
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			res.ExitCode = &code
		}
		if startedAt.Valid {
			res.StartedAt, err = parseTimestamp(startedAt.String)
			if err != nil {
				return core.Record{}, err
			}
		}
		if finishedAt.Valid {
			res.FinishedAt, err = parseTimestamp(finishedAt.String)
			if err != nil {
				return core.Record{}, err
			}
		}
		rec.Result = &res
	}

	return rec, nil
}

func parseTimestamp(timestamp string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, timestamp)
	if err == nil {
		return t, nil
	}

	// Older rows may carry plain RFC3339 or the SQLite datetime form.
	t, err = time.Parse(time.RFC3339Nano, timestamp)
	if err == nil {
		return t, nil
	}

	t, err = time.Parse("2006-01-02 15:04:05", timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}

	return t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullableExitCode(code *int) any {
	if code == nil {
		return nil
	}
	return *code
}

func encodeFlags(flags []core.SanitizationFlag) (string, error) {
	if len(flags) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(flags)
	if err != nil {
		return "", fmt.Errorf("encode flags: %w", err)
	}
	return string(data), nil
}

func decodeFlags(raw string) ([]core.SanitizationFlag, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var flags []core.SanitizationFlag
	if err := json.Unmarshal([]byte(raw), &flags); err != nil {
		return nil, fmt.Errorf("decode flags: %w", err)
	}
	return flags, nil
}
