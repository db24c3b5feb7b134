package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cmdwarden/warden/internal/approval"
	"github.com/cmdwarden/warden/internal/audit"
	"github.com/cmdwarden/warden/internal/config"
	"github.com/cmdwarden/warden/internal/core"
	"github.com/cmdwarden/warden/internal/execute"
	"github.com/cmdwarden/warden/internal/guard"
	"github.com/cmdwarden/warden/internal/infer"
	"github.com/cmdwarden/warden/internal/parse"
)

// Pipeline runs a request through every stage in fixed order: rate
// guard, inference, parse, policy validation, mode resolution, ledger,
// execution. Each request takes one config snapshot at entry and keeps
// it for life, so a hot reload never changes the rules mid-flight.
type Pipeline struct {
	cfg       *config.Manager
	guard     *guard.Guard
	suggester infer.Suggester
	orch      *approval.Orchestrator
	store     audit.Store
}

func New(cfg *config.Manager, g *guard.Guard, s infer.Suggester, o *approval.Orchestrator, store audit.Store) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		guard:     g,
		suggester: s,
		orch:      o,
		store:     store,
	}
}

// Process handles one natural-language request end to end. The
// returned record is complete even when err is non-nil; err reports
// pipeline faults (ledger write refused, approval wait cancelled), not
// command failures, which land inside the record as a normal outcome.
func (p *Pipeline) Process(ctx context.Context, source core.SourceKind, label, rawText string) (core.Record, error) {
	snap := p.cfg.Current()
	mode := snap.ExecMode()

	req := core.NewRequest(source, label, rawText)
	rec := core.Record{Request: req}

	log.Info().
		Str("request_id", req.ID).
		Str("source", string(source)).
		Str("mode", string(mode)).
		Msg("request received")

	if ok, detail := p.guard.Admit(admitKey(source, label)); !ok {
		log.Warn().Str("request_id", req.ID).Str("detail", detail).Msg("request rate limited")
		rec.Decision = rejection(mode, core.ReasonRateLimited)
		return p.seal(ctx, rec)
	}

	out, err := p.suggester.Suggest(ctx, rawText)
	if err != nil {
		log.Error().Err(err).Str("request_id", req.ID).Msg("inference failed")
		rec.Decision = rejection(mode, core.ReasonInferenceDown)
		return p.seal(ctx, rec)
	}

	rec.Suggestion = parse.Parse(out)
	if rec.Suggestion.ParseFailure != core.ReasonNone {
		log.Warn().Str("request_id", req.ID).Msg("no command extracted from model output")
		rec.Decision = rejection(mode, rec.Suggestion.ParseFailure)
		return p.seal(ctx, rec)
	}

	rec.Verdict = snap.Rules().Validate(rec.Suggestion.Command)

	log.Info().
		Str("request_id", req.ID).
		Str("command", rec.Verdict.Command).
		Str("classification", string(rec.Verdict.Classification)).
		Str("matched_rule", rec.Verdict.MatchedRule).
		Msg("command classified")

	dec, decideErr := p.orch.Decide(ctx, req, rec.Verdict, mode)
	rec.Decision = dec
	if decideErr != nil {
		rec, err := p.seal(ctx, rec)
		if err != nil {
			return rec, err
		}
		return rec, decideErr
	}

	switch dec.Action {
	case core.ActionExecute:
		return p.execute(ctx, rec, snap)
	case core.ActionSimulate:
		res := execute.Simulate()
		rec.Result = &res
	}
	return p.seal(ctx, rec)
}

// execute appends the record with its outcome still open, runs the
// command, then attaches the result. The append happens first: if the
// ledger cannot take the row, nothing runs.
func (p *Pipeline) execute(ctx context.Context, rec core.Record, snap *config.Config) (core.Record, error) {
	if err := p.store.Append(ctx, rec); err != nil {
		log.Error().Err(err).Str("request_id", rec.Request.ID).Msg("ledger write failed, refusing to execute")
		rec.Decision.Action = core.ActionRejected
		rec.Decision.Reason = core.ReasonLedgerWrite
		return rec, fmt.Errorf("ledger write failed: %w", err)
	}

	runner := execute.NewRunner(execute.Limits{
		Timeout:        snap.Executor.Timeout(),
		MaxOutputBytes: snap.Executor.MaxOutputBytes,
		Grace:          snap.Executor.Grace(),
	})
	res := runner.Run(ctx, rec.Verdict.Command)
	rec.Result = &res

	log.Info().
		Str("request_id", rec.Request.ID).
		Str("state", string(res.State)).
		Bool("timed_out", res.TimedOut).
		Msg("execution finished")

	if err := p.store.AttachResult(ctx, rec.Request.ID, res); err != nil {
		log.Error().Err(err).Str("request_id", rec.Request.ID).Msg("result attach failed")
		return rec, fmt.Errorf("attach result: %w", err)
	}
	return rec, nil
}

// seal appends a record that will never execute. A failed append
// downgrades the record to a ledger-write rejection so the caller sees
// why nothing is durable.
func (p *Pipeline) seal(ctx context.Context, rec core.Record) (core.Record, error) {
	if err := p.store.Append(ctx, rec); err != nil {
		log.Error().Err(err).Str("request_id", rec.Request.ID).Msg("ledger write failed")
		rec.Decision.Action = core.ActionRejected
		rec.Decision.ApprovedBy = core.ApprovedByNone
		rec.Decision.Reason = core.ReasonLedgerWrite
		rec.Result = nil
		return rec, fmt.Errorf("ledger write failed: %w", err)
	}
	return rec, nil
}

func rejection(mode core.ExecMode, reason core.ReasonCode) core.Decision {
	return core.Decision{
		Mode:       mode,
		Action:     core.ActionRejected,
		ApprovedBy: core.ApprovedByNone,
		Reason:     reason,
		DecidedAt:  time.Now().UTC(),
	}
}

func admitKey(source core.SourceKind, label string) string {
	if label != "" {
		return label
	}
	return string(source)
}
