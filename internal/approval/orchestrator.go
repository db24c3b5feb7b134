package approval

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cmdwarden/warden/internal/core"
)

// Orchestrator resolves a verdict and an execution mode into the final
// action. A denial rejects in every mode with no exception; dry-run
// simulates, audit-only records without running, and anything that
// needs a human suspends on the broker until ruled on or timed out.
type Orchestrator struct {
	broker Broker
}

func NewOrchestrator(broker Broker) *Orchestrator {
	return &Orchestrator{broker: broker}
}

// Decide maps (mode, classification) onto an action. It blocks only
// when a human ruling is required; the returned error is non-nil only
// for context cancellation.
func (o *Orchestrator) Decide(ctx context.Context, req core.Request, v core.Verdict, mode core.ExecMode) (core.Decision, error) {
	if v.Classification == core.ClassDenied {
		return decided(mode, core.ActionRejected, core.ApprovedByNone, core.ReasonPolicyDenied), nil
	}

	switch mode {
	case core.ModeDryRun:
		return decided(mode, core.ActionSimulate, core.ApprovedByNone, core.ReasonNone), nil

	case core.ModeAuditOnly:
		return decided(mode, core.ActionSkipLogged, core.ApprovedByNone, core.ReasonNone), nil

	case core.ModeAutoApprove:
		if v.Classification == core.ClassAllowed {
			return decided(mode, core.ActionExecute, core.ApprovedByPolicy, core.ReasonNone), nil
		}
		return o.awaitHuman(ctx, req, v, mode)

	default: // prompt
		return o.awaitHuman(ctx, req, v, mode)
	}
}

func (o *Orchestrator) awaitHuman(ctx context.Context, req core.Request, v core.Verdict, mode core.ExecMode) (core.Decision, error) {
	ruling, err := o.broker.Await(ctx, Pending{
		ID:          req.ID,
		Command:     v.Command,
		Source:      req.Source,
		SourceLabel: req.SourceLabel,
		Input:       req.RawText,
		MatchedRule: v.MatchedRule,
		Flags:       v.Flags,
	})
	if err != nil {
		return decided(mode, core.ActionRejected, core.ApprovedByNone, core.ReasonApprovalDenied), err
	}

	switch {
	case ruling.TimedOut:
		return decided(mode, core.ActionRejected, core.ApprovedByNone, core.ReasonApprovalTimeout), nil
	case !ruling.Approved:
		log.Info().Str("id", req.ID).Str("decided_by", ruling.DecidedBy).Msg("command rejected by human")
		return decided(mode, core.ActionRejected, core.ApprovedByHuman, core.ReasonApprovalDenied), nil
	default:
		return decided(mode, core.ActionExecute, core.ApprovedByHuman, core.ReasonNone), nil
	}
}

func decided(mode core.ExecMode, action core.Action, by core.Approver, reason core.ReasonCode) core.Decision {
	return core.Decision{
		Mode:       mode,
		Action:     action,
		ApprovedBy: by,
		Reason:     reason,
		DecidedAt:  time.Now().UTC(),
	}
}
