package audit

import (
	"fmt"

	"github.com/cmdwarden/warden/internal/core"
)

func validateRecord(rec core.Record) error {
	if rec.Request.ID == "" {
		return fmt.Errorf("request id cannot be empty")
	}

	if _, err := core.ParseExecMode(string(rec.Decision.Mode)); err != nil {
		return fmt.Errorf("invalid mode: %s", rec.Decision.Mode)
	}

	switch rec.Decision.Action {
	case core.ActionExecute:
		if rec.Result != nil {
			return fmt.Errorf("executed records take their result through AttachResult")
		}
	case core.ActionSimulate:
		if rec.Result == nil || rec.Result.State != core.OutcomeSimulated {
			return fmt.Errorf("simulated records carry a simulated result")
		}
	case core.ActionSkipLogged, core.ActionRejected:
		if rec.Result != nil {
			return fmt.Errorf("%s records carry no result", rec.Decision.Action)
		}
		if rec.Decision.Action == core.ActionRejected && rec.Decision.Reason == "" {
			return fmt.Errorf("rejected records need a reason")
		}
	default:
		return fmt.Errorf("invalid action: %s", rec.Decision.Action)
	}

	switch rec.Decision.ApprovedBy {
	case core.ApprovedByHuman, core.ApprovedByPolicy, core.ApprovedByNone:
	default:
		return fmt.Errorf("invalid approver: %s", rec.Decision.ApprovedBy)
	}

	return nil
}

func validateResult(res core.ExecutionResult) error {
	switch res.State {
	case core.OutcomeSucceeded, core.OutcomeFailed, core.OutcomeTimedOut:
		return nil
	default:
		return fmt.Errorf("invalid terminal outcome: %s", res.State)
	}
}
