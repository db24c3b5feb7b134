package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cmdwarden/warden/internal/core"
)

// printOutcome renders one finished record for a console user. Command
// output goes to out untouched; everything warden itself has to say
// goes to errOut so the streams stay pipeable.
func printOutcome(out, errOut io.Writer, rec core.Record, verbose bool) {
	switch rec.Decision.Action {
	case core.ActionExecute:
		printExecution(out, errOut, rec, verbose)
	case core.ActionSimulate:
		fmt.Fprintf(out, "[dry-run] would execute: %s\n", rec.Verdict.Command)
	case core.ActionSkipLogged:
		fmt.Fprintf(out, "[audit-only] recorded without execution: %s\n", rec.Verdict.Command)
	case core.ActionRejected:
		printRejection(errOut, rec)
	}
}

func printExecution(out, errOut io.Writer, rec core.Record, verbose bool) {
	res := rec.Result
	if res == nil {
		fmt.Fprintln(errOut, "[warden] command was approved but no result was recorded")
		return
	}

	if res.Stdout != "" {
		fmt.Fprint(out, res.Stdout)
		if !strings.HasSuffix(res.Stdout, "\n") {
			fmt.Fprintln(out)
		}
	}
	if res.Stderr != "" {
		fmt.Fprint(errOut, res.Stderr)
		if !strings.HasSuffix(res.Stderr, "\n") {
			fmt.Fprintln(errOut)
		}
	}
	if res.Truncated {
		fmt.Fprintln(errOut, "[warden] output truncated at the configured limit")
	}

	switch res.State {
	case core.OutcomeTimedOut:
		fmt.Fprintln(errOut, "[warden] command timed out")
	case core.OutcomeFailed:
		if res.ExitCode != nil {
			fmt.Fprintf(errOut, "[warden] command exited with status %d\n", *res.ExitCode)
		} else {
			fmt.Fprintln(errOut, "[warden] command failed to start")
		}
	case core.OutcomeSucceeded:
		if verbose {
			elapsed := res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond)
			fmt.Fprintf(errOut, "[warden] ok (%s)\n", elapsed)
		}
	}
}

func printRejection(errOut io.Writer, rec core.Record) {
	reason := string(rec.Decision.Reason)
	if reason == "" {
		reason = "rejected"
	}

	switch rec.Decision.Reason {
	case core.ReasonPolicyDenied:
		if rec.Verdict.MatchedRule != "" {
			fmt.Fprintf(errOut, "[rejected] policy denied %q (rule: %s)\n", rec.Verdict.Command, rec.Verdict.MatchedRule)
			return
		}
		fmt.Fprintf(errOut, "[rejected] policy denied %q\n", rec.Verdict.Command)
	case core.ReasonNoCommand:
		fmt.Fprintln(errOut, "[rejected] the model produced no usable command")
	case core.ReasonApprovalTimeout:
		fmt.Fprintln(errOut, "[rejected] approval timed out")
	case core.ReasonApprovalDenied:
		fmt.Fprintln(errOut, "[rejected] approval denied")
	case core.ReasonRateLimited:
		fmt.Fprintln(errOut, "[rejected] rate limited, slow down")
	case core.ReasonInferenceDown:
		fmt.Fprintln(errOut, "[rejected] inference backend unavailable")
	default:
		fmt.Fprintf(errOut, "[rejected] %s\n", reason)
	}
}

// exitCodeFor maps a record onto a process exit status: the command's
// own status when it ran, 124 for a timeout, 1 for anything refused.
func exitCodeFor(rec core.Record) int {
	switch rec.Decision.Action {
	case core.ActionSimulate, core.ActionSkipLogged:
		return 0
	case core.ActionRejected:
		return 1
	case core.ActionExecute:
		res := rec.Result
		if res == nil {
			return 1
		}
		if res.State == core.OutcomeTimedOut {
			return 124
		}
		if res.ExitCode != nil {
			return *res.ExitCode
		}
		return 1
	}
	return 0
}
