package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceKind identifies the interface a request arrived through.
type SourceKind string

const (
	SourceCLI       SourceKind = "cli"
	SourceFile      SourceKind = "file"
	SourceVoice     SourceKind = "voice"
	SourceWeb       SourceKind = "web"
	SourceScheduled SourceKind = "scheduled"
)

// ParseSourceKind maps a wire/config string onto a SourceKind.
func ParseSourceKind(s string) (SourceKind, error) {
	switch SourceKind(strings.ToLower(strings.TrimSpace(s))) {
	case SourceCLI:
		return SourceCLI, nil
	case SourceFile:
		return SourceFile, nil
	case SourceVoice:
		return SourceVoice, nil
	case SourceWeb:
		return SourceWeb, nil
	case SourceScheduled:
		return SourceScheduled, nil
	}
	return "", fmt.Errorf("unknown source kind %q", s)
}

// ExecMode is the session-level execution mode chosen by the operator.
type ExecMode string

const (
	ModePrompt      ExecMode = "prompt"
	ModeAutoApprove ExecMode = "auto_approve"
	ModeDryRun      ExecMode = "dry_run"
	ModeAuditOnly   ExecMode = "audit_only"
)

func ParseExecMode(s string) (ExecMode, error) {
	switch ExecMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePrompt:
		return ModePrompt, nil
	case ModeAutoApprove:
		return ModeAutoApprove, nil
	case ModeDryRun:
		return ModeDryRun, nil
	case ModeAuditOnly:
		return ModeAuditOnly, nil
	}
	return "", fmt.Errorf("unknown execution mode %q", s)
}

// Classification is the safety verdict for a parsed command.
type Classification string

const (
	ClassAllowed       Classification = "allowed"
	ClassDenied        Classification = "denied"
	ClassNeedsApproval Classification = "needs_approval"
)

// Action is what the pipeline resolved to do with the command.
type Action string

const (
	ActionExecute    Action = "execute"
	ActionSimulate   Action = "simulate"
	ActionSkipLogged Action = "skip_logged"
	ActionRejected   Action = "rejected"
)

// Approver records which authority cleared a command for execution.
type Approver string

const (
	ApprovedByHuman  Approver = "human"
	ApprovedByPolicy Approver = "policy"
	ApprovedByNone   Approver = "none"
)

// Outcome is the terminal state of the execution attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeSimulated Outcome = "simulated"
	OutcomeNotRun    Outcome = "not_run"
	OutcomeUnknown   Outcome = "unknown"
)

// ReasonCode is the failure vocabulary for the whole pipeline, carried
// on records so callers can branch without string matching. Rejections
// set it on the decision; execution failures keep it out of the
// decision and surface through the result state instead.
type ReasonCode string

const (
	ReasonNone            ReasonCode = ""
	ReasonNoCommand       ReasonCode = "no_command_found"
	ReasonAmbiguous       ReasonCode = "ambiguous_command"
	ReasonPolicyDenied    ReasonCode = "policy_denied"
	ReasonRateLimited     ReasonCode = "rate_limited"
	ReasonApprovalTimeout ReasonCode = "approval_timed_out"
	ReasonApprovalDenied  ReasonCode = "approval_rejected"
	ReasonExecTimeout     ReasonCode = "execution_timed_out"
	ReasonExecFailed      ReasonCode = "execution_failed"
	ReasonInferenceDown   ReasonCode = "inference_unavailable"
	ReasonLedgerWrite     ReasonCode = "ledger_write_failed"
)

// SanitizationFlag marks a shell construct worth a second look. Flags
// never change a denial; they can only escalate an allow.
type SanitizationFlag string

const (
	FlagPipe         SanitizationFlag = "pipe"
	FlagSubstitution SanitizationFlag = "command_substitution"
	FlagRedirect     SanitizationFlag = "redirect"
	FlagDeviceWrite  SanitizationFlag = "device_write"
	FlagBackground   SanitizationFlag = "background"
	FlagChaining     SanitizationFlag = "chaining"
	FlagUnparseable  SanitizationFlag = "unparseable"
)

// Request is the immutable intake record for one piece of operator input.
type Request struct {
	ID          string     `json:"id"`
	Source      SourceKind `json:"source"`
	SourceLabel string     `json:"source_label"`
	RawText     string     `json:"raw_text"`
	ReceivedAt  time.Time  `json:"received_at"`
}

// NewRequest stamps a fresh request with a UUID and the current time.
func NewRequest(source SourceKind, label, rawText string) Request {
	return Request{
		ID:          uuid.NewString(),
		Source:      source,
		SourceLabel: label,
		RawText:     rawText,
		ReceivedAt:  time.Now().UTC(),
	}
}

// Suggestion is what the model proposed and what the parser made of it.
type Suggestion struct {
	ModelOutput  string     `json:"model_output"`
	Command      string     `json:"command,omitempty"`
	ParseFailure ReasonCode `json:"parse_failure,omitempty"`
	Ambiguous    bool       `json:"ambiguous,omitempty"`
}

// Verdict is the safety classification of a parsed command.
type Verdict struct {
	Command        string             `json:"command"`
	Classification Classification     `json:"classification"`
	MatchedRule    string             `json:"matched_rule,omitempty"`
	Flags          []SanitizationFlag `json:"flags,omitempty"`
}

// Decision resolves mode and verdict into a concrete action.
type Decision struct {
	Mode       ExecMode   `json:"mode"`
	Action     Action     `json:"action"`
	ApprovedBy Approver   `json:"approved_by"`
	Reason     ReasonCode `json:"reason,omitempty"`
	DecidedAt  time.Time  `json:"decided_at"`
}

// ExecutionResult captures one subprocess attempt. ExitCode is nil when
// no process ran or the exit status could not be observed.
type ExecutionResult struct {
	ExitCode   *int      `json:"exit_code,omitempty"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	TimedOut   bool      `json:"timed_out"`
	Truncated  bool      `json:"truncated"`
	State      Outcome   `json:"state"`
}

// Record is the full audit row for one request. Result stays nil until
// an execution result is attached; attachment happens at most once.
type Record struct {
	Request    Request          `json:"request"`
	Suggestion Suggestion       `json:"suggestion"`
	Verdict    Verdict          `json:"verdict"`
	Decision   Decision         `json:"decision"`
	Result     *ExecutionResult `json:"result,omitempty"`
}

// Executed reports whether this record reflects a real subprocess run.
func (r Record) Executed() bool {
	return r.Decision.Action == ActionExecute
}

// Rejected reports whether the pipeline refused the request outright.
func (r Record) Rejected() bool {
	return r.Decision.Action == ActionRejected
}
