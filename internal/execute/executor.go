package execute

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cmdwarden/warden/internal/core"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxOutput = 1 << 20
	defaultGrace     = 5 * time.Second
)

// Limits bounds one subprocess: wall-clock timeout, captured output
// size, and the grace period between SIGTERM and SIGKILL.
type Limits struct {
	Timeout        time.Duration
	MaxOutputBytes int
	Grace          time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.Timeout <= 0 {
		l.Timeout = defaultTimeout
	}
	if l.MaxOutputBytes <= 0 {
		l.MaxOutputBytes = defaultMaxOutput
	}
	if l.Grace <= 0 {
		l.Grace = defaultGrace
	}
	return l
}

// Runner executes approved commands through /bin/sh with bounded time
// and output. It never retries: a failed or timed-out command is
// reported, not resubmitted.
type Runner struct {
	limits Limits
}

func NewRunner(limits Limits) *Runner {
	return &Runner{limits: limits.withDefaults()}
}

// Run executes one command. On timeout the process gets SIGTERM and,
// after the grace period, SIGKILL; the result is marked timed out
// either way. Errors surface inside the result, never as a Go error,
// so callers treat failure as a normal outcome.
func (r *Runner) Run(ctx context.Context, command string) core.ExecutionResult {
	runCtx, cancel := context.WithTimeout(ctx, r.limits.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	stdout := &cappedBuffer{max: r.limits.MaxOutputBytes}
	stderr := &cappedBuffer{max: r.limits.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.limits.Grace

	started := time.Now().UTC()
	err := cmd.Run()
	finished := time.Now().UTC()

	res := core.ExecutionResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		StartedAt:  started,
		FinishedAt: finished,
		Truncated:  stdout.truncated || stderr.truncated,
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.State = core.OutcomeTimedOut
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			res.ExitCode = &code
		}
		log.Warn().Str("command", command).Dur("timeout", r.limits.Timeout).Msg("execution timed out")

	case err == nil:
		code := 0
		res.ExitCode = &code
		res.State = core.OutcomeSucceeded

	case errors.As(err, &exitErr):
		code := exitErr.ExitCode()
		res.ExitCode = &code
		res.State = core.OutcomeFailed

	default:
		// The subprocess never ran (spawn failure): fate is known,
		// output is the error itself.
		res.State = core.OutcomeFailed
		res.Stderr = err.Error()
	}

	return res
}

// Simulate produces the dry-run result for a command without spawning
// anything: no stdout, no stderr, no exit code, just the SIMULATED
// marker with timestamps.
func Simulate() core.ExecutionResult {
	now := time.Now().UTC()
	return core.ExecutionResult{
		StartedAt:  now,
		FinishedAt: now,
		State:      core.OutcomeSimulated,
	}
}

// cappedBuffer keeps at most max bytes and flags overflow instead of
// failing the writer, so a chatty subprocess is never broken by the
// cap.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remain := b.max - b.buf.Len()
	switch {
	case remain >= len(p):
		b.buf.Write(p)
	case remain > 0:
		b.buf.Write(p[:remain])
		b.truncated = true
	case len(p) > 0:
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
