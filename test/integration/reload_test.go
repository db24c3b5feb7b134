package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmdwarden/warden/internal/approval"
	"github.com/cmdwarden/warden/internal/core"
)

// TestPolicyHotReload flips a command from blacklisted to whitelisted
// through a config rewrite and checks the next request sees the new
// rules without any restart.
func TestPolicyHotReload(t *testing.T) {
	env := SetupTestEnvironment(t, Options{
		PolicyYAML: `policy:
  whitelist: ["echo"]
  blacklist: ["date"]
`,
	})

	rec, err := env.Process("date")
	require.NoError(t, err)
	assert.Equal(t, core.ActionRejected, rec.Decision.Action)
	assert.Equal(t, core.ReasonPolicyDenied, rec.Decision.Reason)

	env.Rewrite(Options{
		PolicyYAML: `policy:
  whitelist: ["echo", "date"]
`,
	})

	rec, err = env.Process("date")
	require.NoError(t, err)
	assert.Equal(t, core.ActionExecute, rec.Decision.Action)
	require.NotNil(t, rec.Result)
	assert.Equal(t, core.OutcomeSucceeded, rec.Result.State)
}

// TestModeHotReload swaps the execution mode at runtime.
func TestModeHotReload(t *testing.T) {
	env := SetupTestEnvironment(t, Options{Mode: core.ModeAutoApprove})

	rec, err := env.Process("echo live")
	require.NoError(t, err)
	assert.Equal(t, core.ActionExecute, rec.Decision.Action)

	env.Rewrite(Options{Mode: core.ModeDryRun})

	rec, err = env.Process("echo live")
	require.NoError(t, err)
	assert.Equal(t, core.ActionSimulate, rec.Decision.Action)
	require.NotNil(t, rec.Result)
	assert.Equal(t, core.OutcomeSimulated, rec.Result.State)
}

// TestRateLimitHotReload tightens the rate limit at runtime; the guard
// must pick up the new thresholds through the reload callback.
func TestRateLimitHotReload(t *testing.T) {
	env := SetupTestEnvironment(t, Options{})

	for _, input := range []string{"echo a", "echo b"} {
		rec, err := env.Process(input)
		require.NoError(t, err)
		assert.Equal(t, core.ActionExecute, rec.Decision.Action)
	}

	env.Rewrite(Options{CooldownSecs: 300})

	// The source's last admission was a moment ago, so the new cooldown
	// applies immediately.
	rec, err := env.Process("echo c")
	require.NoError(t, err)
	assert.Equal(t, core.ActionRejected, rec.Decision.Action)
	assert.Equal(t, core.ReasonRateLimited, rec.Decision.Reason)
}

// TestInFlightRequestKeepsItsSnapshot reloads the config while a
// request is suspended on approval; the request must finish under the
// mode it started with.
func TestInFlightRequestKeepsItsSnapshot(t *testing.T) {
	env := SetupTestEnvironment(t, Options{Mode: core.ModePrompt})

	recCh := make(chan core.Record, 1)
	go func() {
		rec, _ := env.Process("echo suspended")
		recCh <- rec
	}()

	pending := env.WaitForPending(3 * time.Second)
	require.Len(t, pending, 1)

	env.Rewrite(Options{Mode: core.ModeAutoApprove})

	err := env.Broker.Resolve(context.Background(), pending[0].ID, approval.Ruling{
		Approved: true, DecidedBy: "reviewer",
	})
	require.NoError(t, err)

	select {
	case rec := <-recCh:
		assert.Equal(t, core.ModePrompt, rec.Decision.Mode, "in-flight request should keep its entry snapshot")
		assert.Equal(t, core.ApprovedByHuman, rec.Decision.ApprovedBy)
	case <-time.After(5 * time.Second):
		t.Fatal("suspended request never finished")
	}

	// A fresh request sees the reloaded mode and skips the queue.
	rec, err := env.Process("echo fresh")
	require.NoError(t, err)
	assert.Equal(t, core.ModeAutoApprove, rec.Decision.Mode)
	assert.Equal(t, core.ApprovedByPolicy, rec.Decision.ApprovedBy)
}

// TestBrokenReloadKeepsRunningConfig writes an invalid document over
// the config file; the reload must fail and the old snapshot stay
// active.
func TestBrokenReloadKeepsRunningConfig(t *testing.T) {
	env := SetupTestEnvironment(t, Options{})

	require.NoError(t, os.WriteFile(env.ConfigPath, []byte("execution_mode: yolo\n"), 0o644))
	err := env.Manager.Reload()
	require.Error(t, err)

	assert.Equal(t, core.ModeAutoApprove, env.Manager.Current().ExecMode())

	rec, err := env.Process("echo unshaken")
	require.NoError(t, err)
	assert.Equal(t, core.ActionExecute, rec.Decision.Action)
}
