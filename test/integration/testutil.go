package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cmdwarden/warden/internal/approval"
	"github.com/cmdwarden/warden/internal/audit"
	"github.com/cmdwarden/warden/internal/config"
	"github.com/cmdwarden/warden/internal/core"
	"github.com/cmdwarden/warden/internal/guard"
	"github.com/cmdwarden/warden/internal/pipeline"
)

// TestEnvironment wires a full pipeline against a config file and a
// SQLite ledger in a temp directory, the same shape `warden serve`
// assembles at startup.
type TestEnvironment struct {
	Manager  *config.Manager
	Guard    *guard.Guard
	Broker   *approval.InMemoryBroker
	Store    audit.Store
	Pipeline *pipeline.Pipeline

	ConfigPath string
	DBPath     string
	t          *testing.T
}

// Options shape the config document written for a scenario. Zero
// values fall back to settings that keep tests fast: generous approval
// window, short exec timeout, rate limiting off.
type Options struct {
	Mode            core.ExecMode
	ExecTimeoutSecs int
	ApprovalSecs    int
	CooldownSecs    int
	WindowSecs      int
	MaxPerWindow    int
	PolicyYAML      string
}

const defaultPolicyYAML = `policy:
  whitelist: ["echo", "true", "false", "sleep", "ls", "pwd", "date"]
  blacklist: ["rm -rf"]
  require_approval_for: ["touch", "mkdir", "docker"]
`

func (o Options) render(dbPath string) string {
	mode := o.Mode
	if mode == "" {
		mode = core.ModeAutoApprove
	}
	execTimeout := o.ExecTimeoutSecs
	if execTimeout == 0 {
		execTimeout = 5
	}
	approvalSecs := o.ApprovalSecs
	if approvalSecs == 0 {
		approvalSecs = 30
	}
	policy := o.PolicyYAML
	if policy == "" {
		policy = defaultPolicyYAML
	}

	return fmt.Sprintf(`execution_mode: %s
executor:
  timeout_seconds: %d
  max_output_bytes: 65536
  grace_seconds: 1
approval:
  timeout_seconds: %d
rate_limit:
  cooldown_seconds: %d
  window_seconds: %d
  max_per_window: %d
audit:
  db_path: %s
%s`, mode, execTimeout, approvalSecs, o.CooldownSecs, o.WindowSecs, o.MaxPerWindow, dbPath, policy)
}

// echoSuggester hands the request text back as the suggestion, so
// scenarios feed shell commands directly and skip the model.
type echoSuggester struct{}

func (echoSuggester) Suggest(_ context.Context, input string) (string, error) {
	return input, nil
}

// SetupTestEnvironment builds every component from one rendered config
// document and registers cleanup on t.
func SetupTestEnvironment(t *testing.T, opts Options) *TestEnvironment {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "audit.db")
	configPath := filepath.Join(tmpDir, "config.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte(opts.render(dbPath)), 0o644))

	manager, err := config.NewManager(configPath)
	require.NoError(t, err)

	snap := manager.Current()

	g := guard.New(snap.RateLimit.Cooldown(), snap.RateLimit.Window(), snap.RateLimit.MaxPerWindow)
	manager.OnReload(func(c *config.Config) {
		g.SetLimits(c.RateLimit.Cooldown(), c.RateLimit.Window(), c.RateLimit.MaxPerWindow)
	})

	store, err := audit.NewSQLiteStore(dbPath)
	require.NoError(t, err)

	broker := approval.NewInMemoryBroker(snap.Approval.Timeout())

	env := &TestEnvironment{
		Manager:    manager,
		Guard:      g,
		Broker:     broker,
		Store:      store,
		Pipeline:   pipeline.New(manager, g, echoSuggester{}, approval.NewOrchestrator(broker), store),
		ConfigPath: configPath,
		DBPath:     dbPath,
		t:          t,
	}

	t.Cleanup(func() {
		env.Broker.Close()
		env.Store.Close()
		env.Manager.Close()
	})

	return env
}

// Rewrite replaces the config document on disk and reloads it, the
// same path the fsnotify watcher takes in production.
func (e *TestEnvironment) Rewrite(opts Options) {
	e.t.Helper()
	require.NoError(e.t, os.WriteFile(e.ConfigPath, []byte(opts.render(e.DBPath)), 0o644))
	require.NoError(e.t, e.Manager.Reload())
}

// Process runs one request through the pipeline from the CLI source.
func (e *TestEnvironment) Process(input string) (core.Record, error) {
	return e.Pipeline.Process(context.Background(), core.SourceCLI, "integration", input)
}

// WaitForPending polls the broker until at least one approval is
// waiting or the timeout passes.
func (e *TestEnvironment) WaitForPending(timeout time.Duration) []approval.Pending {
	e.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.t.Fatalf("timeout waiting for pending approvals")
			return nil
		case <-ticker.C:
			pending, err := e.Broker.GetPending(context.Background())
			require.NoError(e.t, err)
			if len(pending) > 0 {
				return pending
			}
		}
	}
}

// WaitForRecords polls the ledger until it holds at least minCount
// rows or the timeout passes.
func (e *TestEnvironment) WaitForRecords(minCount int, timeout time.Duration) []core.Record {
	e.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.t.Fatalf("timeout waiting for %d ledger records", minCount)
			return nil
		case <-ticker.C:
			records, err := e.Store.Recent(context.Background(), minCount+10)
			require.NoError(e.t, err)
			if len(records) >= minCount {
				return records
			}
		}
	}
}
