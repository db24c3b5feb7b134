package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cmdwarden/warden/internal/audit"
	"github.com/cmdwarden/warden/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the effective configuration and ledger totals",
	Long: `Show the configuration warden would run with right now: execution
mode, policy counts, limits, and whether the audit ledger exists.

  warden status
  warden status --config /etc/warden/config.yaml`,
	RunE: statusCommand,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Println("  Warden Status")
	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Println()

	binPath, err := os.Executable()
	if err != nil {
		binPath = "unknown"
	}
	fmt.Printf("  Binary:     %s (%s)\n", binPath, Version)
	fmt.Printf("  Config:     %s\n", configPath)
	fmt.Println()

	fmt.Println("─── Pipeline ──────────────────────────────────────────")
	fmt.Printf("  Mode:       %s\n", cfg.ExecMode())
	fmt.Printf("  Inference:  %s", cfg.Inference.Backend)
	if cfg.Inference.Model != "" {
		fmt.Printf(" (%s)", cfg.Inference.Model)
	}
	fmt.Println()
	if cfg.Inference.Endpoint != "" {
		fmt.Printf("  Endpoint:   %s\n", cfg.Inference.Endpoint)
	}
	fmt.Println()

	fmt.Println("─── Policy ────────────────────────────────────────────")
	fmt.Printf("  Whitelist:          %d prefixes\n", len(cfg.Policy.Whitelist))
	fmt.Printf("  Blacklist:          %d entries\n", len(cfg.Policy.Blacklist))
	fmt.Printf("  Require approval:   %d prefixes\n", len(cfg.Policy.RequireApproval))
	fmt.Printf("  Dangerous patterns: %d regexes\n", len(cfg.Policy.DangerousPatterns))
	fmt.Println()

	fmt.Println("─── Limits ────────────────────────────────────────────")
	fmt.Printf("  Exec timeout:       %s (grace %s)\n", cfg.Executor.Timeout(), cfg.Executor.Grace())
	fmt.Printf("  Max output:         %d bytes\n", cfg.Executor.MaxOutputBytes)
	fmt.Printf("  Approval timeout:   %s\n", cfg.Approval.Timeout())
	fmt.Printf("  Rate limit:         cooldown %s, %d per %s\n",
		cfg.RateLimit.Cooldown(), cfg.RateLimit.MaxPerWindow, cfg.RateLimit.Window())
	fmt.Println()

	fmt.Println("─── Surfaces ──────────────────────────────────────────")
	fmt.Printf("  Server port:        %d\n", cfg.Server.Port)
	if cfg.Auth.Require {
		fmt.Printf("  Auth:               required (user %q)\n", cfg.Auth.User)
	} else {
		fmt.Println("  Auth:               off")
	}
	checkTriggerDir(cfg.Triggers.Dir)
	fmt.Println()

	fmt.Println("─── Ledger ────────────────────────────────────────────")
	checkLedger(cfg.Audit.DBPath)
	fmt.Println()

	return nil
}

func checkTriggerDir(dir string) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		fmt.Printf("  Trigger dir:        %s (missing, created on serve)\n", dir)
		return
	}
	fmt.Printf("  Trigger dir:        %s\n", dir)
}

// checkLedger stats the file before opening so a status check never
// creates an empty database.
func checkLedger(path string) {
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("  %s (not yet created, will start on first request)\n", path)
		return
	}

	fmt.Printf("  %s (%d KB)\n", path, info.Size()/1024)

	store, err := audit.NewSQLiteStore(path)
	if err != nil {
		fmt.Printf("  could not open ledger: %v\n", err)
		return
	}
	defer store.Close()

	stats, err := store.Stats(context.Background())
	if err != nil {
		fmt.Printf("  could not read ledger stats: %v\n", err)
		return
	}
	fmt.Printf("  %d records: %d executed, %d simulated, %d skipped, %d rejected\n",
		stats.Total, stats.Executed, stats.Simulated, stats.Skipped, stats.Rejected)
}
