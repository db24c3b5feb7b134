package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cmdwarden/warden/internal/audit"
	"github.com/cmdwarden/warden/internal/config"
	"github.com/cmdwarden/warden/internal/core"
)

var (
	auditLast    int
	auditAction  string
	auditOutcome string
	auditSource  string
	auditJSON    bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the append-only ledger",
}

var auditRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the most recent ledger records",
	Long: `Show the newest ledger records, one line each.

  warden audit recent
  warden audit recent --last 50 --json`,
	RunE: auditRecent,
}

var auditSearchCmd = &cobra.Command{
	Use:   "search [term]",
	Short: "Search the ledger by text and filters",
	Long: `Search matches the term against the raw request text and the
executed command, optionally narrowed by filters.

  warden audit search "disk"
  warden audit search --action rejected
  warden audit search docker --outcome failed`,
	RunE: auditSearch,
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate ledger counts",
	RunE:  auditStats,
}

func init() {
	auditRecentCmd.Flags().IntVar(&auditLast, "last", 20, "Number of records to show")
	auditRecentCmd.Flags().BoolVar(&auditJSON, "json", false, "Print raw JSON records")

	auditSearchCmd.Flags().IntVar(&auditLast, "last", 20, "Number of records to show")
	auditSearchCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action (execute, simulate, skip_logged, rejected)")
	auditSearchCmd.Flags().StringVar(&auditOutcome, "outcome", "", "Filter by outcome (succeeded, failed, timed_out, simulated, not_run, unknown)")
	auditSearchCmd.Flags().StringVar(&auditSource, "source", "", "Filter by source (cli, file, web, voice, scheduled)")
	auditSearchCmd.Flags().BoolVar(&auditJSON, "json", false, "Print raw JSON records")

	auditStatsCmd.Flags().BoolVar(&auditJSON, "json", false, "Print raw JSON stats")

	auditCmd.AddCommand(auditRecentCmd)
	auditCmd.AddCommand(auditSearchCmd)
	auditCmd.AddCommand(auditStatsCmd)
	rootCmd.AddCommand(auditCmd)
}

func openLedger() (audit.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store, err := audit.NewSQLiteStore(cfg.Audit.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open audit ledger: %w", err)
	}
	return store, nil
}

func auditRecent(cmd *cobra.Command, args []string) error {
	store, err := openLedger()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Recent(context.Background(), auditLast)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	return printRecords(records)
}

func auditSearch(cmd *cobra.Command, args []string) error {
	store, err := openLedger()
	if err != nil {
		return err
	}
	defer store.Close()

	query := audit.Query{
		Search:  strings.Join(args, " "),
		Action:  core.Action(auditAction),
		Outcome: core.Outcome(auditOutcome),
		Source:  core.SourceKind(auditSource),
		Limit:   auditLast,
	}

	records, err := store.Filter(context.Background(), query)
	if err != nil {
		return fmt.Errorf("search ledger: %w", err)
	}

	return printRecords(records)
}

func auditStats(cmd *cobra.Command, args []string) error {
	store, err := openLedger()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("read ledger stats: %w", err)
	}

	if auditJSON {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "total\t%d\n", stats.Total)
	fmt.Fprintf(w, "executed\t%d\n", stats.Executed)
	fmt.Fprintf(w, "  succeeded\t%d\n", stats.Succeeded)
	fmt.Fprintf(w, "  failed\t%d\n", stats.Failed)
	fmt.Fprintf(w, "  timed out\t%d\n", stats.TimedOut)
	fmt.Fprintf(w, "  unknown\t%d\n", stats.Unknown)
	fmt.Fprintf(w, "simulated\t%d\n", stats.Simulated)
	fmt.Fprintf(w, "skipped\t%d\n", stats.Skipped)
	fmt.Fprintf(w, "rejected\t%d\n", stats.Rejected)
	return w.Flush()
}

func printRecords(records []core.Record) error {
	if auditJSON {
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(records) == 0 {
		fmt.Println("No ledger records found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DECIDED\tACTION\tSOURCE\tSTATE\tCOMMAND")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.Decision.DecidedAt.Format("2006-01-02 15:04:05"),
			rec.Decision.Action,
			rec.Request.Source,
			recordState(rec),
			recordSubject(rec),
		)
	}
	return w.Flush()
}

// recordState is the outcome when something ran, otherwise the reason
// it did not.
func recordState(rec core.Record) string {
	if rec.Result != nil {
		return string(rec.Result.State)
	}
	if rec.Decision.Reason != "" {
		return string(rec.Decision.Reason)
	}
	return "-"
}

// recordSubject prefers the command; parse failures only have the
// operator's raw text to show.
func recordSubject(rec core.Record) string {
	subject := rec.Verdict.Command
	if subject == "" {
		subject = rec.Request.RawText
	}
	if len(subject) > 60 {
		subject = subject[:57] + "..."
	}
	return subject
}
