package cli

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cmdwarden/warden/internal/core"
)

var execCmd = &cobra.Command{
	Use:   "exec <request>",
	Short: "Process one request and exit",
	Long: `Exec sends a single natural-language request through the pipeline,
prints the outcome and exits. The exit status mirrors the command:
its own exit code when it ran, 124 on timeout, 1 when refused.

  warden exec "how much disk space is left"`,
	Args: cobra.MinimumNArgs(1),
	RunE: execOnce,
}

func init() {
	rootCmd.AddCommand(execCmd)
}

func execOnce(cmd *cobra.Command, args []string) error {
	s, err := buildStack(configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()

	approver := newConsoleApprover(s.broker, bufio.NewReader(os.Stdin), os.Stderr)
	approverCtx, stopApprover := context.WithCancel(ctx)
	go approver.serve(approverCtx)

	input := strings.Join(args, " ")
	rec, perr := s.pipe.Process(ctx, core.SourceCLI, "exec", input)

	stopApprover()
	if perr != nil {
		s.close()
		return perr
	}

	printOutcome(os.Stdout, os.Stderr, rec, false)

	code := exitCodeFor(rec)
	s.close()
	if code != 0 {
		os.Exit(code)
	}
	return nil
}
