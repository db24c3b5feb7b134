package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cmdwarden/warden/internal/core"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Interactive console: type requests, approve commands inline",
	Long: `Run starts an interactive session. Each line you type is sent through
the model and the policy pipeline; commands that need approval are
shown on this terminal and wait for your answer.

  warden run
  warden> how much disk space is left`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runConsole(cmd *cobra.Command, args []string) error {
	s, err := buildStack(configPath)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.manager.Watch(); err != nil {
		log.Warn().Err(err).Msg("config hot reload unavailable")
	}

	ctx := context.Background()

	// One request is processed at a time, so the prompt below and the
	// approver never read stdin concurrently. Sharing the reader keeps
	// buffered bytes from being lost between them.
	reader := bufio.NewReader(os.Stdin)
	approver := newConsoleApprover(s.broker, reader, os.Stderr)

	approverCtx, stopApprover := context.WithCancel(ctx)
	defer stopApprover()
	go approver.serve(approverCtx)

	snap := s.manager.Current()
	fmt.Fprintf(os.Stderr, "warden console: mode %s, backend %s\n", snap.ExecMode(), snap.Inference.Backend)
	fmt.Fprintln(os.Stderr, "Type a request and press enter. Ctrl-D exits.")

	for {
		fmt.Fprint(os.Stderr, "warden> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(os.Stderr)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}

		rec, perr := s.pipe.Process(ctx, core.SourceCLI, "console", input)
		if perr != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", perr)
			continue
		}
		printOutcome(os.Stdout, os.Stderr, rec, true)
	}
}
