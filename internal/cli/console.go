package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/cmdwarden/warden/internal/approval"
)

// consoleApprover answers pending approvals at the terminal. It polls
// the broker's notify channel, prints one card per pending command and
// resolves it from a y/N answer. Without a terminal attached every
// request is denied rather than left to time out.
type consoleApprover struct {
	broker approval.Broker
	in     *bufio.Reader
	out    io.Writer
	seen   map[string]bool
}

func newConsoleApprover(broker approval.Broker, in io.Reader, out io.Writer) *consoleApprover {
	return &consoleApprover{
		broker: broker,
		in:     bufio.NewReader(in),
		out:    out,
		seen:   make(map[string]bool),
	}
}

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// serve blocks until ctx is done, handling approvals as they appear.
func (a *consoleApprover) serve(ctx context.Context) {
	notify := a.broker.NotifyChannel()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-notify:
			a.drain(ctx)
		case <-ticker.C:
			a.drain(ctx)
		}
	}
}

func (a *consoleApprover) drain(ctx context.Context) {
	pending, err := a.broker.GetPending(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read pending approvals")
		return
	}

	for _, p := range pending {
		if a.seen[p.ID] {
			continue
		}
		a.seen[p.ID] = true
		a.decide(ctx, p)
	}
}

func (a *consoleApprover) decide(ctx context.Context, p approval.Pending) {
	ruling := approval.Ruling{DecidedBy: approverName()}

	if !interactive() {
		ruling.Note = "denied: no terminal attached"
		fmt.Fprintf(a.out, "denying %q: approval needed but no terminal attached\n", p.Command)
	} else {
		ruling.Approved, ruling.Note = a.ask(p)
	}

	if err := a.broker.Resolve(ctx, p.ID, ruling); err != nil {
		// Usually a race with the timeout; the pipeline already moved on.
		log.Debug().Err(err).Str("id", p.ID).Msg("ruling arrived too late")
	}
}

// ask renders one approval card and reads the answer. Default is deny.
func (a *consoleApprover) ask(p approval.Pending) (bool, string) {
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "--- approval required -------------------------------")
	fmt.Fprintf(a.out, "  request: %s\n", p.Input)
	fmt.Fprintf(a.out, "  command: %s\n", p.Command)
	if p.MatchedRule != "" {
		fmt.Fprintf(a.out, "  rule:    %s\n", p.MatchedRule)
	}
	if len(p.Flags) > 0 {
		parts := make([]string, len(p.Flags))
		for i, f := range p.Flags {
			parts[i] = string(f)
		}
		fmt.Fprintf(a.out, "  flags:   %s\n", strings.Join(parts, ", "))
	}
	fmt.Fprintln(a.out, "-----------------------------------------------------")

	for {
		fmt.Fprint(a.out, "Execute this command? [y/N]: ")
		line, err := a.in.ReadString('\n')
		if err != nil {
			return false, "denied: input closed"
		}

		switch strings.TrimSpace(strings.ToLower(line)) {
		case "y", "yes":
			return true, ""
		case "", "n", "no":
			return false, "denied at console"
		default:
			fmt.Fprintln(a.out, "Please answer y or n.")
		}
	}
}

func approverName() string {
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "console"
}
