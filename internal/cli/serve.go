package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cmdwarden/warden/internal/auth"
	"github.com/cmdwarden/warden/internal/server"
	"github.com/cmdwarden/warden/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the warden daemon: HTTP API, trigger watcher and config hot reload",
	Long: `Serve starts the long-running gateway. Requests arrive over the HTTP
API and through task files dropped in the trigger directory; approvals
are resolved over the API or the websocket console. The config file is
watched and most settings apply without a restart.`,
	RunE: serveDaemon,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serveDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := buildStack(configPath)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.manager.Watch(); err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}

	snap := s.manager.Current()

	watcher, err := watch.New(snap.Triggers.Dir, s.pipe)
	if err != nil {
		return fmt.Errorf("init trigger watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("start trigger watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close trigger watcher")
		}
	}()

	authManager := auth.NewManager(auth.Config{
		Secret:   snap.Auth.Secret,
		TokenTTL: snap.Auth.TokenTTL(),
		Require:  snap.Auth.Require,
		User:     snap.Auth.User,
		Password: snap.Auth.Password,
	})

	srv := server.New(s.manager, s.pipe, s.store, s.broker, authManager)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	log.Info().
		Str("mode", string(snap.ExecMode())).
		Int("port", snap.Server.Port).
		Str("triggers", snap.Triggers.Dir).
		Bool("auth", snap.Auth.Require).
		Msg("warden is up")

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		return srv.Shutdown(context.Background())
	}
}
