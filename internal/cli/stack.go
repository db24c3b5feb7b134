package cli

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/cmdwarden/warden/internal/approval"
	"github.com/cmdwarden/warden/internal/audit"
	"github.com/cmdwarden/warden/internal/config"
	"github.com/cmdwarden/warden/internal/guard"
	"github.com/cmdwarden/warden/internal/infer"
	"github.com/cmdwarden/warden/internal/pipeline"
)

// stack is the wired-up core shared by every command that processes
// requests: config, rate guard, model backend, approval broker, ledger
// and the pipeline that threads them together.
type stack struct {
	manager *config.Manager
	guard   *guard.Guard
	broker  *approval.InMemoryBroker
	store   audit.Store
	pipe    *pipeline.Pipeline
}

func buildStack(path string) (*stack, error) {
	manager, err := config.NewManager(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	snap := manager.Current()

	g := guard.New(snap.RateLimit.Cooldown(), snap.RateLimit.Window(), snap.RateLimit.MaxPerWindow)
	manager.OnReload(func(c *config.Config) {
		g.SetLimits(c.RateLimit.Cooldown(), c.RateLimit.Window(), c.RateLimit.MaxPerWindow)
	})

	suggester, err := infer.New(snap.Inference)
	if err != nil {
		return nil, fmt.Errorf("init inference backend: %w", err)
	}

	store, err := audit.NewSQLiteStore(snap.Audit.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open audit ledger: %w", err)
	}

	broker := approval.NewInMemoryBroker(snap.Approval.Timeout())

	s := &stack{
		manager: manager,
		guard:   g,
		broker:  broker,
		store:   store,
		pipe:    pipeline.New(manager, g, suggester, approval.NewOrchestrator(broker), store),
	}

	log.Debug().
		Str("mode", string(snap.ExecMode())).
		Str("backend", snap.Inference.Backend).
		Str("db", snap.Audit.DBPath).
		Msg("stack assembled")

	return s, nil
}

func (s *stack) close() {
	if err := s.broker.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close approval broker")
	}
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close audit store")
	}
	if err := s.manager.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close config manager")
	}
}
