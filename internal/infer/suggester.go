package infer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/cmdwarden/warden/internal/config"
)

// Suggester turns a natural-language request into raw model output.
// The output is untrusted text; the parser and validator decide what,
// if anything, is runnable in it.
type Suggester interface {
	Suggest(ctx context.Context, input string) (string, error)
}

// Mock answers without any model. The suggestion echoes the request
// back, which keeps the full pipeline exercisable offline and in tests.
type Mock struct{}

func (Mock) Suggest(_ context.Context, input string) (string, error) {
	log.Debug().Msg("using mock suggester")
	return fmt.Sprintf("# Suggested command for: %s\necho 'Processing: %s'", input, input), nil
}

// New builds the suggester named by the config backend.
func New(cfg config.InferenceConfig) (Suggester, error) {
	switch cfg.Backend {
	case "", "mock":
		return Mock{}, nil
	case "http":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("inference backend %q needs an endpoint", cfg.Backend)
		}
		return NewHTTPSuggester(cfg.Endpoint, cfg.Model, cfg.APIKey, cfg.Timeout()), nil
	default:
		return nil, fmt.Errorf("unknown inference backend %q", cfg.Backend)
	}
}
