package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cmdwarden/warden/internal/core"
	"github.com/cmdwarden/warden/internal/policy"
)

// Config is the full runtime document: one YAML file covering the
// server, the pipeline knobs and the safety policy. A missing file is
// not an error; defaults apply and env vars override on top.
type Config struct {
	Mode      string          `yaml:"execution_mode"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Approval  ApprovalConfig  `yaml:"approval"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Inference InferenceConfig `yaml:"inference"`
	Audit     AuditConfig     `yaml:"audit"`
	Triggers  TriggerConfig   `yaml:"triggers"`
	Policy    policy.Spec     `yaml:"policy"`

	mode  core.ExecMode
	rules *policy.Ruleset
}

type ServerConfig struct {
	Port            int `yaml:"port"`
	ReadTimeout     int `yaml:"read_timeout"`
	WriteTimeout    int `yaml:"write_timeout"`
	ShutdownTimeout int `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	Require         bool   `yaml:"require"`
	Secret          string `yaml:"secret"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
}

func (a AuthConfig) TokenTTL() time.Duration { return time.Duration(a.TokenTTLMinutes) * time.Minute }

type ExecutorConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxOutputBytes int `yaml:"max_output_bytes"`
	GraceSeconds   int `yaml:"grace_seconds"`
}

func (e ExecutorConfig) Timeout() time.Duration { return time.Duration(e.TimeoutSeconds) * time.Second }
func (e ExecutorConfig) Grace() time.Duration   { return time.Duration(e.GraceSeconds) * time.Second }

type ApprovalConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

func (a ApprovalConfig) Timeout() time.Duration { return time.Duration(a.TimeoutSeconds) * time.Second }

type RateLimitConfig struct {
	CooldownSeconds int `yaml:"cooldown_seconds"`
	WindowSeconds   int `yaml:"window_seconds"`
	MaxPerWindow    int `yaml:"max_per_window"`
}

func (r RateLimitConfig) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

type InferenceConfig struct {
	Backend        string `yaml:"backend"`
	Endpoint       string `yaml:"endpoint"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (i InferenceConfig) Timeout() time.Duration {
	return time.Duration(i.TimeoutSeconds) * time.Second
}

type AuditConfig struct {
	DBPath string `yaml:"db_path"`
}

type TriggerConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns the stock configuration: prompt mode, local-only
// server, default policy, auth off.
func Default() *Config {
	return &Config{
		Mode: string(core.ModePrompt),
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		Auth: AuthConfig{
			User:            "admin",
			TokenTTLMinutes: 60,
		},
		Executor: ExecutorConfig{
			TimeoutSeconds: 30,
			MaxOutputBytes: 1 << 20,
			GraceSeconds:   5,
		},
		Approval:  ApprovalConfig{TimeoutSeconds: 120},
		RateLimit: RateLimitConfig{CooldownSeconds: 5, WindowSeconds: 60, MaxPerWindow: 60},
		Inference: InferenceConfig{Backend: "mock", Model: "deepseek-coder", TimeoutSeconds: 60},
		Audit:     AuditConfig{DBPath: "audit.db"},
		Triggers:  TriggerConfig{Dir: "triggers"},
		Policy:    policy.Default(),
	}
}

// Load reads the document at path over the defaults, applies env var
// overrides, then validates and compiles the policy. A missing file
// yields the default document.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults stand.
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Mode = getEnv("EXECUTION_MODE", c.Mode)
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Audit.DBPath = getEnv("AUDIT_DB_PATH", c.Audit.DBPath)
	c.Triggers.Dir = getEnv("TRIGGERS_DIR", c.Triggers.Dir)
	c.Auth.Secret = getEnv("AUTH_SECRET", c.Auth.Secret)
	c.Auth.Password = getEnv("AUTH_PASSWORD", c.Auth.Password)
	if getEnv("REQUIRE_AUTH", "") == "true" {
		c.Auth.Require = true
	}
	c.Executor.TimeoutSeconds = getEnvInt("EXEC_TIMEOUT", c.Executor.TimeoutSeconds)
	c.Approval.TimeoutSeconds = getEnvInt("APPROVAL_TIMEOUT", c.Approval.TimeoutSeconds)
	c.Inference.Backend = getEnv("INFERENCE_BACKEND", c.Inference.Backend)
	c.Inference.Endpoint = getEnv("INFERENCE_ENDPOINT", c.Inference.Endpoint)
	c.Inference.APIKey = getEnv("INFERENCE_API_KEY", c.Inference.APIKey)
}

func (c *Config) finalize() error {
	mode, err := core.ParseExecMode(c.Mode)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.mode = mode

	rules, err := policy.Compile(c.Policy)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.rules = rules

	if c.Executor.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: executor timeout must be positive, got %d", c.Executor.TimeoutSeconds)
	}
	if c.Approval.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: approval timeout must be positive, got %d", c.Approval.TimeoutSeconds)
	}
	return nil
}

// ExecMode returns the parsed execution mode.
func (c *Config) ExecMode() core.ExecMode { return c.mode }

// Rules returns the compiled policy. Never nil after Load.
func (c *Config) Rules() *policy.Ruleset { return c.rules }

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}
