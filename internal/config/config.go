package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

const (
	// MaxInstanceNameLength keeps instance names usable as Redis key segments and DNS labels
	MaxInstanceNameLength = 63

	DefaultModel = "gemini-2.5-flash"
)

// InstanceNamePattern: lowercase alphanumeric, hyphens allowed but not at start/end
var InstanceNamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// LockstepConfig represents the top-level lockstep.yml configuration
type LockstepConfig struct {
	Version  string         `yaml:"version"`
	Instance string         `yaml:"instance" env:"LOCKSTEP_INSTANCE"`
	RedisURL string         `yaml:"redis_url" env:"REDIS_URL"`
	Puzzles  PuzzlesConfig  `yaml:"puzzles"`
	Sessions SessionsConfig `yaml:"sessions"`
	Broker   BrokerConfig   `yaml:"broker"`
	Rewards  RewardsConfig  `yaml:"rewards"`
	Gateway  GatewayConfig  `yaml:"gateway"`
}

// PuzzlesConfig points at the directory holding <graph-id>.yml files
type PuzzlesConfig struct {
	Dir string `yaml:"dir" env:"LOCKSTEP_PUZZLES_DIR"`
}

// SessionsConfig bounds session admission and lifetime
type SessionsConfig struct {
	MaxParticipants int           `yaml:"max_participants"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ArchiveGrace    time.Duration `yaml:"archive_grace"`
	QueueDepth      int           `yaml:"queue_depth"`
}

// BrokerConfig configures the character's language model.
// The API key only ever comes from the environment.
type BrokerConfig struct {
	Model        string        `yaml:"model" env:"LOCKSTEP_MODEL"`
	Timeout      time.Duration `yaml:"timeout"`
	HistoryLimit int           `yaml:"history_limit"`
	Paraphrase   *bool         `yaml:"paraphrase,omitempty"` // default true when a model is configured
	APIKey       string        `yaml:"-" env:"GEMINI_API_KEY"`
}

// RewardsConfig configures reward issuance
type RewardsConfig struct {
	Amount          int64         `yaml:"amount"`
	MaxRetries      *int          `yaml:"max_retries,omitempty"` // retries after the first attempt (0 = single attempt, default = 5)
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	TransferURL     string        `yaml:"transfer_url" env:"LOCKSTEP_TRANSFER_URL"` // empty = in-process ledger
	TransferTimeout time.Duration `yaml:"transfer_timeout"`
}

// GatewayConfig configures the HTTP/WebSocket gateway
type GatewayConfig struct {
	Addr        string   `yaml:"addr" env:"LOCKSTEP_GATEWAY_ADDR"`
	CORSOrigins []string `yaml:"cors_origins" env:"LOCKSTEP_CORS_ORIGINS"` // empty = any origin
}

// Default returns a configuration with every default applied.
func Default() *LockstepConfig {
	c := &LockstepConfig{Version: "1.0"}
	c.applyDefaults()
	return c
}

func (c *LockstepConfig) applyDefaults() {
	if c.Instance == "" {
		c.Instance = "default"
	}
	if c.RedisURL == "" {
		c.RedisURL = "redis://localhost:6379"
	}
	if c.Puzzles.Dir == "" {
		c.Puzzles.Dir = "content"
	}

	s := &c.Sessions
	if s.MaxParticipants == 0 {
		s.MaxParticipants = 4
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 15 * time.Minute
	}
	if s.ArchiveGrace == 0 {
		s.ArchiveGrace = 5 * time.Minute
	}
	if s.QueueDepth == 0 {
		s.QueueDepth = 64
	}

	b := &c.Broker
	if b.Model == "" {
		b.Model = DefaultModel
	}
	if b.Timeout == 0 {
		b.Timeout = 8 * time.Second
	}
	if b.HistoryLimit == 0 {
		b.HistoryLimit = 8
	}
	if b.Paraphrase == nil {
		enabled := true
		b.Paraphrase = &enabled
	}

	r := &c.Rewards
	if r.Amount == 0 {
		r.Amount = 10
	}
	if r.MaxRetries == nil {
		defaultRetries := 5
		r.MaxRetries = &defaultRetries
	}
	if r.InitialBackoff == 0 {
		r.InitialBackoff = 500 * time.Millisecond
	}
	if r.MaxBackoff == 0 {
		r.MaxBackoff = 30 * time.Second
	}
	if r.TransferTimeout == 0 {
		r.TransferTimeout = 10 * time.Second
	}

	if c.Gateway.Addr == "" {
		c.Gateway.Addr = ":8080"
	}
}

// Validate applies defaults and performs strict validation on the configuration
func (c *LockstepConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	c.applyDefaults()

	if err := ValidateInstanceName(c.Instance); err != nil {
		return err
	}
	if _, err := redis.ParseURL(c.RedisURL); err != nil {
		return fmt.Errorf("invalid redis_url: %w", err)
	}

	s := c.Sessions
	if s.MaxParticipants < 1 {
		return fmt.Errorf("sessions.max_participants must be >= 1, got %d", s.MaxParticipants)
	}
	if s.IdleTimeout < 0 || s.ArchiveGrace < 0 {
		return fmt.Errorf("sessions: idle_timeout and archive_grace must be positive")
	}
	if s.QueueDepth < 1 {
		return fmt.Errorf("sessions.queue_depth must be >= 1, got %d", s.QueueDepth)
	}

	b := c.Broker
	if b.Timeout < 0 {
		return fmt.Errorf("broker.timeout must be positive, got %s", b.Timeout)
	}
	if b.HistoryLimit < 1 {
		return fmt.Errorf("broker.history_limit must be >= 1, got %d", b.HistoryLimit)
	}

	r := c.Rewards
	if r.Amount < 1 {
		return fmt.Errorf("rewards.amount must be >= 1, got %d", r.Amount)
	}
	if *r.MaxRetries < 0 {
		return fmt.Errorf("rewards.max_retries must be >= 0 (0 = single attempt), got %d", *r.MaxRetries)
	}
	if r.InitialBackoff < 0 || r.MaxBackoff < 0 || r.TransferTimeout < 0 {
		return fmt.Errorf("rewards: backoff and timeout durations must be positive")
	}
	if r.InitialBackoff > r.MaxBackoff {
		return fmt.Errorf("rewards.initial_backoff (%s) exceeds rewards.max_backoff (%s)", r.InitialBackoff, r.MaxBackoff)
	}

	return nil
}

// ValidateInstanceName checks that name is usable as a key namespace.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if len(name) > MaxInstanceNameLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxInstanceNameLength)
	}
	if !InstanceNamePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}

// RedisOptions returns connection options for the configured Redis URL.
func (c *LockstepConfig) RedisOptions() (*redis.Options, error) {
	return redis.ParseURL(c.RedisURL)
}

// ModelEnabled reports whether a language model should be wired in.
func (c *LockstepConfig) ModelEnabled() bool {
	return c.Broker.APIKey != ""
}

// ParaphraseEnabled reports whether unparseable chat gets one paraphrase attempt.
func (c *LockstepConfig) ParaphraseEnabled() bool {
	return c.ModelEnabled() && c.Broker.Paraphrase != nil && *c.Broker.Paraphrase
}

// Load reads lockstep.yml from path, overlays environment variables and validates.
// An optional .env file beside the config is loaded first; variables already set
// in the process environment win over it.
func Load(path string) (*LockstepConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config LockstepConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := LoadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// FromEnv builds a configuration from defaults and environment variables only,
// for running without a lockstep.yml.
func FromEnv() (*LockstepConfig, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	config := LockstepConfig{Version: "1.0"}
	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// LoadDotEnv loads path into the process environment if it exists.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
