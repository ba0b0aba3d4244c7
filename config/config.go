package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/layer-3/zelid/internal/eth"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config contains server configuration parameters.
type Config struct {
	HTTP      HTTP      `envPrefix:"HTTP_"`
	Store     Store     `envPrefix:"STORE_"`
	Redis     Redis     `envPrefix:"REDIS_"`
	Challenge Challenge `envPrefix:"CHALLENGE_"`
	Session   Session   `envPrefix:"SESSION_"`
	Access    Access
	Token     Token  `envPrefix:"TOKEN_"`
	Events    Events `envPrefix:"EVENTS_"`
	Log       Log    `envPrefix:"LOG_"`

	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"5s"`
}

// HTTP contains HTTP server parameters.
type HTTP struct {
	Addr            string        `env:"ADDR" envDefault:":9000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Store selects the persistence backend.
type Store struct {
	Backend string `env:"BACKEND" envDefault:"memory"`
}

// Redis contains Redis connection parameters.
type Redis struct {
	URL string `env:"URL" envDefault:"redis://localhost:6379/0"`
}

// Challenge contains login phrase lifetimes.
type Challenge struct {
	TTL   time.Duration `env:"TTL" envDefault:"15m"`
	Grace time.Duration `env:"GRACE" envDefault:"1m"`
}

// Session contains session parameters.
type Session struct {
	IdleTimeout time.Duration `env:"IDLE_TIMEOUT" envDefault:"0s"`
}

// Access lists the privileged addresses.
type Access struct {
	NodeOperator string   `env:"NODE_OPERATOR_ADDRESS"`
	Team         []string `env:"TEAM_ADDRESSES" envSeparator:","`
}

// Token contains bearer token signing parameters.
type Token struct {
	// SigningKey is a hex P-256 private scalar. A random key is generated when empty.
	SigningKey string `env:"SIGNING_KEY"`
}

// Events toggles publishing session events to Redis streams.
type Events struct {
	Enabled bool `env:"ENABLED" envDefault:"false"`
}

// Log contains watermill logger switches.
type Log struct {
	Debug bool `env:"DEBUG" envDefault:"false"`
	Trace bool `env:"TRACE" envDefault:"false"`
}

// NewConfig loads configuration from environment variables.
func NewConfig() (*Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Events.Enabled && c.Store.Backend != StoreRedis {
		return fmt.Errorf("events require the %s store backend", StoreRedis)
	}
	if c.Challenge.TTL <= 0 {
		return fmt.Errorf("challenge ttl must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if c.Access.NodeOperator != "" {
		if _, err := eth.ParseAddress(c.Access.NodeOperator); err != nil {
			return fmt.Errorf("node operator address: %w", err)
		}
	}
	for _, member := range c.Access.Team {
		if _, err := eth.ParseAddress(member); err != nil {
			return fmt.Errorf("team address %q: %w", member, err)
		}
	}
	return nil
}
