package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/warp/leave-engine/generic"
)

type Config struct {
	Address            string        `env:"RUN_ADDRESS"         envDefault:":8080"`
	DatabasePath       string        `env:"DATABASE_PATH"       envDefault:"leave.db"`
	LogLvl             string        `env:"LOG_LVL"             envDefault:"info"`
	JWTSecret          string        `env:"JWT_SECRET"`
	TokenTTL           time.Duration `env:"TOKEN_TTL"           envDefault:"24h"`
	RefundPolicy       string        `env:"REFUND_POLICY"       envDefault:"strict"`
	DefaultEntitlement int           `env:"DEFAULT_ENTITLEMENT" envDefault:"14"`
	AllowedOrigins     []string      `env:"ALLOWED_ORIGINS"     envDefault:"*" envSeparator:","`
	SeedDemo           bool          `env:"SEED_DEMO"           envDefault:"false"`
}

// New reads the environment, then lets command-line flags override it.
func New() (*Config, error) {
	return Parse(flag.CommandLine, os.Args[1:])
}

// Parse is New with an explicit flag set and argument list.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.Address, "a", cfg.Address, "address and port to run server")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "sqlite database path")
	fs.StringVar(&cfg.LogLvl, "l", cfg.LogLvl, "log level")
	fs.StringVar(&cfg.JWTSecret, "s", cfg.JWTSecret, "jwt signing secret")
	fs.BoolVar(&cfg.SeedDemo, "seed", cfg.SeedDemo, "seed demo users on start")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	cfg.RefundPolicy = strings.ToLower(strings.TrimSpace(cfg.RefundPolicy))
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := generic.ParseRefundPolicy(c.RefundPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.DefaultEntitlement <= 0 {
		errs = append(errs, fmt.Errorf("DEFAULT_ENTITLEMENT must be positive, got %d", c.DefaultEntitlement))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("DATABASE_PATH is required"))
	}
	return errors.Join(errs...)
}

// Refund returns the parsed refund policy. Call after Validate.
func (c *Config) Refund() generic.RefundPolicy {
	p, err := generic.ParseRefundPolicy(c.RefundPolicy)
	if err != nil {
		return generic.RefundStrict
	}
	return p
}
