// Package config loads the firewall's rules and approval settings.
//
// A config file holds the policy ruleset (a required "global" section and
// optional per-server overrides) plus an optional "approval" section. The
// format follows the file extension: .json and .jsonc (comments and
// trailing commas allowed), .toml, or .yaml/.yml. FIREWALL_* environment
// variables override the approval settings after the file is read.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/starskrime/mcp-action-firewall/policy"
)

// ErrConfigValidation wraps every semantic problem with a config, as
// opposed to syntax or filesystem errors.
var ErrConfigValidation = errors.New("config validation failed")

// Defaults applied when a config leaves the approval section out.
const (
	DefaultTTL           = 5 * time.Minute
	DefaultMaxAttempts   = 1
	DefaultSweepInterval = 30 * time.Second
)

// Duration is a time.Duration written as a string such as "5m" or "90s".
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText writes the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Approval controls pending actions.
type Approval struct {
	TTL           Duration `json:"ttl,omitempty" toml:"ttl,omitempty" yaml:"ttl,omitempty" envconfig:"TTL"`
	MaxAttempts   int      `json:"max_attempts,omitempty" toml:"max_attempts,omitempty" yaml:"max_attempts,omitempty" envconfig:"MAX_ATTEMPTS"`
	SweepInterval Duration `json:"sweep_interval,omitempty" toml:"sweep_interval,omitempty" yaml:"sweep_interval,omitempty" envconfig:"SWEEP_INTERVAL"`
}

// Config is a loaded and validated firewall config.
type Config struct {
	Global   *policy.RuleSet           `json:"global" toml:"global" yaml:"global"`
	Servers  map[string]policy.RuleSet `json:"servers,omitempty" toml:"servers,omitempty" yaml:"servers,omitempty"`
	Approval Approval                  `json:"approval,omitempty" toml:"approval,omitempty" yaml:"approval,omitempty"`

	// Source names where the config came from, for logs.
	Source string `json:"-" toml:"-" yaml:"-"`
}

// Policy returns the ruleset in the form the policy engine takes.
func (c *Config) Policy() policy.Config {
	cfg := policy.Config{Servers: c.Servers}
	if c.Global != nil {
		cfg.Global = *c.Global
	}
	return cfg
}

// HasServer reports whether the config defines overrides for name.
func (c *Config) HasServer(name string) bool {
	_, ok := c.Servers[name]
	return ok
}

func (c *Config) applyDefaults() {
	if c.Approval.TTL == 0 {
		c.Approval.TTL = Duration(DefaultTTL)
	}
	if c.Approval.MaxAttempts == 0 {
		c.Approval.MaxAttempts = DefaultMaxAttempts
	}
	if c.Approval.SweepInterval == 0 {
		c.Approval.SweepInterval = Duration(DefaultSweepInterval)
	}
}

// Validate checks the config after defaults have been applied.
func (c *Config) Validate() error {
	if c.Global == nil {
		return fmt.Errorf("%s: missing required \"global\" section", c.Source)
	}
	if err := validateRuleSet(*c.Global); err != nil {
		return fmt.Errorf("%s: global: %w", c.Source, err)
	}
	for name, rules := range c.Servers {
		if name == "" {
			return fmt.Errorf("%s: servers: empty server name", c.Source)
		}
		if err := validateRuleSet(rules); err != nil {
			return fmt.Errorf("%s: servers.%s: %w", c.Source, name, err)
		}
	}
	if c.Approval.TTL <= 0 {
		return fmt.Errorf("%s: approval.ttl must be positive, got %s", c.Source, c.Approval.TTL.Std())
	}
	if c.Approval.MaxAttempts < 1 {
		return fmt.Errorf("%s: approval.max_attempts must be at least 1, got %d", c.Source, c.Approval.MaxAttempts)
	}
	if c.Approval.SweepInterval < 0 {
		return fmt.Errorf("%s: approval.sweep_interval must not be negative", c.Source)
	}
	return nil
}

func validateRuleSet(rs policy.RuleSet) error {
	if rs.DefaultAction != nil {
		if _, err := policy.ParseAction(string(*rs.DefaultAction)); err != nil {
			return fmt.Errorf("default_action: %w", err)
		}
	}
	for _, p := range rs.AllowPrefixes {
		if p == "" {
			return errors.New("allow_prefixes: empty prefix would allow every tool")
		}
	}
	for _, k := range rs.BlockKeywords {
		if k == "" {
			return errors.New("block_keywords: empty keyword would block every tool")
		}
	}
	return nil
}
