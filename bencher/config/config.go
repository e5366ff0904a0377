// Package config loads the process-wide configuration struct once at
// startup and is passed by reference to every handler thereafter (§9's
// "global rate-limit state... process-wide struct" pattern, generalized
// to all process configuration).
package config

import (
	"time"

	"gopkg.in/yaml.v3"

	"go.bencher.dev/core/bencher/ambient/skerr"
)

// Timeouts holds the §5 timeout defaults. Load accepts an override for
// every field, but only HeartbeatWindow and TokenOCIRunner are read by
// this repository: the job grace period is the fixed heartbeat.Grace and
// the claim long-poll default is fixed at 30s in the API layer.
type Timeouts struct {
	JobPoll         time.Duration `yaml:"job_poll"`
	HeartbeatWindow time.Duration `yaml:"heartbeat_window"`
	JobGrace        time.Duration `yaml:"job_grace"`
	TokenAPI        time.Duration `yaml:"token_api"`
	TokenInvite     time.Duration `yaml:"token_invite"`
	TokenOCIUser    time.Duration `yaml:"token_oci_user"`
	TokenOCIRunner  time.Duration `yaml:"token_oci_runner"`
}

// DefaultTimeouts returns the §5 defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		JobPoll:         30 * time.Second,
		HeartbeatWindow: 30 * time.Second,
		JobGrace:        60 * time.Second,
		TokenAPI:        365 * 24 * time.Hour,
		TokenInvite:     24 * time.Hour,
		TokenOCIUser:    15 * time.Minute,
		TokenOCIRunner:  10 * time.Minute,
	}
}

// RateLimitTier is one named bucket of the in-memory rate limiter (§4.10).
type RateLimitTier struct {
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
	PerDay    int `yaml:"per_day"`
}

// Config is the full process configuration.
type Config struct {
	ListenAddr string            `yaml:"listen_addr"`
	DSN        string            `yaml:"dsn"`
	JWTSecret  string            `yaml:"jwt_secret"`
	RedisAddr  string            `yaml:"redis_addr"`
	Timeouts   Timeouts          `yaml:"timeouts"`
	RateLimits map[string]RateLimitTier `yaml:"rate_limits"`
}

// Load decodes a Config from YAML bytes, filling in §5 timeout defaults
// for any zero-valued field.
func Load(data []byte) (*Config, error) {
	cfg := &Config{Timeouts: DefaultTimeouts()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, skerr.Wrapf(err, "decoding config")
	}
	if cfg.Timeouts.JobPoll == 0 {
		cfg.Timeouts.JobPoll = 30 * time.Second
	}
	if cfg.Timeouts.HeartbeatWindow == 0 {
		cfg.Timeouts.HeartbeatWindow = 30 * time.Second
	}
	if cfg.Timeouts.JobGrace == 0 {
		cfg.Timeouts.JobGrace = 60 * time.Second
	}
	return cfg, nil
}
