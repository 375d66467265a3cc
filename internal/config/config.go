// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

// Package config loads Clubpush configuration.
//
// Values are layered: built-in defaults, then an optional YAML file
// (CONFIG_PATH or ./config.yaml), then environment variables. Environment
// variables always win. Only the variables listed in the env mapping table are
// read; anything else in the environment is ignored.
//
//	cfg, err := config.Load()
//	if err != nil {
//	    logging.Fatal().Err(err).Msg("invalid configuration")
//	}
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Push     PushConfig     `koanf:"push"`
	Provider ProviderConfig `koanf:"provider"`
	Dispatch DispatchConfig `koanf:"dispatch"`
	Dedup    DedupConfig    `koanf:"dedup"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"` // development, staging, production
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DatabaseConfig selects the SQL backend for subscriptions and the member directory.
//
// Environment Variables:
//   - DB_DRIVER: sqlite (default), postgres, duckdb
//   - DB_DSN: driver-specific data source name
//   - DB_MAX_OPEN_CONNS: connection pool size (0 = driver default)
type DatabaseConfig struct {
	Driver       string `koanf:"driver"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// PushConfig configures the direct Web Push channel.
//
// The channel is enabled only when both VAPID key halves are present. A missing
// half is not a configuration error: the channel disables itself and every send
// reports a non-terminal failure.
//
// Environment Variables:
//   - VAPID_PUBLIC_KEY, VAPID_PRIVATE_KEY: base64url keys (see cmd/vapidkeys)
//   - VAPID_SUBSCRIBER: mailto: or https: contact sent in the VAPID JWT
//   - PUSH_TTL: seconds the push service may hold an undelivered message
//   - PUSH_URGENCY: very-low, low, normal, high
//   - PUSH_TIMEOUT: per-request timeout
//   - PUSH_PARALLELISM: concurrent sends per dispatch
//   - PUSH_MAX_SENDS_PER_SECOND: pacing across all sends (0 = unlimited)
type PushConfig struct {
	VAPIDPublicKey    string        `koanf:"vapid_public_key"`
	VAPIDPrivateKey   string        `koanf:"vapid_private_key"`
	Subscriber        string        `koanf:"subscriber"`
	TTL               int           `koanf:"ttl"`
	Urgency           string        `koanf:"urgency"`
	Timeout           time.Duration `koanf:"timeout"`
	Parallelism       int           `koanf:"parallelism"`
	MaxSendsPerSecond float64       `koanf:"max_sends_per_second"`
}

// Enabled reports whether both VAPID key halves are configured.
func (p PushConfig) Enabled() bool {
	return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != ""
}

// ProviderConfig configures the hosted push provider channel.
//
// Environment Variables:
//   - ONESIGNAL_APP_ID, ONESIGNAL_API_KEY: credentials; both required to enable
//   - ONESIGNAL_API_URL: notifications endpoint
//   - PROVIDER_TIMEOUT: request timeout
//   - PROVIDER_BREAKER_MAX_FAILURES: consecutive failures before the breaker opens
//   - PROVIDER_BREAKER_TIMEOUT: how long the breaker stays open
type ProviderConfig struct {
	AppID                string        `koanf:"app_id"`
	APIKey               string        `koanf:"api_key"`
	URL                  string        `koanf:"url"`
	Timeout              time.Duration `koanf:"timeout"`
	BreakerMaxFailures   uint32        `koanf:"breaker_max_failures"`
	BreakerTimeout       time.Duration `koanf:"breaker_timeout"`
	BreakerHalfOpenCalls uint32        `koanf:"breaker_half_open_calls"`
}

// Enabled reports whether both provider credentials are configured.
func (p ProviderConfig) Enabled() bool {
	return p.AppID != "" && p.APIKey != ""
}

// DispatchConfig holds orchestrator and background queue settings.
type DispatchConfig struct {
	// Timeout bounds one background dispatch end to end.
	Timeout time.Duration `koanf:"timeout"`

	// AllStaffRoles is the role set behind the "all staff" shorthand.
	AllStaffRoles []string `koanf:"all_staff_roles"`

	// QueueBuffer is the in-process queue output buffer (0 = unbuffered).
	QueueBuffer int64 `koanf:"queue_buffer"`

	// Workers is how many queued dispatches run at once.
	Workers int `koanf:"workers"`

	// DefaultChannel is used when a request names no channel.
	DefaultChannel string `koanf:"default_channel"`
}

// DedupConfig configures duplicate dispatch suppression.
//
// Backend "none" disables suppression. "memory" keeps keys in process,
// "badger" persists them locally, "redis" shares them between instances.
type DedupConfig struct {
	Backend       string        `koanf:"backend"`
	TTL           time.Duration `koanf:"ttl"`
	BadgerPath    string        `koanf:"badger_path"`
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
	KeyPrefix     string        `koanf:"key_prefix"`

	// MaintenanceInterval is how often expired keys are swept (memory) or
	// the value log is garbage collected (badger).
	MaintenanceInterval time.Duration `koanf:"maintenance_interval"`
}

// SecurityConfig holds authentication and inbound rate limiting.
type SecurityConfig struct {
	AuthMode          string        `koanf:"auth_mode"` // jwt or none
	JWTSecret         string        `koanf:"jwt_secret"`
	JWTIssuer         string        `koanf:"jwt_issuer"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`

	// AuthzPolicyPath replaces the built-in permission policy when set.
	AuthzPolicyPath     string        `koanf:"authz_policy_path"`
	AuthzReloadInterval time.Duration `koanf:"authz_reload_interval"`
	AuthzCacheTTL       time.Duration `koanf:"authz_cache_ttl"`
}

// LoggingConfig holds zerolog settings.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Server.Environment)
	return env == "production" || env == "prod"
}

// Summary returns a one-line description safe for logging.
func (c *Config) Summary() string {
	return fmt.Sprintf("addr=%s db=%s push=%t provider=%t dedup=%s",
		c.Server.Addr(), c.Database.Driver, c.Push.Enabled(), c.Provider.Enabled(), c.Dedup.Backend)
}

// Load reads configuration from defaults, the optional config file and the environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
