// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tomtom215/clubpush/internal/logging"
)

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateDatabase,
		c.validatePush,
		c.validateProvider,
		c.validateDispatch,
		c.validateDedup,
		c.validateSecurity,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("SERVER_TIMEOUT must be positive")
	}
	return nil
}

var validDrivers = map[string]bool{
	"sqlite":   true,
	"postgres": true,
	"duckdb":   true,
}

func (c *Config) validateDatabase() error {
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("DB_DRIVER must be one of: sqlite, postgres, duckdb")
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if c.Database.MaxOpenConns < 0 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must not be negative")
	}
	return nil
}

var validUrgencies = map[string]bool{
	"very-low": true,
	"low":      true,
	"normal":   true,
	"high":     true,
}

func (c *Config) validatePush() error {
	p := c.Push
	if !validUrgencies[p.Urgency] {
		return fmt.Errorf("PUSH_URGENCY must be one of: very-low, low, normal, high")
	}
	if p.TTL < 0 {
		return fmt.Errorf("PUSH_TTL must not be negative")
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("PUSH_TIMEOUT must be positive")
	}
	if p.Parallelism < 1 {
		return fmt.Errorf("PUSH_PARALLELISM must be at least 1")
	}
	if p.MaxSendsPerSecond < 0 {
		return fmt.Errorf("PUSH_MAX_SENDS_PER_SECOND must not be negative")
	}
	if p.Enabled() && !strings.HasPrefix(p.Subscriber, "mailto:") && !strings.HasPrefix(p.Subscriber, "https://") {
		return fmt.Errorf("VAPID_SUBSCRIBER must start with mailto: or https://")
	}
	return nil
}

func (c *Config) validateProvider() error {
	p := c.Provider
	if !p.Enabled() {
		return nil
	}
	u, err := url.Parse(p.URL)
	if err != nil {
		return fmt.Errorf("ONESIGNAL_API_URL failed to parse: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("ONESIGNAL_API_URL scheme must be http or https, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("ONESIGNAL_API_URL host is required")
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	if p.BreakerMaxFailures == 0 {
		return fmt.Errorf("PROVIDER_BREAKER_MAX_FAILURES must be at least 1")
	}
	if p.BreakerTimeout <= 0 {
		return fmt.Errorf("PROVIDER_BREAKER_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateDispatch() error {
	d := c.Dispatch
	if d.Timeout <= 0 {
		return fmt.Errorf("DISPATCH_TIMEOUT must be positive")
	}
	if len(d.AllStaffRoles) == 0 {
		return fmt.Errorf("DISPATCH_ALL_STAFF_ROLES must name at least one role")
	}
	if d.QueueBuffer < 0 {
		return fmt.Errorf("DISPATCH_QUEUE_BUFFER must not be negative")
	}
	if d.Workers < 1 {
		return fmt.Errorf("DISPATCH_WORKERS must be at least 1")
	}
	switch d.DefaultChannel {
	case "direct_push", "hosted_provider":
	default:
		return fmt.Errorf("DISPATCH_DEFAULT_CHANNEL must be one of: direct_push, hosted_provider")
	}
	return nil
}

func (c *Config) validateDedup() error {
	d := c.Dedup
	switch d.Backend {
	case "none":
		return nil
	case "memory":
	case "badger":
		if d.BadgerPath == "" {
			return fmt.Errorf("DEDUP_BADGER_PATH is required for the badger backend")
		}
	case "redis":
		if d.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis backend")
		}
	default:
		return fmt.Errorf("DEDUP_BACKEND must be one of: none, memory, badger, redis")
	}
	if d.TTL <= 0 {
		return fmt.Errorf("DEDUP_TTL must be positive")
	}
	if d.MaintenanceInterval < 0 {
		return fmt.Errorf("DEDUP_MAINTENANCE_INTERVAL must not be negative")
	}
	return nil
}

// Rate limit bounds.
const (
	minRateLimitRequests = 1
	maxRateLimitRequests = 100000
	minRateLimitWindow   = time.Second
	maxRateLimitWindow   = time.Hour
)

// minJWTSecretLength matches the HS256 key size.
const minJWTSecretLength = 32

func (c *Config) validateSecurity() error {
	s := c.Security
	switch s.AuthMode {
	case "jwt":
		if len(s.JWTSecret) < minJWTSecretLength {
			return fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
		}
	case "none":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=none is not allowed in production")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be one of: jwt, none")
	}

	if s.AuthzReloadInterval < 0 || s.AuthzCacheTTL < 0 {
		return fmt.Errorf("AUTHZ_RELOAD_INTERVAL and AUTHZ_CACHE_TTL must not be negative")
	}
	if s.AuthzReloadInterval > 0 && s.AuthzPolicyPath == "" {
		return fmt.Errorf("AUTHZ_RELOAD_INTERVAL requires AUTHZ_POLICY_PATH")
	}

	if s.RateLimitDisabled {
		return nil
	}
	if s.RateLimitReqs < minRateLimitRequests || s.RateLimitReqs > maxRateLimitRequests {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be between %d and %d", minRateLimitRequests, maxRateLimitRequests)
	}
	if s.RateLimitWindow < minRateLimitWindow || s.RateLimitWindow > maxRateLimitWindow {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be between %v and %v", minRateLimitWindow, maxRateLimitWindow)
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console")
	}
}
