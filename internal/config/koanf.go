// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/clubpush/config.yaml",
	"/etc/clubpush/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultProviderURL is the hosted provider's notification endpoint.
const DefaultProviderURL = "https://onesignal.com/api/v1/notifications"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			Environment:     "development",
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "file:/data/clubpush.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
			MaxOpenConns: 0,
		},
		Push: PushConfig{
			Subscriber:        "mailto:admin@example.org",
			TTL:               86400, // one day
			Urgency:           "normal",
			Timeout:           10 * time.Second,
			Parallelism:       8,
			MaxSendsPerSecond: 0,
		},
		Provider: ProviderConfig{
			URL:                  DefaultProviderURL,
			Timeout:              10 * time.Second,
			BreakerMaxFailures:   5,
			BreakerTimeout:       60 * time.Second,
			BreakerHalfOpenCalls: 1,
		},
		Dispatch: DispatchConfig{
			Timeout:        2 * time.Minute,
			AllStaffRoles:  []string{"admin", "orga", "trainer", "coach"},
			QueueBuffer:    256,
			Workers:        4,
			DefaultChannel: "direct_push",
		},
		Dedup: DedupConfig{
			Backend:    "memory",
			TTL:        10 * time.Minute,
			BadgerPath: "/data/dedup",
			RedisAddr:  "127.0.0.1:6379",
			KeyPrefix:  "clubpush:dedup:",

			MaintenanceInterval: 5 * time.Minute,
		},
		Security: SecurityConfig{
			AuthMode:        "jwt",
			RateLimitReqs:   30,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
			AuthzCacheTTL:   30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf loads defaults, then the config file, then environment variables,
// and validates the result.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths arrive from the environment as comma-separated strings.
var sliceConfigPaths = []string{
	"security.cors_origins",
	"dispatch.all_staff_roles",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			continue
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
var envMappings = map[string]string{
	"server_host":             "server.host",
	"http_port":               "server.port",
	"server_timeout":          "server.timeout",
	"server_shutdown_timeout": "server.shutdown_timeout",
	"environment":             "server.environment",

	"db_driver":         "database.driver",
	"db_dsn":            "database.dsn",
	"db_max_open_conns": "database.max_open_conns",

	"vapid_public_key":          "push.vapid_public_key",
	"vapid_private_key":         "push.vapid_private_key",
	"vapid_subscriber":          "push.subscriber",
	"push_ttl":                  "push.ttl",
	"push_urgency":              "push.urgency",
	"push_timeout":              "push.timeout",
	"push_parallelism":          "push.parallelism",
	"push_max_sends_per_second": "push.max_sends_per_second",

	"onesignal_app_id":                 "provider.app_id",
	"onesignal_api_key":                "provider.api_key",
	"onesignal_api_url":                "provider.url",
	"provider_timeout":                 "provider.timeout",
	"provider_breaker_max_failures":    "provider.breaker_max_failures",
	"provider_breaker_timeout":         "provider.breaker_timeout",
	"provider_breaker_half_open_calls": "provider.breaker_half_open_calls",

	"dispatch_timeout":         "dispatch.timeout",
	"dispatch_all_staff_roles": "dispatch.all_staff_roles",
	"dispatch_queue_buffer":    "dispatch.queue_buffer",
	"dispatch_workers":         "dispatch.workers",
	"dispatch_default_channel": "dispatch.default_channel",

	"dedup_backend":              "dedup.backend",
	"dedup_ttl":                  "dedup.ttl",
	"dedup_badger_path":          "dedup.badger_path",
	"dedup_key_prefix":           "dedup.key_prefix",
	"dedup_maintenance_interval": "dedup.maintenance_interval",
	"redis_addr":                 "dedup.redis_addr",
	"redis_password":             "dedup.redis_password",
	"redis_db":                   "dedup.redis_db",

	"auth_mode":           "security.auth_mode",
	"jwt_secret":          "security.jwt_secret",
	"jwt_issuer":          "security.jwt_issuer",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"cors_origins":        "security.cors_origins",

	"authz_policy_path":     "security.authz_policy_path",
	"authz_reload_interval": "security.authz_reload_interval",
	"authz_cache_ttl":       "security.authz_cache_ttl",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc returns "" for unmapped variables so they are skipped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
