// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the kodod service.
type Config struct {
	// HTTP server.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Storage. When DatabaseURL is set the Postgres store is used and
	// SQLitePath is ignored.
	DatabaseURL string
	NotifyURL   string
	SQLitePath  string

	// Protocol cadence and limits.
	TickInterval     time.Duration
	CycleTimeout     time.Duration
	GateStaleAfter   time.Duration
	WriteRetries     int
	BurnRateWindow   time.Duration
	HeartbeatHistory int

	// Charter roster. GateOwner must be one of Charters.
	Charters  []string
	GateOwner string

	// Telemetry.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	LogLevel string
}

// Load reads configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         envInt("KODO_PORT", 8089),
		ReadTimeout:  envDuration("KODO_READ_TIMEOUT", 10*time.Second),
		WriteTimeout: envDuration("KODO_WRITE_TIMEOUT", 30*time.Second),

		DatabaseURL: envStr("DATABASE_URL", ""),
		NotifyURL:   envStr("NOTIFY_URL", ""),
		SQLitePath:  envStr("KODO_SQLITE_PATH", "kodo.db"),

		TickInterval:     envDuration("KODO_TICK_INTERVAL", 5*time.Minute),
		CycleTimeout:     envDuration("KODO_CYCLE_TIMEOUT", 10*time.Minute),
		GateStaleAfter:   envDuration("KODO_GATE_STALE_AFTER", 30*time.Minute),
		WriteRetries:     envInt("KODO_WRITE_RETRIES", 1),
		BurnRateWindow:   envDuration("KODO_BURN_RATE_WINDOW", 24*time.Hour),
		HeartbeatHistory: envInt("KODO_HEARTBEAT_HISTORY", 20),

		Charters:  envList("KODO_CHARTERS", []string{"govern", "sustainability"}),
		GateOwner: envStr("KODO_GATE_OWNER", "govern"),

		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "kodod"),

		LogLevel: envStr("KODO_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("config: tick interval must be positive, got %s", c.TickInterval)
	}
	if c.CycleTimeout <= 0 {
		return fmt.Errorf("config: cycle timeout must be positive, got %s", c.CycleTimeout)
	}
	if c.GateStaleAfter <= 0 {
		return fmt.Errorf("config: gate stale-after must be positive, got %s", c.GateStaleAfter)
	}
	if c.WriteRetries < 0 {
		return fmt.Errorf("config: write retries must not be negative, got %d", c.WriteRetries)
	}
	if len(c.Charters) == 0 {
		return fmt.Errorf("config: at least one charter is required")
	}
	seen := make(map[string]bool, len(c.Charters))
	for _, id := range c.Charters {
		if id == "" {
			return fmt.Errorf("config: empty charter id in KODO_CHARTERS")
		}
		if seen[id] {
			return fmt.Errorf("config: duplicate charter id %q", id)
		}
		seen[id] = true
	}
	if !seen[c.GateOwner] {
		return fmt.Errorf("config: gate owner %q is not in the charter roster", c.GateOwner)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
