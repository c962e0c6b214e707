// Package config holds the runtime configuration for the logger daemon.
// The struct is built once at startup from CLI flags / environment variables
// and passed by pointer into each component; there is no global lookup.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the flat set of settings the daemon runs with.
type Config struct {
	// Discord
	Token string

	// Storage. A postgres:// DSN selects the hosted backend; anything else
	// is treated as a sqlite file path.
	DatabaseURL string

	// Batching
	BatchSize     int
	FlushInterval time.Duration
	MaxQueueSize  int

	// Persistence retry policy
	MaxRetries    int
	RetryMinDelay time.Duration
	RetryMaxDelay time.Duration

	// Backfill
	BackfillEnabled    bool
	BackfillOnStartup  bool
	BackfillChunkSize  int
	BackfillDelay      time.Duration
	BackfillMaxAgeDays int

	// Inclusion policy
	ProcessBotMessages    bool
	ProcessSystemMessages bool
	ProcessDMMessages     bool
	AllowedGuilds         []string
	IgnoredGuilds         []string
	AllowedChannels       []string
	IgnoredChannels       []string

	// HTTP surface
	HealthCheckPort int

	// Diagnostics
	LogLevel      string
	StatsCacheTTL time.Duration

	// Optional archive sinks
	BigQueryProjectID   string
	BigQueryDataset     string
	BigQueryTablePrefix string
	ParquetDir          string
}

// SplitList parses a comma-separated id list, dropping empty entries.
func SplitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks every constraint and reports all violations at once, so a
// broken deployment shows the full list instead of one error per restart.
func (c *Config) Validate() error {
	var violations []error

	check := func(ok bool, format string, args ...any) {
		if !ok {
			violations = append(violations, fmt.Errorf(format, args...))
		}
	}

	check(c.Token != "", "token: required")
	check(c.DatabaseURL != "", "database-url: required")
	check(c.BatchSize >= 1 && c.BatchSize <= 500, "batch-size: must be between 1 and 500, got %d", c.BatchSize)
	check(c.MaxQueueSize >= c.BatchSize, "max-queue-size: must be at least batch-size (%d), got %d", c.BatchSize, c.MaxQueueSize)
	check(c.FlushInterval > 0, "flush-interval: must be positive, got %s", c.FlushInterval)
	check(c.MaxRetries >= 1 && c.MaxRetries <= 10, "max-retries: must be between 1 and 10, got %d", c.MaxRetries)
	check(c.RetryMinDelay > 0, "retry-min-delay: must be positive, got %s", c.RetryMinDelay)
	check(c.RetryMaxDelay >= c.RetryMinDelay, "retry-max-delay: must be at least retry-min-delay (%s), got %s", c.RetryMinDelay, c.RetryMaxDelay)
	check(c.BackfillChunkSize >= 1 && c.BackfillChunkSize <= 1000, "backfill-chunk-size: must be between 1 and 1000, got %d", c.BackfillChunkSize)
	check(c.BackfillDelay >= 0, "backfill-delay: must not be negative, got %s", c.BackfillDelay)
	check(c.BackfillMaxAgeDays >= 0, "backfill-max-age-days: must not be negative, got %d", c.BackfillMaxAgeDays)
	check(c.HealthCheckPort >= 1024 && c.HealthCheckPort <= 65535, "port: must be between 1024 and 65535, got %d", c.HealthCheckPort)
	check(c.StatsCacheTTL > 0, "stats-cache-ttl: must be positive, got %s", c.StatsCacheTTL)

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		violations = append(violations, fmt.Errorf("log-level: must be one of debug, info, warn, error, got %q", c.LogLevel))
	}

	if c.BigQueryProjectID != "" && c.BigQueryDataset == "" {
		violations = append(violations, errors.New("bigquery-dataset: required when bigquery-project-id is set"))
	}

	if len(violations) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration:\n%w", errors.Join(violations...))
}

// ShouldProcessGuild applies the guild inclusion policy. The deny list wins
// over the allow list; an empty allow list allows everything not denied.
func (c *Config) ShouldProcessGuild(guildID string) bool {
	for _, id := range c.IgnoredGuilds {
		if id == guildID {
			return false
		}
	}
	if len(c.AllowedGuilds) == 0 {
		return true
	}
	for _, id := range c.AllowedGuilds {
		if id == guildID {
			return true
		}
	}
	return false
}

// ShouldProcessChannel applies the channel inclusion policy with the same
// precedence rules as ShouldProcessGuild.
func (c *Config) ShouldProcessChannel(channelID string) bool {
	for _, id := range c.IgnoredChannels {
		if id == channelID {
			return false
		}
	}
	if len(c.AllowedChannels) == 0 {
		return true
	}
	for _, id := range c.AllowedChannels {
		if id == channelID {
			return true
		}
	}
	return false
}

// BackfillCutoff returns the oldest event time the walker will persist, or
// the zero time when no age limit is configured.
func (c *Config) BackfillCutoff(now time.Time) time.Time {
	if c.BackfillMaxAgeDays <= 0 {
		return time.Time{}
	}
	return now.AddDate(0, 0, -c.BackfillMaxAgeDays)
}
