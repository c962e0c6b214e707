package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Token:             "token",
		DatabaseURL:       "/tmp/test.db",
		BatchSize:         50,
		FlushInterval:     30 * time.Second,
		MaxQueueSize:      10000,
		MaxRetries:        3,
		RetryMinDelay:     4 * time.Second,
		RetryMaxDelay:     10 * time.Second,
		BackfillChunkSize: 100,
		BackfillDelay:     time.Second,
		HealthCheckPort:   8080,
		LogLevel:          "info",
		StatsCacheTTL:     5 * time.Minute,
	}
}

func TestValidateOK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateReportsAllViolations(t *testing.T) {
	cfg := validConfig()
	cfg.Token = ""
	cfg.BatchSize = 0
	cfg.MaxRetries = 99
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"token", "batch-size", "max-retries", "log-level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q violation: %v", want, err)
		}
	}
}

func TestValidateQueueSmallerThanBatch(t *testing.T) {
	cfg := validConfig()
	cfg.BatchSize = 100
	cfg.MaxQueueSize = 50
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "max-queue-size") {
		t.Fatalf("expected max-queue-size violation, got %v", err)
	}
}

func TestValidateRetryDelayOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.RetryMinDelay = 10 * time.Second
	cfg.RetryMaxDelay = 4 * time.Second
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "retry-max-delay") {
		t.Fatalf("expected retry-max-delay violation, got %v", err)
	}
}

func TestValidateBigQueryNeedsDataset(t *testing.T) {
	cfg := validConfig()
	cfg.BigQueryProjectID = "proj"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "bigquery-dataset") {
		t.Fatalf("expected bigquery-dataset violation, got %v", err)
	}
	cfg.BigQueryDataset = "ds"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config with project and dataset rejected: %v", err)
	}
}

func TestShouldProcessGuild(t *testing.T) {
	cfg := validConfig()

	if !cfg.ShouldProcessGuild("1") {
		t.Error("empty lists should allow every guild")
	}

	cfg.AllowedGuilds = []string{"1", "2"}
	if !cfg.ShouldProcessGuild("1") {
		t.Error("allow-listed guild rejected")
	}
	if cfg.ShouldProcessGuild("3") {
		t.Error("guild outside allow list accepted")
	}

	// The deny list wins even over an explicit allow.
	cfg.IgnoredGuilds = []string{"1"}
	if cfg.ShouldProcessGuild("1") {
		t.Error("denied guild accepted despite allow list entry")
	}
	if !cfg.ShouldProcessGuild("2") {
		t.Error("unrelated guild affected by deny list")
	}
}

func TestShouldProcessChannel(t *testing.T) {
	cfg := validConfig()
	cfg.IgnoredChannels = []string{"9"}

	if cfg.ShouldProcessChannel("9") {
		t.Error("denied channel accepted")
	}
	if !cfg.ShouldProcessChannel("10") {
		t.Error("channel with no list entries rejected")
	}

	cfg.AllowedChannels = []string{"10"}
	if cfg.ShouldProcessChannel("11") {
		t.Error("channel outside allow list accepted")
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" 1, 2 ,,3 ")
	if len(got) != 3 || got[0] != "1" || got[1] != "2" || got[2] != "3" {
		t.Fatalf("unexpected split result: %v", got)
	}
	if SplitList("") != nil {
		t.Error("empty input should produce nil")
	}
}

func TestBackfillCutoff(t *testing.T) {
	cfg := validConfig()
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	if !cfg.BackfillCutoff(now).IsZero() {
		t.Error("zero max age should mean no cutoff")
	}

	cfg.BackfillMaxAgeDays = 30
	want := now.AddDate(0, 0, -30)
	if got := cfg.BackfillCutoff(now); !got.Equal(want) {
		t.Errorf("cutoff = %v, want %v", got, want)
	}
}
