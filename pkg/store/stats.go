package store

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/moonyandfriends/badbot-discord-logger/pkg/models"
)

// Statistics are aggregate row counts for the logged tables.
type Statistics struct {
	TotalMessages int64 `json:"total_messages"`
	TotalActions  int64 `json:"total_actions"`
	TotalGuilds   int64 `json:"total_guilds"`
	TotalChannels int64 `json:"total_channels"`
}

// statsCache holds the last computed counts so the health/stats endpoints
// don't hammer the backend with COUNT queries on every poll.
type statsCache struct {
	ttl time.Duration

	mu        sync.Mutex
	stats     Statistics
	fetchedAt time.Time
}

// GetStatistics returns table counts, cached for the configured TTL.
func (s *Store) GetStatistics(ctx context.Context) (Statistics, error) {
	s.mu.Lock()
	if !s.fetchedAt.IsZero() && time.Since(s.fetchedAt) < s.ttl {
		cached := s.stats
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	var stats Statistics
	err := s.withRetry(ctx, "get_statistics", func(db *gorm.DB) error {
		if err := db.Model(&models.Message{}).Count(&stats.TotalMessages).Error; err != nil {
			return err
		}
		if err := db.Model(&models.Action{}).Count(&stats.TotalActions).Error; err != nil {
			return err
		}
		if err := db.Model(&models.Guild{}).Count(&stats.TotalGuilds).Error; err != nil {
			return err
		}
		return db.Model(&models.Channel{}).Count(&stats.TotalChannels).Error
	})
	if err != nil {
		// Serve the stale snapshot rather than nothing when the backend is
		// briefly unreachable.
		s.mu.Lock()
		cached := s.stats
		stale := !s.fetchedAt.IsZero()
		s.mu.Unlock()
		if stale {
			return cached, nil
		}
		return Statistics{}, err
	}

	s.mu.Lock()
	s.stats = stats
	s.fetchedAt = time.Now()
	s.mu.Unlock()

	return stats, nil
}

// HealthStatus reports backend reachability for the health endpoint.
type HealthStatus struct {
	DatabaseConnected    bool       `json:"database_connected"`
	TablesAccessible     bool       `json:"tables_accessible"`
	LastMessageTimestamp *time.Time `json:"last_message_timestamp"`
	Error                string     `json:"error,omitempty"`
}

// HealthCheck probes connectivity, table readability, and the most recent
// write timestamp.
func (s *Store) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{}

	if err := s.probe(ctx); err != nil {
		status.Error = err.Error()
		return status
	}
	status.DatabaseConnected = true

	var msg models.Message
	err := s.withRetry(ctx, "health_check_tables", func(db *gorm.DB) error {
		return db.Order("created_at DESC").Limit(1).Find(&msg).Error
	})
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.TablesAccessible = true

	if msg.MessageID != "" {
		t := msg.CreatedAt
		status.LastMessageTimestamp = &t
	}

	return status
}
