// Package store is the persistence gateway: every read and write to the
// backend goes through its classify-and-retry policy, and all writes are
// keyed upserts so redelivery of the same record is idempotent.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/glebarez/sqlite"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	slogGorm "github.com/orandin/slog-gorm"

	"github.com/moonyandfriends/badbot-discord-logger/pkg/config"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/models"
)

var tracer = otel.Tracer("store")

type Store struct {
	logger *slog.Logger
	db     *gorm.DB

	maxRetries    int
	retryMinDelay time.Duration
	retryMaxDelay time.Duration

	statsCache
}

// NewStore opens the backend, migrates the schema, and verifies
// connectivity. A failed probe is fatal: the daemon must not accept events
// it cannot persist.
func NewStore(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*Store, error) {
	logger = logger.With("module", "store")

	gormLogger := slogGorm.New()

	var dialector gorm.Dialector
	if strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		dialector = postgres.Open(cfg.DatabaseURL)
	} else {
		dialector = sqlite.Open(cfg.DatabaseURL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialector.Name() == "sqlite" {
		// Set pragmas for performance
		db.Exec("PRAGMA journal_mode=WAL;")
		db.Exec("PRAGMA synchronous=normal;")
	}

	if err := db.AutoMigrate(
		&models.Message{},
		&models.Action{},
		&models.Checkpoint{},
		&models.Guild{},
		&models.Channel{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	s := &Store{
		logger:        logger,
		db:            db,
		maxRetries:    cfg.MaxRetries,
		retryMinDelay: cfg.RetryMinDelay,
		retryMaxDelay: cfg.RetryMaxDelay,
		statsCache:    statsCache{ttl: cfg.StatsCacheTTL},
	}

	if err := s.probe(ctx); err != nil {
		return nil, fmt.Errorf("database connectivity probe failed: %w", err)
	}

	logger.Info("connected to database", "dialect", dialector.Name())

	return s, nil
}

// probe verifies the backend is reachable and the checkpoint table is
// readable before the daemon starts accepting traffic.
func (s *Store) probe(ctx context.Context) error {
	return s.withRetry(ctx, "probe", func(db *gorm.DB) error {
		var cp models.Checkpoint
		err := db.Limit(1).Find(&cp).Error
		return err
	})
}

// withRetry runs one storage operation under the gateway's uniform retry
// policy: exponential backoff between retryMinDelay and retryMaxDelay,
// bounded to maxRetries attempts, with non-retryable failures failing fast.
func (s *Store) withRetry(ctx context.Context, operation string, fn func(db *gorm.DB) error) error {
	ctx, span := tracer.Start(ctx, operation)
	defer span.End()

	start := time.Now()
	defer func() {
		opDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryMinDelay
	bo.MaxInterval = s.retryMaxDelay
	bo.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		if attempts > 1 {
			retriesTotal.WithLabelValues(operation).Inc()
		}
		err := fn(s.db.WithContext(ctx))
		if err == nil {
			return nil
		}
		if IsRetryable(err) {
			s.logger.Warn("retryable storage error", "operation", operation, "attempt", attempts, "err", err)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.maxRetries-1)), ctx))

	if err != nil {
		opsTotal.WithLabelValues(operation, "error").Inc()
		span.SetAttributes(attribute.Int("attempts", attempts))
		return fmt.Errorf("%s failed after %d attempt(s): %w", operation, attempts, err)
	}

	opsTotal.WithLabelValues(operation, "ok").Inc()
	return nil
}

// StoreMessage upserts a single message keyed on message_id.
func (s *Store) StoreMessage(ctx context.Context, msg *models.Message) error {
	if err := validateMessage(msg); err != nil {
		return fmt.Errorf("message %s failed validation: %w", msg.MessageID, err)
	}

	err := s.withRetry(ctx, "store_message", func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			UpdateAll: true,
		}).Create(msg).Error
	})
	if err != nil {
		return err
	}

	recordsStored.WithLabelValues("messages").Inc()
	return nil
}

// StoreMessages upserts a batch of messages in one call. Records that fail
// validation are skipped with a warning; the rest of the batch proceeds.
// Returns the number of records actually written.
func (s *Store) StoreMessages(ctx context.Context, msgs []*models.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	valid := make([]*models.Message, 0, len(msgs))
	for _, msg := range msgs {
		if err := validateMessage(msg); err != nil {
			s.logger.Warn("skipping message that failed conversion", "message_id", msg.MessageID, "err", err)
			recordsSkipped.WithLabelValues("messages").Inc()
			continue
		}
		valid = append(valid, msg)
	}
	if len(valid) == 0 {
		return 0, nil
	}

	err := s.withRetry(ctx, "store_messages_batch", func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			UpdateAll: true,
		}).Create(&valid).Error
	})
	if err != nil {
		return 0, err
	}

	recordsStored.WithLabelValues("messages").Add(float64(len(valid)))
	return len(valid), nil
}

// StoreAction inserts one action row. Actions are append-only; each call
// records a distinct occurrence under a fresh UUID.
func (s *Store) StoreAction(ctx context.Context, action *models.Action) error {
	if action.ActionID == "" {
		return fmt.Errorf("action of type %s has no action_id", action.ActionType)
	}
	if action.LoggedAt.IsZero() {
		action.LoggedAt = time.Now().UTC()
	}

	err := s.withRetry(ctx, "store_action", func(db *gorm.DB) error {
		return db.Create(action).Error
	})
	if err != nil {
		return err
	}

	recordsStored.WithLabelValues("actions").Inc()
	return nil
}

// StoreGuild upserts the guild snapshot, preserving first_seen on conflict.
func (s *Store) StoreGuild(ctx context.Context, guild *models.Guild) error {
	now := time.Now().UTC()
	if guild.FirstSeen.IsZero() {
		guild.FirstSeen = now
	}
	guild.LastUpdated = now

	err := s.withRetry(ctx, "store_guild", func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "guild_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "description", "owner_id", "member_count",
				"created_at", "icon_url", "banner_url", "last_updated",
			}),
		}).Create(guild).Error
	})
	if err != nil {
		return err
	}

	recordsStored.WithLabelValues("guilds").Inc()
	return nil
}

// StoreChannel upserts the channel snapshot, preserving first_seen on
// conflict.
func (s *Store) StoreChannel(ctx context.Context, channel *models.Channel) error {
	now := time.Now().UTC()
	if channel.FirstSeen.IsZero() {
		channel.FirstSeen = now
	}
	channel.LastUpdated = now

	err := s.withRetry(ctx, "store_channel", func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "channel_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"guild_id", "name", "channel_type", "topic",
				"position", "category_id", "last_updated",
			}),
		}).Create(channel).Error
	})
	if err != nil {
		return err
	}

	recordsStored.WithLabelValues("channels").Inc()
	return nil
}

// GetLastMessageID returns the id of the most recent stored message in a
// channel, or empty when the channel has none.
func (s *Store) GetLastMessageID(ctx context.Context, channelID string, guildID *string) (string, error) {
	var msg models.Message
	err := s.withRetry(ctx, "get_last_message_id", func(db *gorm.DB) error {
		q := db.Where("channel_id = ?", channelID)
		if guildID != nil && *guildID != "" {
			q = q.Where("guild_id = ?", *guildID)
		}
		return q.Order("created_at DESC").Limit(1).Find(&msg).Error
	})
	if err != nil {
		return "", err
	}
	return msg.MessageID, nil
}

// GetExistingWebhookIDs returns the webhook ids already recorded as
// webhook_create actions for a guild.
func (s *Store) GetExistingWebhookIDs(ctx context.Context, guildID string) (map[string]struct{}, error) {
	var actions []models.Action
	err := s.withRetry(ctx, "get_existing_webhook_ids", func(db *gorm.DB) error {
		return db.Where("guild_id = ? AND action_type = ?", guildID, models.ActionWebhookCreate).
			Find(&actions).Error
	})
	if err != nil {
		return nil, err
	}

	ids := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		if id, ok := a.ActionData["webhook_id"].(string); ok && id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

// CleanupResult reports how many rows a cleanup pass removed.
type CleanupResult struct {
	MessagesDeleted int64 `json:"messages_deleted"`
	ActionsDeleted  int64 `json:"actions_deleted"`
}

// CleanupOldData deletes messages and actions older than the given number of
// days. Checkpoints and snapshots are never touched.
func (s *Store) CleanupOldData(ctx context.Context, daysToKeep int) (CleanupResult, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep)
	var result CleanupResult

	err := s.withRetry(ctx, "cleanup_messages", func(db *gorm.DB) error {
		res := db.Where("created_at < ?", cutoff).Delete(&models.Message{})
		result.MessagesDeleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return result, err
	}

	err = s.withRetry(ctx, "cleanup_actions", func(db *gorm.DB) error {
		res := db.Where("occurred_at < ?", cutoff).Delete(&models.Action{})
		result.ActionsDeleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return result, err
	}

	s.logger.Info("cleaned up old data",
		"messages_deleted", result.MessagesDeleted,
		"actions_deleted", result.ActionsDeleted,
		"cutoff", cutoff)

	return result, nil
}

func validateMessage(msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("nil message")
	}
	if msg.MessageID == "" {
		return fmt.Errorf("missing message_id")
	}
	if msg.ChannelID == "" {
		return fmt.Errorf("missing channel_id")
	}
	if msg.AuthorID == "" {
		return fmt.Errorf("missing author_id")
	}
	if msg.CreatedAt.IsZero() {
		return fmt.Errorf("missing created_at")
	}
	if msg.LoggedAt.IsZero() {
		msg.LoggedAt = time.Now().UTC()
	}
	return nil
}
