package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/moonyandfriends/badbot-discord-logger/pkg/models"
)

// CheckpointUpdate carries the fields to patch on a checkpoint. Nil fields
// are left untouched on an existing row; on creation they take their zero
// defaults.
type CheckpointUpdate struct {
	CheckpointType string
	GuildID        *string
	ChannelID      *string

	LastProcessedID        *string
	LastProcessedTimestamp *time.Time
	TotalProcessed         *int64
	LastBackfillCompleted  *time.Time
	BackfillInProgress     *bool
}

// GetCheckpoint fetches the checkpoint for a scope, or nil when none exists.
func (s *Store) GetCheckpoint(ctx context.Context, checkpointType string, guildID, channelID *string) (*models.Checkpoint, error) {
	id := models.CheckpointID(checkpointType, guildID, channelID)

	var cp models.Checkpoint
	err := s.withRetry(ctx, "get_checkpoint", func(db *gorm.DB) error {
		return db.Where("checkpoint_id = ?", id).First(&cp).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cp, nil
}

// UpdateCheckpoint patches an existing checkpoint row or creates one when
// the scope has never been seen. Only the fields supplied in the update are
// overwritten; everything else keeps its prior value. Checkpoints are never
// deleted.
func (s *Store) UpdateCheckpoint(ctx context.Context, upd CheckpointUpdate) error {
	id := models.CheckpointID(upd.CheckpointType, upd.GuildID, upd.ChannelID)
	now := time.Now().UTC()

	existing, err := s.GetCheckpoint(ctx, upd.CheckpointType, upd.GuildID, upd.ChannelID)
	if err != nil {
		return err
	}

	if existing != nil {
		patch := map[string]any{"updated_at": now}
		if upd.LastProcessedID != nil {
			patch["last_processed_id"] = *upd.LastProcessedID
		}
		if upd.LastProcessedTimestamp != nil {
			patch["last_processed_timestamp"] = *upd.LastProcessedTimestamp
		}
		if upd.TotalProcessed != nil {
			patch["total_processed"] = *upd.TotalProcessed
		}
		if upd.LastBackfillCompleted != nil {
			patch["last_backfill_completed"] = *upd.LastBackfillCompleted
		}
		if upd.BackfillInProgress != nil {
			patch["backfill_in_progress"] = *upd.BackfillInProgress
		}

		return s.withRetry(ctx, "update_checkpoint", func(db *gorm.DB) error {
			return db.Model(&models.Checkpoint{}).
				Where("checkpoint_id = ?", existing.CheckpointID).
				Updates(patch).Error
		})
	}

	cp := models.Checkpoint{
		CheckpointID:           id,
		CheckpointType:         upd.CheckpointType,
		GuildID:                upd.GuildID,
		ChannelID:              upd.ChannelID,
		LastProcessedID:        upd.LastProcessedID,
		LastProcessedTimestamp: upd.LastProcessedTimestamp,
		LastBackfillCompleted:  upd.LastBackfillCompleted,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if upd.TotalProcessed != nil {
		cp.TotalProcessed = *upd.TotalProcessed
	}
	if upd.BackfillInProgress != nil {
		cp.BackfillInProgress = *upd.BackfillInProgress
	}

	return s.withRetry(ctx, "create_checkpoint", func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "checkpoint_id"}},
			UpdateAll: true,
		}).Create(&cp).Error
	})
}
