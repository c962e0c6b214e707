package store

import (
	"context"
	"testing"
	"time"

	"github.com/moonyandfriends/badbot-discord-logger/pkg/models"
)

func strPtr(s string) *string { return &s }

func TestGetCheckpointMissing(t *testing.T) {
	s := newTestStore(t)

	cp, err := s.GetCheckpoint(context.Background(), models.CheckpointTypeMessage, strPtr("g1"), strPtr("c1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cp != nil {
		t.Fatalf("expected nil for a scope that has never been written, got %+v", cp)
	}
}

func TestUpdateCheckpointCreatesRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lastID := "42"
	ts := time.Now().UTC().Truncate(time.Second)
	err := s.UpdateCheckpoint(ctx, CheckpointUpdate{
		CheckpointType:         models.CheckpointTypeMessage,
		GuildID:                strPtr("g1"),
		ChannelID:              strPtr("c1"),
		LastProcessedID:        &lastID,
		LastProcessedTimestamp: &ts,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	cp, err := s.GetCheckpoint(ctx, models.CheckpointTypeMessage, strPtr("g1"), strPtr("c1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cp == nil {
		t.Fatal("checkpoint not created")
	}
	if cp.CheckpointID != "message_g1_c1" {
		t.Errorf("checkpoint_id = %q, want message_g1_c1", cp.CheckpointID)
	}
	if cp.LastProcessedID == nil || *cp.LastProcessedID != "42" {
		t.Errorf("last_processed_id = %v, want 42", cp.LastProcessedID)
	}
	if cp.TotalProcessed != 0 || cp.BackfillInProgress {
		t.Errorf("unexpected defaults: %+v", cp)
	}
}

func TestUpdateCheckpointPatchesOnlySuppliedFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lastID := "42"
	inProgress := true
	if err := s.UpdateCheckpoint(ctx, CheckpointUpdate{
		CheckpointType:     models.CheckpointTypeBackfill,
		GuildID:            strPtr("g1"),
		ChannelID:          strPtr("c1"),
		LastProcessedID:    &lastID,
		BackfillInProgress: &inProgress,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Patch only the counter; the id and the flag must survive.
	total := int64(150)
	if err := s.UpdateCheckpoint(ctx, CheckpointUpdate{
		CheckpointType: models.CheckpointTypeBackfill,
		GuildID:        strPtr("g1"),
		ChannelID:      strPtr("c1"),
		TotalProcessed: &total,
	}); err != nil {
		t.Fatalf("patch: %v", err)
	}

	cp, err := s.GetCheckpoint(ctx, models.CheckpointTypeBackfill, strPtr("g1"), strPtr("c1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cp.TotalProcessed != 150 {
		t.Errorf("total_processed = %d, want 150", cp.TotalProcessed)
	}
	if cp.LastProcessedID == nil || *cp.LastProcessedID != "42" {
		t.Errorf("last_processed_id lost on patch: %v", cp.LastProcessedID)
	}
	if !cp.BackfillInProgress {
		t.Error("backfill_in_progress lost on patch")
	}

	// Clear the flag and stamp completion the way the walker does.
	done := false
	completed := time.Now().UTC()
	if err := s.UpdateCheckpoint(ctx, CheckpointUpdate{
		CheckpointType:        models.CheckpointTypeBackfill,
		GuildID:               strPtr("g1"),
		ChannelID:             strPtr("c1"),
		BackfillInProgress:    &done,
		LastBackfillCompleted: &completed,
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	cp, err = s.GetCheckpoint(ctx, models.CheckpointTypeBackfill, strPtr("g1"), strPtr("c1"))
	if err != nil {
		t.Fatalf("get after complete: %v", err)
	}
	if cp.BackfillInProgress {
		t.Error("backfill_in_progress still set")
	}
	if cp.LastBackfillCompleted == nil {
		t.Error("last_backfill_completed not stamped")
	}
	if cp.TotalProcessed != 150 {
		t.Errorf("total_processed lost on completion: %d", cp.TotalProcessed)
	}
}

func TestCheckpointScopesAreIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	idA := "1"
	idB := "2"
	if err := s.UpdateCheckpoint(ctx, CheckpointUpdate{
		CheckpointType:  models.CheckpointTypeMessage,
		GuildID:         strPtr("g1"),
		ChannelID:       strPtr("c1"),
		LastProcessedID: &idA,
	}); err != nil {
		t.Fatalf("scope a: %v", err)
	}
	if err := s.UpdateCheckpoint(ctx, CheckpointUpdate{
		CheckpointType:  models.CheckpointTypeMessage,
		GuildID:         strPtr("g1"),
		ChannelID:       strPtr("c2"),
		LastProcessedID: &idB,
	}); err != nil {
		t.Fatalf("scope b: %v", err)
	}

	a, err := s.GetCheckpoint(ctx, models.CheckpointTypeMessage, strPtr("g1"), strPtr("c1"))
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	b, err := s.GetCheckpoint(ctx, models.CheckpointTypeMessage, strPtr("g1"), strPtr("c2"))
	if err != nil {
		t.Fatalf("get b: %v", err)
	}
	if *a.LastProcessedID != "1" || *b.LastProcessedID != "2" {
		t.Errorf("scopes bled into each other: a=%v b=%v", *a.LastProcessedID, *b.LastProcessedID)
	}
}
