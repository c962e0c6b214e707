package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/moonyandfriends/badbot-discord-logger/pkg/config"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	cfg := &config.Config{
		DatabaseURL:   filepath.Join(t.TempDir(), "test.db"),
		MaxRetries:    3,
		RetryMinDelay: time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		StatsCacheTTL: time.Minute,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewStore(context.Background(), logger, cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func testMessage(id string) *models.Message {
	return &models.Message{
		MessageID:      id,
		ChannelID:      "chan1",
		AuthorID:       "author1",
		AuthorUsername: "alice",
		Content:        "hello",
		MessageType:    models.MessageTypeDefault,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestStoreMessageIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := testMessage("100")
	if err := s.StoreMessage(ctx, msg); err != nil {
		t.Fatalf("first store: %v", err)
	}

	edited := testMessage("100")
	edited.Content = "hello, edited"
	if err := s.StoreMessage(ctx, edited); err != nil {
		t.Fatalf("second store: %v", err)
	}

	var count int64
	if err := s.db.Model(&models.Message{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("row count = %d, want 1", count)
	}

	var got models.Message
	if err := s.db.First(&got, "message_id = ?", "100").Error; err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Content != "hello, edited" {
		t.Errorf("content = %q, want the edited text", got.Content)
	}
}

func TestStoreMessageRoundTripsJSONColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := testMessage("100")
	msg.Attachments = models.JSONList{{"filename": "pic.png", "url": "https://cdn/pic.png"}}
	msg.Embeds = models.JSONList{{"title": "hi"}}
	msg.Mentions = models.StringList{"user2", "user3"}

	if err := s.StoreMessage(ctx, msg); err != nil {
		t.Fatalf("store: %v", err)
	}

	var got models.Message
	if err := s.db.First(&got, "message_id = ?", "100").Error; err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got.Attachments) != 1 || got.Attachments[0]["filename"] != "pic.png" {
		t.Errorf("attachments = %v", got.Attachments)
	}
	if len(got.Embeds) != 1 || got.Embeds[0]["title"] != "hi" {
		t.Errorf("embeds = %v", got.Embeds)
	}
	if len(got.Mentions) != 2 || got.Mentions[0] != "user2" {
		t.Errorf("mentions = %v", got.Mentions)
	}

	// A row with every serialized column empty must also migrate and store.
	if err := s.StoreMessage(ctx, testMessage("101")); err != nil {
		t.Fatalf("store without json payloads: %v", err)
	}
}

func TestStoreMessagesSkipsInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msgs := []*models.Message{
		testMessage("1"),
		testMessage("2"),
		{MessageID: "3", ChannelID: "chan1"}, // no author, fails validation
		testMessage("4"),
		testMessage("5"),
	}

	stored, err := s.StoreMessages(ctx, msgs)
	if err != nil {
		t.Fatalf("store batch: %v", err)
	}
	if stored != 4 {
		t.Errorf("stored = %d, want 4", stored)
	}

	var count int64
	if err := s.db.Model(&models.Message{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 4 {
		t.Errorf("row count = %d, want 4", count)
	}
}

func TestStoreMessagesEmptyBatch(t *testing.T) {
	s := newTestStore(t)

	stored, err := s.StoreMessages(context.Background(), nil)
	if err != nil || stored != 0 {
		t.Fatalf("empty batch: stored=%d err=%v, want 0, nil", stored, err)
	}
}

func TestStoreActionRequiresID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.StoreAction(ctx, &models.Action{ActionType: models.ActionMemberJoin})
	if err == nil {
		t.Fatal("action without id accepted")
	}

	action := &models.Action{
		ActionID:   "a-1",
		ActionType: models.ActionMemberJoin,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.StoreAction(ctx, action); err != nil {
		t.Fatalf("store action: %v", err)
	}
	if action.LoggedAt.IsZero() {
		t.Error("logged_at not defaulted")
	}
}

func TestWithRetryStopsAtMaxAttempts(t *testing.T) {
	s := newTestStore(t)

	attempts := 0
	err := s.withRetry(context.Background(), "flaky_op", func(db *gorm.DB) error {
		attempts++
		return errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != s.maxRetries {
		t.Errorf("attempts = %d, want %d", attempts, s.maxRetries)
	}
}

func TestWithRetryFailsFastOnNonRetryable(t *testing.T) {
	s := newTestStore(t)

	attempts := 0
	err := s.withRetry(context.Background(), "broken_op", func(db *gorm.DB) error {
		attempts++
		return gorm.ErrRecordNotFound
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("original error not preserved: %v", err)
	}
}

func TestWithRetryRecoversMidway(t *testing.T) {
	s := newTestStore(t)

	attempts := 0
	err := s.withRetry(context.Background(), "recovering_op", func(db *gorm.DB) error {
		attempts++
		if attempts < 2 {
			return errors.New("i/o timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestGetLastMessageID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.GetLastMessageID(ctx, "chan1", nil)
	if err != nil {
		t.Fatalf("empty channel: %v", err)
	}
	if id != "" {
		t.Errorf("id = %q, want empty for a channel with no messages", id)
	}

	older := testMessage("10")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := testMessage("20")
	if _, err := s.StoreMessages(ctx, []*models.Message{older, newer}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	id, err = s.GetLastMessageID(ctx, "chan1", nil)
	if err != nil {
		t.Fatalf("get last id: %v", err)
	}
	if id != "20" {
		t.Errorf("id = %q, want 20", id)
	}
}

func TestGetExistingWebhookIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	guildID := "g1"

	seed := &models.Action{
		ActionID:   "wh-1",
		ActionType: models.ActionWebhookCreate,
		GuildID:    &guildID,
		ActionData: models.JSONMap{"webhook_id": "555"},
		OccurredAt: time.Now().UTC(),
	}
	if err := s.StoreAction(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ids, err := s.GetExistingWebhookIDs(ctx, guildID)
	if err != nil {
		t.Fatalf("get ids: %v", err)
	}
	if _, ok := ids["555"]; !ok || len(ids) != 1 {
		t.Errorf("ids = %v, want exactly {555}", ids)
	}

	other, err := s.GetExistingWebhookIDs(ctx, "other-guild")
	if err != nil {
		t.Fatalf("other guild: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("other guild ids = %v, want none", other)
	}
}

func TestStoreGuildPreservesFirstSeen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &models.Guild{GuildID: "g1", Name: "before", OwnerID: "o1"}
	if err := s.StoreGuild(ctx, first); err != nil {
		t.Fatalf("first store: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	second := &models.Guild{GuildID: "g1", Name: "after", OwnerID: "o1"}
	if err := s.StoreGuild(ctx, second); err != nil {
		t.Fatalf("second store: %v", err)
	}

	var got models.Guild
	if err := s.db.First(&got, "guild_id = ?", "g1").Error; err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Name != "after" {
		t.Errorf("name = %q, want after", got.Name)
	}
	if !got.FirstSeen.Equal(first.FirstSeen) {
		t.Errorf("first_seen changed: %v -> %v", first.FirstSeen, got.FirstSeen)
	}
	if !got.LastUpdated.After(got.FirstSeen) {
		t.Errorf("last_updated %v not after first_seen %v", got.LastUpdated, got.FirstSeen)
	}
}

func TestCleanupOldData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := testMessage("old")
	old.CreatedAt = time.Now().UTC().AddDate(0, 0, -60)
	fresh := testMessage("fresh")
	if _, err := s.StoreMessages(ctx, []*models.Message{old, fresh}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	oldAction := &models.Action{
		ActionID:   "a-old",
		ActionType: models.ActionMemberLeave,
		OccurredAt: time.Now().UTC().AddDate(0, 0, -60),
	}
	if err := s.StoreAction(ctx, oldAction); err != nil {
		t.Fatalf("seed action: %v", err)
	}

	result, err := s.CleanupOldData(ctx, 30)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if result.MessagesDeleted != 1 || result.ActionsDeleted != 1 {
		t.Errorf("deleted = %+v, want 1 message and 1 action", result)
	}

	var count int64
	if err := s.db.Model(&models.Message{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("messages remaining = %d, want 1", count)
	}
}

func TestGetStatisticsCaching(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.StoreMessages(ctx, []*models.Message{testMessage("1")}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	stats, err := s.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if stats.TotalMessages != 1 {
		t.Fatalf("total messages = %d, want 1", stats.TotalMessages)
	}

	// A write inside the TTL window is not reflected until the cache expires.
	if _, err := s.StoreMessages(ctx, []*models.Message{testMessage("2")}); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	stats, err = s.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if stats.TotalMessages != 1 {
		t.Errorf("cached total = %d, want the stale 1", stats.TotalMessages)
	}

	s.mu.Lock()
	s.fetchedAt = time.Time{}
	s.mu.Unlock()

	stats, err = s.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("refreshed fetch: %v", err)
	}
	if stats.TotalMessages != 2 {
		t.Errorf("refreshed total = %d, want 2", stats.TotalMessages)
	}
}

func TestHealthCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	status := s.HealthCheck(ctx)
	if !status.DatabaseConnected || !status.TablesAccessible {
		t.Fatalf("fresh store unhealthy: %+v", status)
	}
	if status.LastMessageTimestamp != nil {
		t.Error("expected no last message timestamp on an empty store")
	}

	if err := s.StoreMessage(ctx, testMessage("1")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	status = s.HealthCheck(ctx)
	if status.LastMessageTimestamp == nil {
		t.Error("expected a last message timestamp after a write")
	}
}
