package backfill

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/moonyandfriends/badbot-discord-logger/pkg/config"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/ingest"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/models"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/store"
)

// fakeDiscord serves a canned channel history, newest-first the way the REST
// API does.
type fakeDiscord struct {
	channels []*discordgo.Channel
	history  map[string][]*discordgo.Message
}

func (f *fakeDiscord) GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	return f.channels, nil
}

func (f *fakeDiscord) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	after := int64(0)
	if afterID != "" {
		var err error
		after, err = strconv.ParseInt(afterID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad after id %q", afterID)
		}
	}

	var out []*discordgo.Message
	for _, m := range f.history[channelID] {
		id, _ := strconv.ParseInt(m.ID, 10, 64)
		if id > after {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID > out[b].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DatabaseURL:       filepath.Join(t.TempDir(), "test.db"),
		BatchSize:         50,
		FlushInterval:     time.Second,
		MaxQueueSize:      100,
		MaxRetries:        2,
		RetryMinDelay:     time.Millisecond,
		RetryMaxDelay:     5 * time.Millisecond,
		BackfillEnabled:   true,
		BackfillChunkSize: 100,
		BackfillDelay:     time.Millisecond,
		StatsCacheTTL:     time.Minute,
	}
}

func newTestRunner(t *testing.T, cfg *config.Config, fake *fakeDiscord) (*Runner, *store.Store, *ingest.Ingester) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewStore(context.Background(), logger, cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ing, err := ingest.NewIngester(logger, st, cfg)
	if err != nil {
		t.Fatalf("new ingester: %v", err)
	}
	return NewRunner(logger, st, ing, fake, cfg), st, ing
}

func historyMessage(id string, age time.Duration) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   "msg " + id,
		Type:      discordgo.MessageTypeDefault,
		Timestamp: time.Now().UTC().Add(-age),
		Author:    &discordgo.User{ID: "user1", Username: "alice"},
	}
}

func channelHistory(ids ...string) map[string][]*discordgo.Message {
	msgs := make([]*discordgo.Message, 0, len(ids))
	for i, id := range ids {
		msgs = append(msgs, historyMessage(id, time.Duration(len(ids)-i)*time.Minute))
	}
	return map[string][]*discordgo.Message{"c1": msgs}
}

func TestWalkChannelFromScratch(t *testing.T) {
	fake := &fakeDiscord{history: channelHistory("101", "102", "103", "104", "105")}
	r, st, _ := newTestRunner(t, testConfig(t), fake)
	ctx := context.Background()

	stored, err := r.walkChannel(ctx, "g1", "c1")
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if stored != 5 {
		t.Errorf("stored = %d, want 5", stored)
	}

	stats, err := st.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalMessages != 5 {
		t.Errorf("rows = %d, want 5", stats.TotalMessages)
	}

	guildID, channelID := "g1", "c1"
	cp, err := st.GetCheckpoint(ctx, models.CheckpointTypeBackfill, &guildID, &channelID)
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if cp == nil {
		t.Fatal("no backfill checkpoint written")
	}
	if cp.LastProcessedID == nil || *cp.LastProcessedID != "105" {
		t.Errorf("last_processed_id = %v, want 105", cp.LastProcessedID)
	}
	if cp.BackfillInProgress {
		t.Error("in-progress flag still set after completion")
	}
	if cp.LastBackfillCompleted == nil {
		t.Error("completion timestamp not stamped")
	}
	if cp.TotalProcessed != 5 {
		t.Errorf("total_processed = %d, want 5", cp.TotalProcessed)
	}
}

func TestWalkChannelResumesStrictlyAfterCheckpoint(t *testing.T) {
	fake := &fakeDiscord{history: channelHistory("101", "102", "103", "104", "105")}
	r, st, _ := newTestRunner(t, testConfig(t), fake)
	ctx := context.Background()

	guildID, channelID := "g1", "c1"
	lastID := "103"
	if err := st.UpdateCheckpoint(ctx, store.CheckpointUpdate{
		CheckpointType:  models.CheckpointTypeBackfill,
		GuildID:         &guildID,
		ChannelID:       &channelID,
		LastProcessedID: &lastID,
	}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	stored, err := r.walkChannel(ctx, "g1", "c1")
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if stored != 2 {
		t.Errorf("stored = %d, want only 104 and 105", stored)
	}

	stats, err := st.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalMessages != 2 {
		t.Errorf("rows = %d, want 2 with nothing at or before the checkpoint re-stored", stats.TotalMessages)
	}
}

func TestWalkChannelResumesAfterNewestStoredMessage(t *testing.T) {
	fake := &fakeDiscord{history: channelHistory("101", "102", "103", "104")}
	r, st, _ := newTestRunner(t, testConfig(t), fake)
	ctx := context.Background()

	guildID := "g1"
	seed := &models.Message{
		MessageID:   "102",
		ChannelID:   "c1",
		GuildID:     &guildID,
		AuthorID:    "user1",
		CreatedAt:   time.Now().UTC().Add(-2 * time.Minute),
		MessageType: models.MessageTypeDefault,
	}
	if err := st.StoreMessage(ctx, seed); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	stored, err := r.walkChannel(ctx, "g1", "c1")
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if stored != 2 {
		t.Errorf("stored = %d, want only 103 and 104", stored)
	}
}

func TestWalkChannelSkipsSeenMessages(t *testing.T) {
	fake := &fakeDiscord{history: channelHistory("101", "102", "103")}
	r, _, ing := newTestRunner(t, testConfig(t), fake)

	ing.MarkSeen("102")

	stored, err := r.walkChannel(context.Background(), "g1", "c1")
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if stored != 2 {
		t.Errorf("stored = %d, want 2 with the seen id skipped", stored)
	}
}

func TestWalkChannelHonorsAgeCutoff(t *testing.T) {
	cfg := testConfig(t)
	cfg.BackfillMaxAgeDays = 1

	history := map[string][]*discordgo.Message{"c1": {
		historyMessage("101", 48*time.Hour),
		historyMessage("102", 47*time.Hour),
		historyMessage("103", time.Hour),
	}}
	fake := &fakeDiscord{history: history}
	r, st, _ := newTestRunner(t, cfg, fake)
	ctx := context.Background()

	stored, err := r.walkChannel(ctx, "g1", "c1")
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if stored != 1 {
		t.Errorf("stored = %d, want only the message inside the window", stored)
	}

	// The cursor still advances past skipped history so the walk converges.
	guildID, channelID := "g1", "c1"
	cp, err := st.GetCheckpoint(ctx, models.CheckpointTypeBackfill, &guildID, &channelID)
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if cp.LastProcessedID == nil || *cp.LastProcessedID != "103" {
		t.Errorf("last_processed_id = %v, want 103", cp.LastProcessedID)
	}
}

func TestWalkGuildIsolatesChannels(t *testing.T) {
	fake := &fakeDiscord{
		channels: []*discordgo.Channel{
			{ID: "c1", GuildID: "g1", Type: discordgo.ChannelTypeGuildText},
			{ID: "voice", GuildID: "g1", Type: discordgo.ChannelTypeGuildVoice},
		},
		history: channelHistory("101", "102"),
	}
	r, st, _ := newTestRunner(t, testConfig(t), fake)

	r.walkGuild(context.Background(), "g1")

	stats, err := st.GetStatistics(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalMessages != 2 {
		t.Errorf("rows = %d, want 2 from the text channel only", stats.TotalMessages)
	}
}

func TestWalkGuildMarksGuildScopeCheckpoint(t *testing.T) {
	fake := &fakeDiscord{
		channels: []*discordgo.Channel{
			{ID: "c1", GuildID: "g1", Type: discordgo.ChannelTypeGuildText},
		},
		history: channelHistory("101", "102"),
	}
	r, st, _ := newTestRunner(t, testConfig(t), fake)

	guildID := "g1"
	r.walkGuild(context.Background(), guildID)

	cp, err := st.GetCheckpoint(context.Background(), models.CheckpointTypeBackfill, &guildID, nil)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if cp == nil {
		t.Fatal("no guild-scope backfill checkpoint was written")
	}
	if cp.BackfillInProgress {
		t.Error("backfill_in_progress still set after the walk finished")
	}
	if cp.LastBackfillCompleted == nil {
		t.Error("completion timestamp missing")
	}
}

func TestCancelGuildWithoutWalkIsNoop(t *testing.T) {
	fake := &fakeDiscord{}
	r, _, _ := newTestRunner(t, testConfig(t), fake)

	r.CancelGuild("g1")

	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSnowflakeLess(t *testing.T) {
	if !snowflakeLess("9", "10") {
		t.Error("numeric comparison failed, 9 should sort before 10")
	}
	if snowflakeLess("10", "9") {
		t.Error("10 sorted before 9")
	}
}
