// Package backfill walks channel history through the Discord REST API and
// persists the messages the daemon missed while offline. Walks run one
// goroutine per guild, oldest message first, resuming strictly after the
// last id recorded in the backfill checkpoint.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/moonyandfriends/badbot-discord-logger/pkg/config"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/ingest"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/models"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/store"
)

var tracer = otel.Tracer("backfill")

// Discord is the slice of the REST client the walker uses. *discordgo.Session
// satisfies it.
type Discord interface {
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// Runner owns the per-guild backfill walks. StartGuild is a no-op for a
// guild whose walk is already running; CancelGuild stops one early.
type Runner struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	ing     *ingest.Ingester
	discord Discord

	// limiter paces REST page fetches across all concurrent walks.
	limiter *rate.Limiter

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewRunner(logger *slog.Logger, st *store.Store, ing *ingest.Ingester, discord Discord, cfg *config.Config) *Runner {
	every := cfg.BackfillDelay
	if every <= 0 {
		every = time.Second
	}
	return &Runner{
		cfg:     cfg,
		logger:  logger.With("component", "backfill"),
		store:   st,
		ing:     ing,
		discord: discord,
		limiter: rate.NewLimiter(rate.Every(every), 1),
		running: make(map[string]context.CancelFunc),
	}
}

// StartGuild launches a walk for one guild in its own goroutine. Already
// running walks are left alone.
func (r *Runner) StartGuild(guildID string) {
	r.mu.Lock()
	if _, ok := r.running[guildID]; ok {
		r.mu.Unlock()
		r.logger.Debug("backfill already running", "guild_id", guildID)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.running[guildID] = cancel
	r.mu.Unlock()

	walksStarted.Inc()
	activeWalks.Inc()
	r.wg.Add(1)

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.running, guildID)
			r.mu.Unlock()
			activeWalks.Dec()
			r.wg.Done()
			cancel()
		}()
		r.walkGuild(ctx, guildID)
	}()
}

// CancelGuild stops the walk for one guild, if one is running.
func (r *Runner) CancelGuild(guildID string) {
	r.mu.Lock()
	cancel, ok := r.running[guildID]
	r.mu.Unlock()
	if ok {
		r.logger.Info("canceling backfill", "guild_id", guildID)
		cancel()
	}
}

// Shutdown cancels every running walk and waits for the goroutines to exit
// or the context to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, cancel := range r.running {
		cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("backfill shutdown: %w", ctx.Err())
	}
}

// walkGuild backfills every eligible text channel of a guild. Channel errors
// are isolated; one broken channel does not stop the rest.
func (r *Runner) walkGuild(ctx context.Context, guildID string) {
	ctx, span := tracer.Start(ctx, "WalkGuild")
	defer span.End()
	span.SetAttributes(attribute.String("guild_id", guildID))

	inProgress := true
	if err := r.store.UpdateCheckpoint(ctx, store.CheckpointUpdate{
		CheckpointType:     models.CheckpointTypeBackfill,
		GuildID:            &guildID,
		BackfillInProgress: &inProgress,
	}); err != nil {
		r.logger.Warn("failed to mark guild backfill in progress",
			"guild_id", guildID, "err", err)
	}

	// The guild-scope flag must come down however the walk ends.
	defer func() {
		done := false
		now := time.Now().UTC()
		if err := r.store.UpdateCheckpoint(context.WithoutCancel(ctx), store.CheckpointUpdate{
			CheckpointType:        models.CheckpointTypeBackfill,
			GuildID:               &guildID,
			BackfillInProgress:    &done,
			LastBackfillCompleted: &now,
		}); err != nil {
			r.logger.Warn("failed to clear guild backfill flag",
				"guild_id", guildID, "err", err)
		}
	}()

	start := time.Now()
	channels, err := r.discord.GuildChannels(guildID)
	if err != nil {
		walksCompleted.WithLabelValues("error").Inc()
		r.logger.Error("failed to list guild channels", "guild_id", guildID, "err", err)
		return
	}

	var walked, failed, total int
	for _, c := range channels {
		if ctx.Err() != nil {
			walksCompleted.WithLabelValues("canceled").Inc()
			r.logger.Info("backfill canceled", "guild_id", guildID, "messages", total)
			return
		}
		if c == nil || !textLike(c.Type) || !r.cfg.ShouldProcessChannel(c.ID) {
			continue
		}
		n, err := r.walkChannel(ctx, guildID, c.ID)
		total += n
		if err != nil {
			failed++
			channelErrors.Inc()
			r.logger.Error("channel backfill failed",
				"guild_id", guildID, "channel_id", c.ID, "err", err)
			continue
		}
		walked++
	}

	walksCompleted.WithLabelValues("ok").Inc()
	r.logger.Info("guild backfill complete",
		"guild_id", guildID, "channels", walked, "failed_channels", failed,
		"messages", total, "took", time.Since(start).Round(time.Millisecond))
}

func textLike(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread:
		return true
	default:
		return false
	}
}

// walkChannel pages through one channel's history oldest-first and persists
// what the live path has not already stored. Returns the number of messages
// persisted.
func (r *Runner) walkChannel(ctx context.Context, guildID, channelID string) (int, error) {
	ctx, span := tracer.Start(ctx, "WalkChannel")
	defer span.End()
	span.SetAttributes(attribute.String("channel_id", channelID))

	afterID, processed, err := r.resumePoint(ctx, guildID, channelID)
	if err != nil {
		return 0, err
	}

	inProgress := true
	if err := r.store.UpdateCheckpoint(ctx, store.CheckpointUpdate{
		CheckpointType:     models.CheckpointTypeBackfill,
		GuildID:            &guildID,
		ChannelID:          &channelID,
		BackfillInProgress: &inProgress,
	}); err != nil {
		return 0, fmt.Errorf("marking backfill in progress: %w", err)
	}

	// The in-progress flag must come down even on error or cancellation.
	defer func() {
		done := false
		now := time.Now().UTC()
		if err := r.store.UpdateCheckpoint(context.WithoutCancel(ctx), store.CheckpointUpdate{
			CheckpointType:        models.CheckpointTypeBackfill,
			GuildID:               &guildID,
			ChannelID:             &channelID,
			BackfillInProgress:    &done,
			LastBackfillCompleted: &now,
		}); err != nil {
			r.logger.Warn("failed to clear backfill flag",
				"channel_id", channelID, "err", err)
		}
	}()

	cutoff := r.cfg.BackfillCutoff(time.Now().UTC())
	stored := 0

	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return stored, err
		}

		pageSize := r.cfg.BackfillChunkSize
		if pageSize > 100 {
			// REST history caps at 100 per request.
			pageSize = 100
		}
		page, err := r.discord.ChannelMessages(channelID, pageSize, "", afterID, "")
		if err != nil {
			return stored, fmt.Errorf("fetching history after %q: %w", afterID, err)
		}
		if len(page) == 0 {
			return stored, nil
		}

		// The API pages newest-first; process in chronological order.
		sort.Slice(page, func(a, b int) bool {
			return snowflakeLess(page[a].ID, page[b].ID)
		})

		batch := make([]*models.Message, 0, len(page))
		for _, m := range page {
			if m == nil || m.ID == "" {
				continue
			}
			afterID = m.ID
			if !cutoff.IsZero() && m.Timestamp.Before(cutoff) {
				continue
			}
			if r.ing.Seen(m.ID) || !r.ing.ShouldProcessMessage(m) {
				continue
			}
			msg, err := r.ing.ConvertMessage(m, true)
			if err != nil {
				r.logger.Warn("skipping unconvertible history message",
					"message_id", m.ID, "err", err)
				continue
			}
			batch = append(batch, msg)
		}

		if len(batch) > 0 {
			n, err := r.store.StoreMessages(ctx, batch)
			if err != nil {
				return stored, fmt.Errorf("storing history batch: %w", err)
			}
			for _, msg := range batch {
				r.ing.MarkSeen(msg.MessageID)
			}
			stored += n
			processed += int64(n)
			messagesBackfilled.Add(float64(n))
		}

		last := page[len(page)-1]
		ts := last.Timestamp.UTC()
		if err := r.store.UpdateCheckpoint(ctx, store.CheckpointUpdate{
			CheckpointType:         models.CheckpointTypeBackfill,
			GuildID:                &guildID,
			ChannelID:              &channelID,
			LastProcessedID:        &last.ID,
			LastProcessedTimestamp: &ts,
			TotalProcessed:         &processed,
		}); err != nil {
			return stored, fmt.Errorf("advancing backfill checkpoint: %w", err)
		}

		if len(page) < pageSize {
			return stored, nil
		}
		if ctx.Err() != nil {
			return stored, ctx.Err()
		}
	}
}

// resumePoint picks where the walk restarts: the backfill checkpoint if one
// exists, otherwise the newest message already stored for the channel. An
// empty id means walk from the beginning of the channel.
func (r *Runner) resumePoint(ctx context.Context, guildID, channelID string) (string, int64, error) {
	cp, err := r.store.GetCheckpoint(ctx, models.CheckpointTypeBackfill, &guildID, &channelID)
	if err != nil {
		return "", 0, fmt.Errorf("loading backfill checkpoint: %w", err)
	}
	if cp != nil && cp.LastProcessedID != nil && *cp.LastProcessedID != "" {
		return *cp.LastProcessedID, cp.TotalProcessed, nil
	}

	lastID, err := r.store.GetLastMessageID(ctx, channelID, &guildID)
	if err != nil {
		return "", 0, fmt.Errorf("finding newest stored message: %w", err)
	}
	var processed int64
	if cp != nil {
		processed = cp.TotalProcessed
	}
	return lastID, processed, nil
}

func snowflakeLess(a, b string) bool {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA != nil || errB != nil {
		return a < b
	}
	return ai < bi
}
