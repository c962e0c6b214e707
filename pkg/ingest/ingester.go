package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/moonyandfriends/badbot-discord-logger/pkg/config"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/models"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/queue"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/store"
)

var tracer = otel.Tracer("ingest")

// BackfillStarter is the slice of the backfill runner the event handlers
// need: kick off a walk when a guild becomes available, cancel it when the
// guild goes away. Wired in by the caller after both sides are constructed.
type BackfillStarter interface {
	StartGuild(guildID string)
	CancelGuild(guildID string)
}

// ArchiveSink receives a copy of every message batch that was successfully
// persisted. Sinks buffer internally; Enqueue must not block.
type ArchiveSink interface {
	Enqueue(msgs []*models.Message)
}

// Ingester receives normalized gateway events, applies the inclusion policy,
// and batches rows toward the persistence gateway. One instance serves the
// whole process; all methods are safe for concurrent use.
type Ingester struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store

	messages *queue.Bounded[*models.Message]
	actions  *queue.Bounded[*models.Action]

	// seen tracks recently ingested message ids so the live handlers and the
	// backfill walker do not double-store the same message.
	seen *lru.Cache[string, struct{}]

	// startupGuilds holds the guild ids present in the Ready payload, so
	// guilds joined later can be told apart from ones the session already
	// had when it connected.
	startupMu     sync.Mutex
	startupGuilds map[string]struct{}

	backfill BackfillStarter
	sinks    []ArchiveSink

	// flushMu serializes flushes per queue so the periodic tick, the
	// size-triggered flush, and shutdown drain never interleave batches.
	flushMessagesMu sync.Mutex
	flushActionsMu  sync.Mutex

	// Capacity-1 wakeup channels for Run. A full channel means a flush is
	// already pending, so enqueues never block or stack up goroutines
	// while the store is slow.
	flushMessagesCh chan struct{}
	flushActionsCh  chan struct{}

	startTime time.Time

	messagesReceived atomic.Int64
	actionsReceived  atomic.Int64
	messagesDropped  atomic.Int64
	actionsDropped   atomic.Int64
	messagesStored   atomic.Int64
	actionsStored    atomic.Int64
	flushErrors      atomic.Int64
}

// Stats is a point-in-time snapshot of the ingester's counters. The counters
// reset on process restart.
type Stats struct {
	MessagesReceived int64     `json:"messages_received"`
	ActionsReceived  int64     `json:"actions_received"`
	MessagesDropped  int64     `json:"messages_dropped"`
	ActionsDropped   int64     `json:"actions_dropped"`
	MessagesStored   int64     `json:"messages_stored"`
	ActionsStored    int64     `json:"actions_stored"`
	FlushErrors      int64     `json:"flush_errors"`
	MessageQueueLen  int       `json:"message_queue_len"`
	ActionQueueLen   int       `json:"action_queue_len"`
	StartedAt        time.Time `json:"started_at"`
	UptimeSeconds    int64     `json:"uptime_seconds"`
}

func NewIngester(logger *slog.Logger, st *store.Store, cfg *config.Config) (*Ingester, error) {
	// Sized so ids stay resident for roughly two full queue cycles.
	seen, err := lru.New[string, struct{}](2 * cfg.MaxQueueSize)
	if err != nil {
		return nil, fmt.Errorf("creating seen cache: %w", err)
	}

	return &Ingester{
		cfg:             cfg,
		logger:          logger.With("component", "ingest"),
		store:           st,
		messages:        queue.NewBounded[*models.Message]("messages", cfg.MaxQueueSize),
		actions:         queue.NewBounded[*models.Action]("actions", cfg.MaxQueueSize),
		seen:            seen,
		startupGuilds:   make(map[string]struct{}),
		flushMessagesCh: make(chan struct{}, 1),
		flushActionsCh:  make(chan struct{}, 1),
		startTime:       time.Now(),
	}, nil
}

func (i *Ingester) markStartupGuilds(ids []string) {
	i.startupMu.Lock()
	defer i.startupMu.Unlock()
	for _, id := range ids {
		i.startupGuilds[id] = struct{}{}
	}
}

func (i *Ingester) isStartupGuild(id string) bool {
	i.startupMu.Lock()
	defer i.startupMu.Unlock()
	_, ok := i.startupGuilds[id]
	return ok
}

// SetBackfill wires in the backfill runner. Must be called before Register.
func (i *Ingester) SetBackfill(b BackfillStarter) { i.backfill = b }

// AddSink registers an archive sink that mirrors persisted message batches.
func (i *Ingester) AddSink(s ArchiveSink) { i.sinks = append(i.sinks, s) }

// Seen reports whether a message id was recently ingested by this process.
func (i *Ingester) Seen(messageID string) bool {
	return i.seen.Contains(messageID)
}

// MarkSeen records a message id in the recently-ingested set.
func (i *Ingester) MarkSeen(messageID string) {
	i.seen.Add(messageID, struct{}{})
}

// ShouldProcessMessage applies the inclusion policy to a raw message. The
// recently-seen set is deliberately not consulted here so that edits to an
// already-stored message still pass through.
func (i *Ingester) ShouldProcessMessage(m *discordgo.Message) bool {
	if m == nil || m.Author == nil {
		return false
	}
	if m.Author.Bot && !i.cfg.ProcessBotMessages {
		return false
	}
	if m.Author.System && !i.cfg.ProcessSystemMessages {
		return false
	}
	if m.GuildID == "" {
		return i.cfg.ProcessDMMessages
	}
	if !i.cfg.ShouldProcessGuild(m.GuildID) {
		return false
	}
	return i.cfg.ShouldProcessChannel(m.ChannelID)
}

// EnqueueMessage places a normalized message on the bounded queue, evicting
// the oldest entry when full, and wakes the flush worker once a full batch
// is waiting.
func (i *Ingester) EnqueueMessage(ctx context.Context, msg *models.Message) {
	i.messagesReceived.Add(1)
	if dropped := i.messages.Push(msg); dropped {
		i.messagesDropped.Add(1)
		i.logger.Warn("message queue full, dropped oldest entry",
			"queue_size", i.messages.Len())
	}
	if i.messages.Len() >= i.cfg.BatchSize {
		select {
		case i.flushMessagesCh <- struct{}{}:
		default:
		}
	}
}

// EnqueueAction places a normalized action on the bounded queue with the same
// overflow and flush-trigger behavior as EnqueueMessage.
func (i *Ingester) EnqueueAction(ctx context.Context, action *models.Action) {
	i.actionsReceived.Add(1)
	if dropped := i.actions.Push(action); dropped {
		i.actionsDropped.Add(1)
		i.logger.Warn("action queue full, dropped oldest entry",
			"queue_size", i.actions.Len())
	}
	if i.actions.Len() >= i.cfg.BatchSize {
		select {
		case i.flushActionsCh <- struct{}{}:
		default:
		}
	}
}

// flushMessages pops one batch off the message queue, persists it, advances
// the message checkpoints, and mirrors the batch to any archive sinks. A
// failed store leaves the batch unpersisted; the rows are gone from the
// queue, which is the documented at-most-once tradeoff on sustained DB
// outage.
func (i *Ingester) flushMessages(ctx context.Context) {
	i.flushMessagesMu.Lock()
	defer i.flushMessagesMu.Unlock()

	batch := i.messages.PopBatch(i.cfg.BatchSize)
	if len(batch) == 0 {
		return
	}

	ctx, span := tracer.Start(ctx, "FlushMessages")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", len(batch)))

	stored, err := i.store.StoreMessages(ctx, batch)
	if err != nil {
		i.flushErrors.Add(1)
		recordsFlushed.WithLabelValues("messages", "error").Add(float64(len(batch)))
		i.logger.Error("failed to flush message batch",
			"batch_size", len(batch), "err", err)
		return
	}

	i.messagesStored.Add(int64(stored))
	recordsFlushed.WithLabelValues("messages", "ok").Add(float64(stored))
	if skipped := len(batch) - stored; skipped > 0 {
		recordsFlushed.WithLabelValues("messages", "skipped").Add(float64(skipped))
	}

	i.advanceMessageCheckpoints(ctx, batch)

	for _, sink := range i.sinks {
		sink.Enqueue(batch)
	}

	i.logger.Debug("flushed message batch", "stored", stored, "batch_size", len(batch))
}

// advanceMessageCheckpoints moves the per-channel message checkpoint to the
// newest message of the batch for each channel it touched. Checkpoint errors
// are logged and swallowed; the data itself is already persisted.
func (i *Ingester) advanceMessageCheckpoints(ctx context.Context, batch []*models.Message) {
	type latest struct {
		id int64
		m  *models.Message
	}
	byChannel := make(map[string]latest)
	for _, m := range batch {
		if m == nil || m.IsBackfilled {
			continue
		}
		id, err := strconv.ParseInt(m.MessageID, 10, 64)
		if err != nil {
			continue
		}
		if cur, ok := byChannel[m.ChannelID]; !ok || id > cur.id {
			byChannel[m.ChannelID] = latest{id: id, m: m}
		}
	}

	for channelID, l := range byChannel {
		ts := l.m.CreatedAt
		upd := store.CheckpointUpdate{
			CheckpointType:         models.CheckpointTypeMessage,
			GuildID:                l.m.GuildID,
			ChannelID:              &channelID,
			LastProcessedID:        &l.m.MessageID,
			LastProcessedTimestamp: &ts,
		}
		if err := i.store.UpdateCheckpoint(ctx, upd); err != nil {
			i.logger.Warn("failed to advance message checkpoint",
				"channel_id", channelID, "err", err)
		}
	}
}

// flushActions pops one batch off the action queue and persists the rows one
// at a time. Actions have no batch upsert path; a failed row is logged and
// the rest of the batch still goes through.
func (i *Ingester) flushActions(ctx context.Context) {
	i.flushActionsMu.Lock()
	defer i.flushActionsMu.Unlock()

	batch := i.actions.PopBatch(i.cfg.BatchSize)
	if len(batch) == 0 {
		return
	}

	ctx, span := tracer.Start(ctx, "FlushActions")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", len(batch)))

	stored := 0
	for _, action := range batch {
		if action == nil {
			continue
		}
		if err := i.store.StoreAction(ctx, action); err != nil {
			i.flushErrors.Add(1)
			recordsFlushed.WithLabelValues("actions", "error").Inc()
			i.logger.Error("failed to store action",
				"action_id", action.ActionID, "action_type", action.ActionType, "err", err)
			continue
		}
		stored++
	}

	i.actionsStored.Add(int64(stored))
	recordsFlushed.WithLabelValues("actions", "ok").Add(float64(stored))
	i.logger.Debug("flushed action batch", "stored", stored, "batch_size", len(batch))
}

// Run is the flush worker: it drains a queue whenever an enqueue signals a
// full batch, and flushes both on the configured interval regardless of
// size. Runs until the context is canceled, in its own goroutine.
func (i *Ingester) Run(ctx context.Context) {
	ticker := time.NewTicker(i.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-i.flushMessagesCh:
			i.flushMessages(ctx)
		case <-i.flushActionsCh:
			i.flushActions(ctx)
		case <-ticker.C:
			i.flushMessages(ctx)
			i.flushActions(ctx)
		}
	}
}

// Drain flushes both queues until empty. Called during shutdown with a
// context that is not yet canceled so in-flight rows still reach the store.
func (i *Ingester) Drain(ctx context.Context) {
	for i.messages.Len() > 0 {
		if ctx.Err() != nil {
			i.logger.Warn("drain aborted with messages still queued",
				"remaining", i.messages.Len())
			return
		}
		i.flushMessages(ctx)
	}
	for i.actions.Len() > 0 {
		if ctx.Err() != nil {
			i.logger.Warn("drain aborted with actions still queued",
				"remaining", i.actions.Len())
			return
		}
		i.flushActions(ctx)
	}
	i.logger.Info("queues drained")
}

// Stats returns a snapshot of the run counters and queue depths.
func (i *Ingester) Stats() Stats {
	now := time.Now()
	return Stats{
		MessagesReceived: i.messagesReceived.Load(),
		ActionsReceived:  i.actionsReceived.Load(),
		MessagesDropped:  i.messagesDropped.Load(),
		ActionsDropped:   i.actionsDropped.Load(),
		MessagesStored:   i.messagesStored.Load(),
		ActionsStored:    i.actionsStored.Load(),
		FlushErrors:      i.flushErrors.Load(),
		MessageQueueLen:  i.messages.Len(),
		ActionQueueLen:   i.actions.Len(),
		StartedAt:        i.startTime,
		UptimeSeconds:    int64(now.Sub(i.startTime).Seconds()),
	}
}
