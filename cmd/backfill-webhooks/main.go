package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/moonyandfriends/badbot-discord-logger/pkg/config"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/models"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/store"
)

// redacted replaces webhook secrets before anything touches the database.
// Tokens and execution URLs are credentials and must never be persisted.
const redacted = "REDACTED"

func main() {
	app := cli.App{
		Name:    "backfill-webhooks",
		Usage:   "record pre-existing guild webhooks as webhook_create actions",
		Version: "0.0.1",
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "token",
			Usage:   "discord bot token",
			EnvVars: []string{"LOGGER_DISCORD_TOKEN", "DISCORD_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "postgres:// DSN or a sqlite file path",
			Value:   "/data/badbot-logger.db",
			EnvVars: []string{"LOGGER_DATABASE_URL", "DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "guilds",
			Usage:   "comma-separated guild ids to scan, empty scans every guild the bot is in",
			EnvVars: []string{"LOGGER_BACKFILL_WEBHOOK_GUILDS"},
		},
		&cli.DurationFlag{
			Name:    "write-delay",
			Usage:   "pause between action writes",
			Value:   100 * time.Millisecond,
			EnvVars: []string{"LOGGER_BACKFILL_WEBHOOK_DELAY"},
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "enable debug logging",
			EnvVars: []string{"LOGGER_DEBUG"},
		},
	}

	app.Action = BackfillWebhooks

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

// BackfillWebhooks is the entry point for the one-shot migration. It lists
// each guild's webhooks through the REST API and records the ones the action
// log has never seen.
func BackfillWebhooks(cctx *cli.Context) error {
	ctx, cancel := context.WithCancel(cctx.Context)
	defer cancel()

	logLevel := slog.LevelInfo
	if cctx.Bool("debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(slog.New(logger.Handler()))

	if cctx.String("token") == "" {
		return fmt.Errorf("token is required")
	}

	cfg := &config.Config{
		DatabaseURL:   cctx.String("database-url"),
		MaxRetries:    3,
		RetryMinDelay: 4 * time.Second,
		RetryMaxDelay: 10 * time.Second,
		StatsCacheTTL: 5 * time.Minute,
	}

	st, err := store.NewStore(ctx, logger, cfg)
	if err != nil {
		logger.Error("failed to initialize store", "error", err)
		return err
	}

	dg, err := discordgo.New("Bot " + cctx.String("token"))
	if err != nil {
		logger.Error("failed to create discord session", "error", err)
		return err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildWebhooks
	if err := dg.Open(); err != nil {
		logger.Error("failed to open discord gateway connection", "error", err)
		return err
	}
	defer dg.Close()

	// The gateway needs a moment to populate state with the guild list.
	time.Sleep(2 * time.Second)

	guildIDs := config.SplitList(cctx.String("guilds"))
	if len(guildIDs) == 0 {
		for _, g := range dg.State.Guilds {
			guildIDs = append(guildIDs, g.ID)
		}
	}
	if len(guildIDs) == 0 {
		logger.Warn("no guilds to scan")
		return nil
	}

	writeDelay := cctx.Duration("write-delay")
	var scanned, recorded, skipped, failed int

	for _, guildID := range guildIDs {
		existing, err := st.GetExistingWebhookIDs(ctx, guildID)
		if err != nil {
			logger.Error("failed to load recorded webhooks", "guild_id", guildID, "error", err)
			failed++
			continue
		}

		hooks, err := dg.GuildWebhooks(guildID)
		if err != nil {
			logger.Error("failed to list guild webhooks", "guild_id", guildID, "error", err)
			failed++
			continue
		}
		scanned++

		for _, hook := range hooks {
			if hook == nil || hook.ID == "" {
				continue
			}
			if _, ok := existing[hook.ID]; ok {
				skipped++
				continue
			}

			action := webhookAction(guildID, hook)
			if err := st.StoreAction(ctx, action); err != nil {
				logger.Error("failed to record webhook",
					"guild_id", guildID, "webhook_id", hook.ID, "error", err)
				failed++
				continue
			}
			recorded++
			logger.Debug("recorded webhook", "guild_id", guildID, "webhook_id", hook.ID)
			time.Sleep(writeDelay)
		}
	}

	logger.Info("webhook backfill complete",
		"guilds_scanned", scanned,
		"webhooks_recorded", recorded,
		"webhooks_skipped", skipped,
		"failures", failed)

	return nil
}

// webhookAction builds the synthetic creation record for one webhook. The
// occurred_at timestamp is recovered from the webhook id snowflake; secrets
// are redacted before the row is built.
func webhookAction(guildID string, hook *discordgo.Webhook) *models.Action {
	occurredAt, err := discordgo.SnowflakeTimestamp(hook.ID)
	if err != nil {
		occurredAt = time.Now().UTC()
	}

	action := &models.Action{
		ActionID:   uuid.New().String(),
		ActionType: models.ActionWebhookCreate,
		GuildID:    &guildID,
		TargetID:   &hook.ID,
		ActionData: models.JSONMap{
			"webhook_id":    hook.ID,
			"webhook_name":  hook.Name,
			"webhook_type":  int(hook.Type),
			"channel_id":    hook.ChannelID,
			"webhook_token": redacted,
			"webhook_url":   redacted,
			"migrated":      true,
		},
		OccurredAt:   occurredAt.UTC(),
		LoggedAt:     time.Now().UTC(),
		IsBackfilled: true,
	}

	targetType := "webhook"
	action.TargetType = &targetType
	if hook.Name != "" {
		action.TargetName = &hook.Name
	}
	if hook.ChannelID != "" {
		action.ChannelID = &hook.ChannelID
	}
	if hook.User != nil {
		action.UserID = &hook.User.ID
		action.Username = &hook.User.Username
	}

	return action
}
