package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/urfave/cli/v2"

	"github.com/moonyandfriends/badbot-discord-logger/pkg/archive"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/backfill"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/config"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/health"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/ingest"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/store"
)

func main() {
	app := cli.App{
		Name:    "logger",
		Usage:   "discord event logging daemon",
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
		&cli.IntFlag{
			Name:    "batch-size",
			Usage:   "number of records per persistence batch",
			Value:   50,
			EnvVars: []string{"LOGGER_BATCH_SIZE"},
		},
		&cli.DurationFlag{
			Name:    "flush-interval",
			Usage:   "how often to flush partially filled batches",
			Value:   30 * time.Second,
			EnvVars: []string{"LOGGER_FLUSH_INTERVAL"},
		},
		&cli.IntFlag{
			Name:    "max-queue-size",
			Usage:   "bound on each in-memory event queue",
			Value:   10000,
			EnvVars: []string{"LOGGER_MAX_QUEUE_SIZE"},
		},
		&cli.IntFlag{
			Name:    "max-retries",
			Usage:   "attempts per database operation before giving up",
			Value:   3,
			EnvVars: []string{"LOGGER_MAX_RETRIES"},
		},
		&cli.DurationFlag{
			Name:    "retry-min-delay",
			Usage:   "initial backoff delay between retry attempts",
			Value:   4 * time.Second,
			EnvVars: []string{"LOGGER_RETRY_MIN_DELAY"},
		},
		&cli.DurationFlag{
			Name:    "retry-max-delay",
			Usage:   "backoff delay ceiling between retry attempts",
			Value:   10 * time.Second,
			EnvVars: []string{"LOGGER_RETRY_MAX_DELAY"},
		},
		&cli.BoolFlag{
			Name:    "backfill-enabled",
			Usage:   "walk channel history to fill gaps",
			Value:   true,
			EnvVars: []string{"LOGGER_BACKFILL_ENABLED"},
		},
		&cli.BoolFlag{
			Name:    "backfill-on-startup",
			Usage:   "start backfill walks as guilds become available",
			Value:   true,
			EnvVars: []string{"LOGGER_BACKFILL_ON_STARTUP"},
		},
		&cli.IntFlag{
			Name:    "backfill-chunk-size",
			Usage:   "messages per history page",
			Value:   100,
			EnvVars: []string{"LOGGER_BACKFILL_CHUNK_SIZE"},
		},
		&cli.DurationFlag{
			Name:    "backfill-delay",
			Usage:   "pause between history pages",
			Value:   time.Second,
			EnvVars: []string{"LOGGER_BACKFILL_DELAY"},
		},
		&cli.IntFlag{
			Name:    "backfill-max-age-days",
			Usage:   "skip history older than this many days, 0 for no limit",
			Value:   0,
			EnvVars: []string{"LOGGER_BACKFILL_MAX_AGE_DAYS"},
		},
		&cli.BoolFlag{
			Name:    "process-bot-messages",
			Usage:   "log messages authored by bots",
			Value:   false,
			EnvVars: []string{"LOGGER_PROCESS_BOT_MESSAGES"},
		},
		&cli.BoolFlag{
			Name:    "process-system-messages",
			Usage:   "log system messages",
			Value:   false,
			EnvVars: []string{"LOGGER_PROCESS_SYSTEM_MESSAGES"},
		},
		&cli.BoolFlag{
			Name:    "process-dm-messages",
			Usage:   "log direct messages",
			Value:   false,
			EnvVars: []string{"LOGGER_PROCESS_DM_MESSAGES"},
		},
		&cli.StringFlag{
			Name:    "allowed-guilds",
			Usage:   "comma-separated guild allow list, empty allows all",
			EnvVars: []string{"LOGGER_ALLOWED_GUILDS"},
		},
		&cli.StringFlag{
			Name:    "ignored-guilds",
			Usage:   "comma-separated guild deny list",
			EnvVars: []string{"LOGGER_IGNORED_GUILDS"},
		},
		&cli.StringFlag{
			Name:    "allowed-channels",
			Usage:   "comma-separated channel allow list, empty allows all",
			EnvVars: []string{"LOGGER_ALLOWED_CHANNELS"},
		},
		&cli.StringFlag{
			Name:    "ignored-channels",
			Usage:   "comma-separated channel deny list",
			EnvVars: []string{"LOGGER_IGNORED_CHANNELS"},
		},
		&cli.IntFlag{
			Name:    "port",
			Usage:   "port to serve the http server on",
			Value:   8080,
			EnvVars: []string{"LOGGER_PORT", "PORT"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "debug, info, warn, or error",
			Value:   "info",
			EnvVars: []string{"LOGGER_LOG_LEVEL"},
		},
		&cli.DurationFlag{
			Name:    "stats-cache-ttl",
			Usage:   "how long table totals are cached for the stats endpoint",
			Value:   5 * time.Minute,
			EnvVars: []string{"LOGGER_STATS_CACHE_TTL"},
		},
		&cli.StringFlag{
			Name:    "bigquery-project-id",
			Usage:   "Google Cloud project ID for the BigQuery archive sink",
			EnvVars: []string{"LOGGER_BIGQUERY_PROJECT_ID"},
		},
		&cli.StringFlag{
			Name:    "bigquery-dataset",
			Usage:   "BigQuery dataset name",
			EnvVars: []string{"LOGGER_BIGQUERY_DATASET"},
		},
		&cli.StringFlag{
			Name:    "bigquery-table-prefix",
			Usage:   "BigQuery table name prefix",
			Value:   "messages",
			EnvVars: []string{"LOGGER_BIGQUERY_TABLE_PREFIX"},
		},
		&cli.StringFlag{
			Name:    "parquet-dir",
			Usage:   "directory for the parquet archive sink, empty disables it",
			EnvVars: []string{"LOGGER_PARQUET_DIR"},
		},
	}

	app.Action = Logger

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

// Logger is the main function for the logging daemon
func Logger(cctx *cli.Context) error {
	ctx, cancel := context.WithCancel(cctx.Context)
	defer cancel()

	cfg := &config.Config{
		Token:                 cctx.String("token"),
		DatabaseURL:           cctx.String("database-url"),
		BatchSize:             cctx.Int("batch-size"),
		FlushInterval:         cctx.Duration("flush-interval"),
		MaxQueueSize:          cctx.Int("max-queue-size"),
		MaxRetries:            cctx.Int("max-retries"),
		RetryMinDelay:         cctx.Duration("retry-min-delay"),
		RetryMaxDelay:         cctx.Duration("retry-max-delay"),
		BackfillEnabled:       cctx.Bool("backfill-enabled"),
		BackfillOnStartup:     cctx.Bool("backfill-on-startup"),
		BackfillChunkSize:     cctx.Int("backfill-chunk-size"),
		BackfillDelay:         cctx.Duration("backfill-delay"),
		BackfillMaxAgeDays:    cctx.Int("backfill-max-age-days"),
		ProcessBotMessages:    cctx.Bool("process-bot-messages"),
		ProcessSystemMessages: cctx.Bool("process-system-messages"),
		ProcessDMMessages:     cctx.Bool("process-dm-messages"),
		AllowedGuilds:         config.SplitList(cctx.String("allowed-guilds")),
		IgnoredGuilds:         config.SplitList(cctx.String("ignored-guilds")),
		AllowedChannels:       config.SplitList(cctx.String("allowed-channels")),
		IgnoredChannels:       config.SplitList(cctx.String("ignored-channels")),
		HealthCheckPort:       cctx.Int("port"),
		LogLevel:              cctx.String("log-level"),
		StatsCacheTTL:         cctx.Duration("stats-cache-ttl"),
		BigQueryProjectID:     cctx.String("bigquery-project-id"),
		BigQueryDataset:       cctx.String("bigquery-dataset"),
		BigQueryTablePrefix:   cctx.String("bigquery-table-prefix"),
		ParquetDir:            cctx.String("parquet-dir"),
	}

	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel, AddSource: true}))
	slog.SetDefault(slog.New(logger.Handler()))

	if err := cfg.Validate(); err != nil {
		logger.Error("refusing to start", "error", err)
		return err
	}

	logger.Info("starting up")

	st, err := store.NewStore(ctx, logger, cfg)
	if err != nil {
		logger.Error("failed to initialize store", "error", err)
		return err
	}

	ing, err := ingest.NewIngester(logger, st, cfg)
	if err != nil {
		logger.Error("failed to create ingester", "error", err)
		return err
	}

	if cfg.BigQueryProjectID != "" {
		logger.Info("bigquery project id set, starting bigquery archive sink")
		bq, err := archive.NewBigQuery(ctx, logger, cfg.BigQueryProjectID, cfg.BigQueryDataset, cfg.BigQueryTablePrefix)
		if err != nil {
			logger.Error("failed to create bigquery client", "error", err)
			return err
		}
		defer func() {
			if err := bq.Close(); err != nil {
				logger.Error("failed to close bigquery client", "error", err)
			}
		}()
		ing.AddSink(bq)
	}

	var parq *archive.Parquet
	if cfg.ParquetDir != "" {
		logger.Info("parquet dir set, starting parquet archive sink")
		parq, err = archive.NewParquet(logger, cfg.ParquetDir, "messages", cfg.BatchSize*20, time.Minute)
		if err != nil {
			logger.Error("failed to create parquet writer", "error", err)
			return err
		}
		parq.StartWriter()
		ing.AddSink(parq)
	}

	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		logger.Error("failed to create discord session", "error", err)
		return err
	}
	dg.Identify.Intents = discordgo.IntentsAll
	dg.StateEnabled = true

	runner := backfill.NewRunner(logger, st, ing, dg, cfg)
	if cfg.BackfillEnabled {
		// Walks start per guild as GuildCreate events arrive; guilds the
		// session already had at Ready are skipped unless the startup
		// sweep is enabled.
		ing.SetBackfill(runner)
	}

	ing.Register(ctx, dg)

	if err := dg.Open(); err != nil {
		logger.Error("failed to open discord gateway connection", "error", err)
		return err
	}

	// Periodic queue flushes
	flusherShutdown := make(chan struct{})
	go func() {
		ing.Run(ctx)
		close(flusherShutdown)
	}()

	// HTTP server
	srv := health.NewServer(logger, st, ing, dg, cfg.HealthCheckPort)
	httpKill := make(chan struct{})
	httpServerShutdown := make(chan struct{})
	go func() {
		logger := logger.With("source", "http_server")
		if err := srv.Start(); err != nil {
			logger.Error("http server returned an error", "error", err)
			close(httpKill)
		}
		logger.Info("http server shut down")
		close(httpServerShutdown)
	}()

	// Trap SIGINT to trigger a shutdown.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-signals:
		logger.Info("received signal, shutting down")
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	case <-httpKill:
		logger.Info("shutting down due to http server error")
	}

	logger.Info("shutting down, waiting for routines to finish")

	// Stop history walks and the gateway feed first so the queues stop
	// growing, then drain what is left.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Error("backfill runner did not stop cleanly", "error", err)
	}
	if err := dg.Close(); err != nil {
		logger.Error("failed to close discord session", "error", err)
	}

	ing.Drain(shutdownCtx)

	if parq != nil {
		parq.Shutdown()
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down http server", "error", err)
	}

	cancel()
	<-flusherShutdown
	<-httpServerShutdown
	logger.Info("shutdown complete")

	return nil
}
