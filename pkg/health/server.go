// Package health exposes the daemon's HTTP surface: liveness, run
// statistics, prometheus metrics, and pprof.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	echopprof "github.com/sevenNt/echo-pprof"

	"github.com/moonyandfriends/badbot-discord-logger/pkg/ingest"
	"github.com/moonyandfriends/badbot-discord-logger/pkg/store"
)

// Server serves the health and stats endpoints for one daemon process.
type Server struct {
	logger  *slog.Logger
	store   *store.Store
	ing     *ingest.Ingester
	session *discordgo.Session

	echo *echo.Echo
	port int
}

func NewServer(logger *slog.Logger, st *store.Store, ing *ingest.Ingester, session *discordgo.Session, port int) *Server {
	s := &Server{
		logger:  logger.With("component", "health"),
		store:   st,
		ing:     ing,
		session: session,
		port:    port,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(slogecho.New(logger))
	e.Use(echoprometheus.NewMiddleware("http"))
	e.Use(middleware.Recover())

	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/health", s.handleHealth)
	e.GET("/stats", s.handleStats)
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "badbot-discord-logger")
	})
	echopprof.Wrap(e)

	s.echo = e
	return s
}

type botStatus struct {
	Connected bool  `json:"connected"`
	LatencyMS int64 `json:"latency_ms"`
	Guilds    int   `json:"guilds"`
}

type healthResponse struct {
	Healthy  bool               `json:"healthy"`
	Database store.HealthStatus `json:"database"`
	Bot      botStatus          `json:"bot"`
	Queues   map[string]int     `json:"queues"`
	Stats    ingest.Stats       `json:"stats"`
	Now      time.Time          `json:"now"`
}

// handleHealth reports liveness. The endpoint answers 200 as long as the
// database probe passes; a disconnected gateway session is reported but does
// not fail the check because discordgo reconnects on its own.
func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()

	db := s.store.HealthCheck(ctx)
	stats := s.ing.Stats()

	bot := botStatus{}
	if s.session != nil {
		bot.Connected = s.session.DataReady
		bot.LatencyMS = s.session.HeartbeatLatency().Milliseconds()
		if s.session.State != nil {
			bot.Guilds = len(s.session.State.Guilds)
		}
	}

	resp := healthResponse{
		Healthy:  db.DatabaseConnected && db.TablesAccessible,
		Database: db,
		Bot:      bot,
		Queues: map[string]int{
			"messages": stats.MessageQueueLen,
			"actions":  stats.ActionQueueLen,
		},
		Stats: stats,
		Now:   time.Now().UTC(),
	}

	code := http.StatusOK
	if !resp.Healthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

type statsResponse struct {
	Ingest ingest.Stats     `json:"ingest"`
	Store  store.Statistics `json:"store"`
}

// handleStats returns run counters plus cached table totals.
func (s *Server) handleStats(c echo.Context) error {
	ctx := c.Request().Context()

	totals, err := s.store.GetStatistics(ctx)
	if err != nil {
		s.logger.Warn("failed to load table statistics", "err", err)
	}

	return c.JSON(http.StatusOK, statsResponse{
		Ingest: s.ing.Stats(),
		Store:  totals,
	})
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("http server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
