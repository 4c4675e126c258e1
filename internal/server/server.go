// Package server exposes the WebSocket endpoint and the operational HTTP
// surface (health, stats, admin broadcast/disconnect, Prometheus metrics).
package server

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ghantakiran/turtletrading-sub002/internal/config"
	"github.com/ghantakiran/turtletrading-sub002/internal/ratelimit"
	"github.com/ghantakiran/turtletrading-sub002/internal/ws"
)

// TierLookup resolves a user's subscription tier at connect time. The
// Postgres repo implements it; a static default is used when no database
// is configured.
type TierLookup interface {
	GetTier(ctx context.Context, userID string) (ratelimit.Tier, error)
}

// StaticTier always answers with one tier.
type StaticTier struct{ Tier ratelimit.Tier }

func (s StaticTier) GetTier(context.Context, string) (ratelimit.Tier, error) {
	return s.Tier, nil
}

// ChannelLister reports the upstream channels currently subscribed, for
// health output.
type ChannelLister interface {
	Channels() []string
}

type Server struct {
	echo    *echo.Echo
	config  *config.Config
	manager *ws.Manager
	rdb     *goredis.Client
	lister  ChannelLister
	tiered  *ratelimit.TieredLimiter
	tiers   TierLookup

	globalLimiter *GlobalConnectionLimiter
	ipLimiter     *IPConnectionLimiter
	connectRate   *ConnectionRateLimiter
}

// NewServer wires the HTTP surface. rdb, lister, and tiered may be nil in
// local-only mode.
func NewServer(cfg *config.Config, manager *ws.Manager, rdb *goredis.Client, lister ChannelLister, tiered *ratelimit.TieredLimiter, tiers TierLookup) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())

	srv := &Server{
		echo:          e,
		config:        cfg,
		manager:       manager,
		rdb:           rdb,
		lister:        lister,
		tiered:        tiered,
		tiers:         tiers,
		globalLimiter: NewGlobalConnectionLimiter(cfg.MaxConnections),
		ipLimiter:     NewIPConnectionLimiter(cfg.MaxConnectionsPerIP),
		connectRate:   NewConnectionRateLimiter(10, 10),
	}

	srv.registerRoutes()
	return srv
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

// Shutdown stops the HTTP listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
