package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghantakiran/turtletrading-sub002/internal/ratelimit"
	"github.com/ghantakiran/turtletrading-sub002/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin enforcement happens at the edge proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) registerRoutes() {
	s.echo.GET("/ws", s.handleWebSocket)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/stats", s.handleStats)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	admin := s.echo.Group("/admin")
	admin.POST("/broadcast", s.handleAdminBroadcast)
	admin.DELETE("/connections/:id", s.handleAdminDisconnect)
}

// handleWebSocket upgrades the connection, registers it with the manager,
// and runs the read loop until the client goes away.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()

	if !s.connectRate.Allow(ip) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "connection rate exceeded")
	}
	if !s.globalLimiter.Acquire() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server at capacity")
	}
	defer s.globalLimiter.Release()

	if !s.ipLimiter.Acquire(ip) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many connections from this address")
	}
	defer s.ipLimiter.Release(ip)

	clientID := c.QueryParam("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	// The auth layer runs upstream; a verified identity arrives as a
	// header, anonymous connections are allowed.
	userID := c.Request().Header.Get("X-User-ID")
	tier := ratelimit.TierFree
	if userID != "" && s.tiers != nil {
		resolved, err := s.tiers.GetTier(c.Request().Context(), userID)
		if err != nil {
			slog.Warn("Tier lookup failed, defaulting to free", "user_id", userID, "error", err)
		} else {
			tier = resolved
		}
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade failure propagates; echo already wrote the response.
		return err
	}

	id, err := s.manager.Connect(conn, clientID, userID, tier, ip)
	if err != nil {
		_ = conn.Close()
		return err
	}

	ctx := c.Request().Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.manager.Disconnect(id, ws.ReasonClientClosed)
			return nil
		}
		if err := s.manager.HandleMessage(ctx, id, raw); err != nil {
			// Unknown connection: already disconnected elsewhere.
			return nil
		}
	}
}

type healthResponse struct {
	Status             string   `json:"status"`
	IsRunning          bool     `json:"is_running"`
	PublisherConnected bool     `json:"publisher_connected"`
	SubscriberChannels int      `json:"subscriber_channels"`
	SubscribedChannels []string `json:"subscribed_channels"`
	RateLimitDegraded  bool     `json:"rate_limit_degraded"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := healthResponse{
		IsRunning:          s.manager.Running(),
		SubscribedChannels: []string{},
	}

	if s.rdb != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		resp.PublisherConnected = s.rdb.Ping(ctx).Err() == nil
		cancel()
	}
	if s.lister != nil {
		resp.SubscribedChannels = s.lister.Channels()
		resp.SubscriberChannels = len(resp.SubscribedChannels)
	}
	if s.tiered != nil {
		resp.RateLimitDegraded = s.tiered.Degraded()
	}

	resp.Status = "healthy"
	if !resp.IsRunning {
		resp.Status = "stopped"
	} else if !resp.PublisherConnected || resp.RateLimitDegraded {
		resp.Status = "degraded"
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.manager.GetConnectionStats())
}

type broadcastRequest struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func (s *Server) handleAdminBroadcast(c echo.Context) error {
	var req broadcastRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Type == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "type is required")
	}

	s.manager.BroadcastToAll(req.Type, req.Data)
	return c.JSON(http.StatusOK, map[string]string{"status": "broadcast sent"})
}

func (s *Server) handleAdminDisconnect(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid connection id")
	}

	s.manager.Disconnect(id, ws.ReasonAdminDisconnect)
	return c.JSON(http.StatusOK, map[string]string{"status": "disconnected"})
}
