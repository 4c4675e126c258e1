package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ghantakiran/turtletrading-sub002/internal/config"
	"github.com/ghantakiran/turtletrading-sub002/internal/database"
	"github.com/ghantakiran/turtletrading-sub002/internal/logging"
	"github.com/ghantakiran/turtletrading-sub002/internal/ratelimit"
	"github.com/ghantakiran/turtletrading-sub002/internal/redis"
	"github.com/ghantakiran/turtletrading-sub002/internal/server"
	"github.com/ghantakiran/turtletrading-sub002/internal/streamer"
	"github.com/ghantakiran/turtletrading-sub002/internal/ws"
)

func main() {
	clock := clockwork.NewRealClock()

	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized.
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Service starting", "env", cfg.AppEnv, "port", cfg.Port)

	rdb, err := redis.NewClient(context.Background(), cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to create Redis client", "error", err)
		os.Exit(1)
	}
	defer func() { _ = rdb.Close() }()

	broker := redis.NewBroker(rdb)
	defer func() { _ = broker.Close() }()

	tiered := ratelimit.NewTieredLimiter(rdb, clock)

	var tiers server.TierLookup = server.StaticTier{Tier: ratelimit.TierFree}
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		tiers = database.NewTierRepo(pool)
	}

	manager := ws.NewManager(clock, ws.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		QueueSize:         cfg.BroadcastQueueSize,
		MessageLimit:      cfg.ConnectionMessageLimit,
	}, tiered, nil)

	subscriber := redis.NewSubscriber(broker, manager, clock)
	manager.SetSubscriber(subscriber)

	publisher := redis.NewPublisher(broker, clock, "market_data_streamer")
	throttle := ratelimit.NewVendorThrottle("quote_vendor", ratelimit.VendorConfig{
		RequestsPerMinute: cfg.VendorRequestsPerMinute,
		RequestsPerHour:   cfg.VendorRequestsPerHour,
		BurstLimit:        cfg.VendorBurst,
		Cooldown:          cfg.VendorCooldown,
	}, clock)
	stream := streamer.New(streamer.NewSimulatedSource(clock), publisher, throttle, clock, cfg.StreamSymbols, cfg.StreamInterval)

	srv := server.NewServer(cfg, manager, rdb, subscriber, tiered, tiers)

	// Supervised background loops: started together, cancelled together,
	// joined before exit.
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		manager.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		subscriber.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		stream.Run(ctx)
	}()

	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		cancel()
		wg.Wait()
		close(done)
	}()

	slog.Info("Server listening", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("Shutdown complete")
}
