// Package streamer periodically fetches quotes from an upstream vendor and
// publishes them through the Redis relay. Vendor calls go through the
// outbound throttle, which fails open after bounded retries so a stuck
// quota never stalls the stream permanently.
package streamer

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ghantakiran/turtletrading-sub002/internal/ratelimit"
)

// QuoteSource fetches one quote from the upstream vendor. Implementations
// wrap vendor SDKs or HTTP clients; tests use fakes.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (map[string]any, error)
}

// Publisher is the slice of the Redis publisher the streamer needs.
type Publisher interface {
	PublishMarketData(ctx context.Context, symbol string, data map[string]any)
	PublishMarketOverview(ctx context.Context, data map[string]any)
}

// Streamer drives the periodic fetch-and-publish loop for a fixed symbol
// set.
type Streamer struct {
	source   QuoteSource
	pub      Publisher
	throttle *ratelimit.VendorThrottle
	clock    clockwork.Clock
	symbols  []string
	interval time.Duration
}

// New creates a streamer. An empty symbol list yields a no-op Run.
func New(source QuoteSource, pub Publisher, throttle *ratelimit.VendorThrottle, clock clockwork.Clock, symbols []string, interval time.Duration) *Streamer {
	return &Streamer{
		source:   source,
		pub:      pub,
		throttle: throttle,
		clock:    clock,
		symbols:  symbols,
		interval: interval,
	}
}

// Run fetches and publishes every interval until ctx is cancelled.
func (s *Streamer) Run(ctx context.Context) {
	if len(s.symbols) == 0 {
		slog.Info("Streamer disabled: no symbols configured")
		return
	}

	slog.Info("Streamer starting", "symbols", s.symbols, "interval", s.interval)
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.tick(ctx)
		}
	}
}

// tick fetches every symbol once and publishes a market overview from the
// quotes that succeeded. Per-symbol failures are logged and skipped.
func (s *Streamer) tick(ctx context.Context) {
	overview := make(map[string]any, len(s.symbols))

	for _, symbol := range s.symbols {
		if err := s.throttle.Wait(ctx); err != nil {
			// Only ctx cancellation reaches here; the throttle fails open
			// on quota exhaustion.
			return
		}

		quote, err := s.source.Quote(ctx, symbol)
		if err != nil {
			slog.Warn("Quote fetch failed", "symbol", symbol, "error", err)
			continue
		}

		s.pub.PublishMarketData(ctx, symbol, quote)
		overview[symbol] = quote
	}

	if len(overview) > 0 {
		s.pub.PublishMarketOverview(ctx, map[string]any{"quotes": overview})
	}
}
