package streamer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghantakiran/turtletrading-sub002/internal/ratelimit"
)

type fakeSource struct {
	mu     sync.Mutex
	quotes map[string]map[string]any
	fails  map[string]bool
}

func (f *fakeSource) Quote(_ context.Context, symbol string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails[symbol] {
		return nil, errors.New("vendor error")
	}
	return f.quotes[symbol], nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	quotes    map[string][]map[string]any
	overviews []map[string]any
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{quotes: make(map[string][]map[string]any)}
}

func (p *recordingPublisher) PublishMarketData(_ context.Context, symbol string, data map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[symbol] = append(p.quotes[symbol], data)
}

func (p *recordingPublisher) PublishMarketOverview(_ context.Context, data map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overviews = append(p.overviews, data)
}

func generousThrottle(clock clockwork.Clock) *ratelimit.VendorThrottle {
	return ratelimit.NewVendorThrottle("test", ratelimit.VendorConfig{
		RequestsPerMinute: 6000,
		BurstLimit:        100,
	}, clock)
}

func TestStreamer_TickPublishesQuotesAndOverview(t *testing.T) {
	clock := clockwork.NewFakeClock()
	source := &fakeSource{quotes: map[string]map[string]any{
		"AAPL": {"price": 189.5},
		"TSLA": {"price": 242.1},
	}}
	pub := newRecordingPublisher()
	s := New(source, pub, generousThrottle(clock), clock, []string{"AAPL", "TSLA"}, time.Second)

	s.tick(context.Background())

	require.Len(t, pub.quotes["AAPL"], 1)
	require.Len(t, pub.quotes["TSLA"], 1)
	assert.Equal(t, 189.5, pub.quotes["AAPL"][0]["price"])

	require.Len(t, pub.overviews, 1)
	quotes, ok := pub.overviews[0]["quotes"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, quotes, 2)
}

func TestStreamer_FailedSymbolIsSkipped(t *testing.T) {
	clock := clockwork.NewFakeClock()
	source := &fakeSource{
		quotes: map[string]map[string]any{"AAPL": {"price": 189.5}},
		fails:  map[string]bool{"TSLA": true},
	}
	pub := newRecordingPublisher()
	s := New(source, pub, generousThrottle(clock), clock, []string{"AAPL", "TSLA"}, time.Second)

	s.tick(context.Background())

	assert.Len(t, pub.quotes["AAPL"], 1)
	assert.Empty(t, pub.quotes["TSLA"])

	require.Len(t, pub.overviews, 1)
	quotes := pub.overviews[0]["quotes"].(map[string]any)
	assert.Len(t, quotes, 1)
}

func TestStreamer_AllSymbolsFailingSkipsOverview(t *testing.T) {
	clock := clockwork.NewFakeClock()
	source := &fakeSource{fails: map[string]bool{"AAPL": true}}
	pub := newRecordingPublisher()
	s := New(source, pub, generousThrottle(clock), clock, []string{"AAPL"}, time.Second)

	s.tick(context.Background())

	assert.Empty(t, pub.overviews)
}

func TestStreamer_RunWithoutSymbolsReturns(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(&fakeSource{}, newRecordingPublisher(), generousThrottle(clock), clock, nil, time.Second)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return for an empty symbol list")
	}
}

func TestStreamer_RunTicksOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	source := &fakeSource{quotes: map[string]map[string]any{"AAPL": {"price": 1.0}}}
	pub := newRecordingPublisher()
	s := New(source, pub, generousThrottle(clock), clock, []string{"AAPL"}, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	clock.BlockUntil(1)
	clock.Advance(5 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pub.mu.Lock()
		n := len(pub.quotes["AAPL"])
		pub.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("tick did not fire after advancing the clock")
}

func TestSimulatedSource_QuoteShape(t *testing.T) {
	source := NewSimulatedSource(clockwork.NewFakeClockAt(time.Now()))

	quote, err := source.Quote(context.Background(), "AAPL")
	require.NoError(t, err)

	price, ok := quote["price"].(float64)
	require.True(t, ok)
	assert.Greater(t, price, 0.0)
	assert.Contains(t, quote, "change")
	assert.Contains(t, quote, "change_percent")
	assert.Contains(t, quote, "volume")
}

func TestSimulatedSource_PricesWalkFromPreviousQuote(t *testing.T) {
	source := NewSimulatedSource(clockwork.NewFakeClockAt(time.Now()))
	ctx := context.Background()

	first, err := source.Quote(ctx, "AAPL")
	require.NoError(t, err)
	second, err := source.Quote(ctx, "AAPL")
	require.NoError(t, err)

	firstPrice := first["price"].(float64)
	secondPrice := second["price"].(float64)

	// A single step stays within ±0.5% plus rounding slack.
	assert.InDelta(t, firstPrice, secondPrice, firstPrice*0.006+0.01)
}
