package streamer

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/jonboulle/clockwork"
)

// SimulatedSource generates random-walk quotes. Used when no vendor
// credentials are configured, so the full pipeline can run locally.
type SimulatedSource struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	rng    *rand.Rand
	prices map[string]float64
}

// NewSimulatedSource creates a simulated vendor seeded from the clock.
func NewSimulatedSource(clock clockwork.Clock) *SimulatedSource {
	return &SimulatedSource{
		clock:  clock,
		rng:    rand.New(rand.NewSource(clock.Now().UnixNano())),
		prices: make(map[string]float64),
	}
}

func (s *SimulatedSource) Quote(_ context.Context, symbol string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[symbol]
	if !ok {
		price = 50 + s.rng.Float64()*450
	}

	// Random walk within ±0.5%.
	change := price * (s.rng.Float64() - 0.5) / 100
	price += change
	s.prices[symbol] = price

	return map[string]any{
		"price":          round2(price),
		"change":         round2(change),
		"change_percent": round2(change / price * 100),
		"volume":         s.rng.Int63n(5_000_000),
	}, nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
