// Package database provides the Postgres-backed user tier lookup feeding
// the tiered rate limiter. Persistent storage is otherwise owned by the
// REST side of the platform; this service only reads.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ghantakiran/turtletrading-sub002/internal/ratelimit"
)

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// TierRepo resolves a user's subscription tier.
type TierRepo struct {
	pool *pgxpool.Pool
}

// NewTierRepo creates a tier repository.
func NewTierRepo(pool *pgxpool.Pool) *TierRepo {
	return &TierRepo{pool: pool}
}

// GetTier returns the user's subscription tier, defaulting to free for
// unknown users or unrecognized values.
func (r *TierRepo) GetTier(ctx context.Context, userID string) (ratelimit.Tier, error) {
	var tier string
	err := r.pool.QueryRow(ctx,
		`SELECT subscription_tier FROM users WHERE id = $1`,
		userID,
	).Scan(&tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return ratelimit.TierFree, nil
	}
	if err != nil {
		return ratelimit.TierFree, fmt.Errorf("query tier for user %s: %w", userID, err)
	}

	switch ratelimit.Tier(tier) {
	case ratelimit.TierPro, ratelimit.TierEnterprise:
		return ratelimit.Tier(tier), nil
	default:
		return ratelimit.TierFree, nil
	}
}
