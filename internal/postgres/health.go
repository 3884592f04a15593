package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthChecker reports Postgres reachability for the readiness endpoint.
type HealthChecker struct {
	pool *pgxpool.Pool
}

// NewHealthChecker wraps the pool in a HealthChecker.
func NewHealthChecker(pool *pgxpool.Pool) *HealthChecker {
	return &HealthChecker{pool: pool}
}

// HealthCheck runs a trivial query through the pool. A bare Ping can succeed
// against a connection pooler even when the backing database is gone, so a
// real round trip is used instead.
func (h *HealthChecker) HealthCheck(ctx context.Context) error {
	var one int
	if err := h.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("postgres health query: %w", err)
	}
	return nil
}
