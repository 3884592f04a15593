package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattice-data/lattice/platform/internal/domain"
	"github.com/lattice-data/lattice/platform/internal/postgres"
)

// testPool returns a pgxpool.Pool connected to the test database.
// It skips the test if DATABASE_URL is not set (so unit test runs stay fast).
// It runs migrations and cleans all tables before returning.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, url)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cleanTables(t, pool)

	return pool
}

// cleanTables truncates all tables.
func cleanTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx := context.Background()
	// Order matters — FK constraints
	tables := []string{"report_executions", "scheduled_reports", "reports"}
	for _, table := range tables {
		if _, err := pool.Exec(ctx, "TRUNCATE "+table+" CASCADE"); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}

// createTestReport inserts a minimal deal-scope report for FK parents.
func createTestReport(t *testing.T, store *postgres.ReportStore, name string) *domain.Report {
	t.Helper()

	report := &domain.Report{
		Name:  name,
		Scope: domain.NewScopeSelection(domain.ScopeDeal).SelectDeal("DL-1"),
		Calculations: []domain.CalcRef{
			{Kind: domain.CalcKindUser, Identifier: "wavg_coupon"},
		},
	}
	if err := store.CreateReport(context.Background(), report); err != nil {
		t.Fatalf("create test report: %v", err)
	}
	return report
}
