package persistence

import (
	"context"
	"os"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/ticketdesk/internal/config"
)

func TestNewPostgres_EmptyDSNHasNoPool(t *testing.T) {
	pg, err := NewPostgres(context.Background(), config.PostgresConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if pg.PoolHandle() != nil {
		t.Fatal("expected nil pool without a DSN")
	}
	if err := pg.Ping(context.Background()); err == nil {
		t.Fatal("ping without a pool must fail")
	}
	pg.Close()
}

func TestNewPostgres_LeavesMigrationsToCaller(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	ctx := context.Background()

	pg, err := NewPostgres(ctx, config.PostgresConfig{DSN: dsn, RunMigrations: true}, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pg.Close)
	if n := logs.FilterMessage("applying migration").Len(); n != 0 {
		t.Fatalf("connecting must not migrate, saw %d migrations", n)
	}

	if err := RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if logs.FilterMessage("migrations applied").Len() != 1 {
		t.Fatal("expected exactly one migration run")
	}
}
