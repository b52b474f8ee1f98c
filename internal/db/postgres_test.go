package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestInitPostgresSkipsWithoutURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	Pool = nil
	InitPostgres(context.Background())
	if Pool != nil {
		t.Fatal("expected nil pool without DATABASE_URL")
	}
}

func TestInitPostgresConnects(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/test")

	origNew := newPool
	origPing := pingPool
	defer func() {
		newPool = origNew
		pingPool = origPing
		Pool = nil
	}()

	cfg, err := pgxpool.ParseConfig("postgres://localhost:5432/test")
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	stub, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("create stub pool: %v", err)
	}
	defer stub.Close()

	var gotDSN string
	newPool = func(ctx context.Context, connString string) (*pgxpool.Pool, error) {
		gotDSN = connString
		return stub, nil
	}
	pingPool = func(ctx context.Context, pool *pgxpool.Pool) error { return nil }

	InitPostgres(context.Background())
	if Pool != stub {
		t.Fatal("expected global pool to be set")
	}
	if gotDSN != "postgres://localhost:5432/test" {
		t.Fatalf("expected DSN to be passed through, got %s", gotDSN)
	}
}
