package migrations_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"warden/cmd/internal/migrations"
	"warden/cmd/internal/pgtest"
)

func TestUp_IsIdempotent(t *testing.T) {
	pool := pgtest.OpenPool(t)
	schema := pgtest.MigratedSchema(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := migrations.Up(ctx, pool, schema); err != nil {
		t.Fatalf("second Up: %v", err)
	}

	for _, table := range []string{"users", "credentials"} {
		var n int
		err := pool.QueryRow(ctx, `SELECT count(*) FROM `+pgx.Identifier{schema, table}.Sanitize()).Scan(&n)
		if err != nil {
			t.Fatalf("query %s: %v", table, err)
		}
		if n != 0 {
			t.Fatalf("expected empty %s, got %d rows", table, n)
		}
	}
}
