package migrations

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRun_Success(t *testing.T) {
	db := newDB(t)

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, got *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if got != db {
			return errors.New("unexpected db")
		}
		if dir != "." {
			return errors.New("unexpected dir")
		}
		if len(opts) != 0 {
			return errors.New("unexpected opts")
		}
		return nil
	}
	defer func() { gooseUpContext = orig }()

	if err := Run(context.Background(), db); err != nil {
		t.Fatalf("Run error: %v", err)
	}
}

func TestRun_PropagatesError(t *testing.T) {
	db := newDB(t)

	sentinel := errors.New("boom")
	orig := gooseUpContext
	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return sentinel
	}
	defer func() { gooseUpContext = orig }()

	err := Run(context.Background(), db)
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
}

func TestRun_NilDB(t *testing.T) {
	if err := Run(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}

func TestUp_NilPool(t *testing.T) {
	if err := Up(context.Background(), nil, "warden"); err == nil {
		t.Fatalf("expected error for nil pool")
	}
}

func TestMigrations_EmbeddedFilesAreOrderedAndAnnotated(t *testing.T) {
	entries, err := fs.ReadDir(Migrations, ".")
	if err != nil {
		t.Fatalf("read embedded dir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected at least 2 migrations, got %d", len(entries))
	}

	prev := ""
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".sql") {
			t.Fatalf("unexpected embedded file %q", name)
		}
		if prev != "" && name <= prev {
			t.Fatalf("migrations out of order: %q after %q", name, prev)
		}
		prev = name

		b, err := fs.ReadFile(Migrations, name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		body := string(b)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s is missing goose annotations", name)
		}
	}
}

func TestMigrations_CredentialsEnforceSingleValidPerUser(t *testing.T) {
	b, err := fs.ReadFile(Migrations, "00002_create_credentials.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), "uq_credentials_one_valid_per_user") {
		t.Fatalf("expected partial unique index on valid credentials")
	}
}
