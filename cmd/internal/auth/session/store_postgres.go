package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"warden/cmd/identity"
)

// PostgresStore implements Store over the credentials table.
//
// WithinUser takes a transaction-scoped advisory lock keyed by the user ID,
// so concurrent issuers for one user queue behind each other while other
// users proceed.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	now    func() time.Time
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithPostgresSchema sets the schema (default "warden").
func WithPostgresSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !identity.ValidSchemaName(schema) {
			return fmt.Errorf("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed credential store.
// The pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	s := &PostgresStore{
		pool:   pool,
		schema: identity.DefaultSchema,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	return s, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "credentials"}.Sanitize()
}

// Put implements Tx.
func (s *PostgresStore) Put(ctx context.Context, c Credential) error {
	return s.SaveAll(ctx, []Credential{c})
}

// FindByValue implements Tx.
func (s *PostgresStore) FindByValue(ctx context.Context, value string) (Credential, error) {
	return pgFindByValue(ctx, s.pool, s.table(), value)
}

// FindAllValid implements Tx.
func (s *PostgresStore) FindAllValid(ctx context.Context, userID string) ([]Credential, error) {
	return pgFindAllValid(ctx, s.pool, s.table(), userID)
}

// SaveAll implements Tx. All rows are written in one transaction.
func (s *PostgresStore) SaveAll(ctx context.Context, cs []Credential) error {
	if len(cs) == 0 {
		return ctx.Err()
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := pgSaveAll(ctx, tx, s.table(), cs, s.now()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// WithinUser implements Store.
func (s *PostgresStore) WithinUser(ctx context.Context, userID string, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "warden.credentials:"+userID); err != nil {
		return err
	}

	if err := fn(&postgresTx{tx: tx, table: s.table(), userID: userID, now: s.now}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type postgresTx struct {
	tx     pgx.Tx
	table  string
	userID string
	now    func() time.Time
}

func (t *postgresTx) Put(ctx context.Context, c Credential) error {
	return t.SaveAll(ctx, []Credential{c})
}

func (t *postgresTx) FindByValue(ctx context.Context, value string) (Credential, error) {
	return pgFindByValue(ctx, t.tx, t.table, value)
}

func (t *postgresTx) FindAllValid(ctx context.Context, userID string) ([]Credential, error) {
	return pgFindAllValid(ctx, t.tx, t.table, userID)
}

func (t *postgresTx) SaveAll(ctx context.Context, cs []Credential) error {
	for _, c := range cs {
		if err := checkOwner(t.userID, c); err != nil {
			return err
		}
	}
	return pgSaveAll(ctx, t.tx, t.table, cs, t.now())
}

const credentialColumns = `value, kind, user_id, expired, revoked, created_at`

func pgFindByValue(ctx context.Context, q querier, table, value string) (Credential, error) {
	if strings.TrimSpace(value) == "" {
		return Credential{}, ErrCredentialNotFound
	}
	c, err := scanCredential(q.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM `+table+` WHERE value = $1`,
		value,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrCredentialNotFound
	}
	if err != nil {
		return Credential{}, err
	}
	return c, nil
}

func pgFindAllValid(ctx context.Context, q querier, table, userID string) ([]Credential, error) {
	rows, err := q.Query(ctx,
		`SELECT `+credentialColumns+` FROM `+table+`
		  WHERE user_id = $1 AND NOT expired AND NOT revoked
		  ORDER BY created_at, value`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Credential, 0, 1)
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func pgSaveAll(ctx context.Context, q querier, table string, cs []Credential, now time.Time) error {
	for _, c := range cs {
		if err := validateCredential(c); err != nil {
			return err
		}
		c = normalizeCredential(c, now)
		_, err := q.Exec(ctx,
			`INSERT INTO `+table+` (`+credentialColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (value) DO UPDATE
			    SET kind = EXCLUDED.kind,
			        user_id = EXCLUDED.user_id,
			        expired = EXCLUDED.expired,
			        revoked = EXCLUDED.revoked`,
			c.Value, string(c.Kind), c.UserID, c.Expired, c.Revoked, c.CreatedAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func scanCredential(row pgx.Row) (Credential, error) {
	var (
		c    Credential
		kind string
	)
	if err := row.Scan(&c.Value, &kind, &c.UserID, &c.Expired, &c.Revoked, &c.CreatedAt); err != nil {
		return Credential{}, err
	}
	c.Kind = CredentialKind(kind)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}
