package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is the PostgreSQL schema holding Warden's tables.
const DefaultSchema = "warden"

// PostgresDirectory implements Directory over PostgreSQL.
//
// The pgx pool is owned by the caller and is never closed here.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
	now    func() time.Time
}

// PostgresOption configures the directory.
type PostgresOption func(*PostgresDirectory) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidSchemaName reports whether s is a plain PostgreSQL identifier.
func ValidSchemaName(s string) bool {
	return len(s) <= 63 && pgIdentRe.MatchString(s)
}

// WithSchema sets the schema (default "warden").
func WithSchema(schema string) PostgresOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !ValidSchemaName(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a PostgresDirectory.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{
		pool:   pool,
		schema: DefaultSchema,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return d, nil
}

const userColumns = `id, firstname, lastname, email, password_hash, role, created_at, updated_at`

// FindByEmail implements Directory.
func (d *PostgresDirectory) FindByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.FindByEmail"
	return d.findOne(ctx, op, `email = $1`, NormalizeEmail(email))
}

// FindByID implements Directory.
func (d *PostgresDirectory) FindByID(ctx context.Context, id string) (User, error) {
	const op = "identity.FindByID"
	return d.findOne(ctx, op, `id = $1`, strings.TrimSpace(id))
}

func (d *PostgresDirectory) findOne(ctx context.Context, op, where string, arg string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if arg == "" {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}

	row := d.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+pgIdent(d.schema, "users")+` WHERE `+where,
		arg,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	return u, nil
}

// Save implements Directory.
func (d *PostgresDirectory) Save(ctx context.Context, u User) (User, error) {
	const op = "identity.Save"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	isNew := u.ID == ""
	u, err := prepareSave(op, u, d.now())
	if err != nil {
		return User{}, err
	}

	users := pgIdent(d.schema, "users")

	var row pgx.Row
	if isNew {
		row = d.pool.QueryRow(ctx,
			`INSERT INTO `+users+` (`+userColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING `+userColumns,
			u.ID, u.Firstname, u.Lastname, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt, u.UpdatedAt,
		)
	} else {
		row = d.pool.QueryRow(ctx,
			`UPDATE `+users+`
			    SET firstname = $2, lastname = $3, email = $4, password_hash = $5, role = $6, updated_at = $7
			  WHERE id = $1
			 RETURNING `+userColumns,
			u.ID, u.Firstname, u.Lastname, u.Email, u.PasswordHash, string(u.Role), u.UpdatedAt,
		)
	}

	out, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}
	return out, nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u    User
		role string
	)
	if err := row.Scan(&u.ID, &u.Firstname, &u.Lastname, &u.Email, &u.PasswordHash, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_email" || strings.Contains(c, "email"):
		return "email", true
	case c == "users_pkey":
		return "id", true
	default:
		return "unique", true
	}
}
