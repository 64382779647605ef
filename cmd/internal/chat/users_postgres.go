package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory resolves users from the users table.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresDirectory constructs a directory reading schema.users.
func NewPostgresDirectory(pool *pgxpool.Pool, schema string) (*PostgresDirectory, error) {
	if pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if !isValidPGIdent(schema) {
		return nil, errors.New("chat: invalid schema identifier")
	}
	return &PostgresDirectory{pool: pool, schema: schema}, nil
}

func (d *PostgresDirectory) LookupUser(ctx context.Context, id string) (User, error) {
	var email, name *string
	err := d.pool.QueryRow(ctx,
		`SELECT email, display_name FROM `+pgIdent(d.schema, "users")+` WHERE id = $1`, id,
	).Scan(&email, &name)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, notFound("chat.postgres.LookupUser", "user not found")
	}
	if err != nil {
		return User{}, err
	}
	return User{ID: id, DisplayName: displayNameOr(deref(name), deref(email), id)}, nil
}

// UpsertUser inserts or refreshes a user row (seeding and tests).
func (d *PostgresDirectory) UpsertUser(ctx context.Context, id, email, displayName string) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(d.schema, "users")+` (id, email, display_name)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		 ON CONFLICT (id) DO UPDATE
		    SET email = EXCLUDED.email, display_name = EXCLUDED.display_name`,
		id, email, displayName,
	)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
