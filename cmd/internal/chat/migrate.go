package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/Marco-Polo-coding/TFG-Jose-Abreu/cmd/internal/chat/migrations"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// MigratePostgres applies the embedded schema to databaseURL inside schema.
// It opens (and closes) its own connection so the caller's pool is untouched.
func MigratePostgres(ctx context.Context, databaseURL, schema string) (MigrateResult, error) {
	if !isValidPGIdent(schema) {
		return MigrateResult{}, errors.New("chat: invalid schema identifier")
	}

	connCfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return MigrateResult{}, fmt.Errorf("migration config: %w", err)
	}
	connCfg.RuntimeParams["search_path"] = schema

	db := stdlib.OpenDB(*connCfg)

	if _, err := db.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		_ = db.Close()
		return MigrateResult{}, fmt.Errorf("migration schema: %w", err)
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		_ = db.Close()
		return MigrateResult{}, fmt.Errorf("migration source: %w", err)
	}

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{
		SchemaName:            schema,
		MultiStatementEnabled: true,
	})
	if err != nil {
		_ = db.Close()
		return MigrateResult{}, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		_ = db.Close()
		return MigrateResult{}, fmt.Errorf("migration instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	err = m.Up()
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil {
		return MigrateResult{}, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, _ := m.Version()
	return MigrateResult{
		Version: version,
		Dirty:   dirty,
		Changed: changed,
	}, nil
}
