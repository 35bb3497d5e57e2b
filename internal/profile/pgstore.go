package profile

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PGStore looks up profiles in PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a store backed by the given database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Migrate applies the embedded schema migrations. Running against an
// up-to-date database is a no-op.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("profile: load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("profile: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("profile: init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("profile: apply migrations: %w", err)
	}
	return nil
}

// Lookup returns the profile for an identity id, or ErrNotFound.
func (s *PGStore) Lookup(ctx context.Context, identityID string) (*Profile, error) {
	const query = `
		SELECT username, COALESCE(display_name, ''), COALESCE(avatar_url, '')
		FROM profiles
		WHERE identity_id = $1`

	var p Profile
	err := s.db.QueryRowContext(ctx, query, identityID).
		Scan(&p.Username, &p.DisplayName, &p.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile: lookup %s: %w", identityID, err)
	}
	return &p, nil
}
