package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/models"
)

const identitySchema = `
CREATE TABLE IF NOT EXISTS identities (
	id          TEXT PRIMARY KEY,
	profile_id  INTEGER UNIQUE,
	first_name  TEXT NOT NULL DEFAULT '',
	last_name   TEXT NOT NULL DEFAULT '',
	email       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps identity records and the profile id each one is
// enrolled under.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, identitySchema); err != nil {
		return fmt.Errorf("create identities table: %w", err)
	}
	return nil
}

// UpsertIdentity creates or updates the descriptive fields of a record,
// leaving its profile id alone.
func (s *PostgresStore) UpsertIdentity(ctx context.Context, ident *models.Identity) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO identities (id, first_name, last_name, email) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
		 email = EXCLUDED.email, updated_at = now()
		 RETURNING profile_id, created_at, updated_at`,
		ident.ID, ident.FirstName, ident.LastName, ident.Email,
	).Scan(&ident.ProfileID, &ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert identity: %w", err)
	}
	return nil
}

// GetProfileID returns nil for unknown identities and for identities that
// are not enrolled.
func (s *PostgresStore) GetProfileID(ctx context.Context, identity string) (*int, error) {
	var id *int
	err := s.pool.QueryRow(ctx, `SELECT profile_id FROM identities WHERE id = $1`, identity).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile id: %w", err)
	}
	return id, nil
}

// SetProfileID records the profile id of identity, creating a bare record
// if none exists. A nil id clears the enrollment.
func (s *PostgresStore) SetProfileID(ctx context.Context, identity string, profileID *int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identities (id, profile_id) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET profile_id = EXCLUDED.profile_id, updated_at = now()`,
		identity, profileID,
	)
	if err != nil {
		return fmt.Errorf("set profile id: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByProfileID(ctx context.Context, profileID int) (*models.Identity, error) {
	ident := &models.Identity{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, first_name, last_name, email, profile_id, created_at, updated_at
		 FROM identities WHERE profile_id = $1`, profileID,
	).Scan(&ident.ID, &ident.FirstName, &ident.LastName, &ident.Email, &ident.ProfileID, &ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find identity by profile: %w", err)
	}
	return ident, nil
}
