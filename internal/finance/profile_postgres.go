package finance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresProfileStore implements ProfileStore against PostgreSQL. The
// profile document is stored whole as JSONB; it is read and written as a
// unit and never queried field-by-field.
//
// Expected schema:
//
//	CREATE TABLE profiles (
//	    user_email VARCHAR(255) PRIMARY KEY,
//	    data       JSONB        NOT NULL,
//	    updated_at TIMESTAMPTZ  NOT NULL
//	);
type PostgresProfileStore struct {
	db *sql.DB
}

// NewPostgresProfileStore wraps an existing connection pool, typically
// shared with the session store.
func NewPostgresProfileStore(db *sql.DB) *PostgresProfileStore {
	return &PostgresProfileStore{db: db}
}

// EnsureSchema creates the profiles table when it does not exist yet.
func (s *PostgresProfileStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS profiles (
			user_email VARCHAR(255) PRIMARY KEY,
			data       JSONB        NOT NULL,
			updated_at TIMESTAMPTZ  NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure profiles schema: %w", err)
	}
	return nil
}

func (s *PostgresProfileStore) Get(ctx context.Context, userEmail string) (*Profile, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM profiles WHERE user_email = $1
	`, userEmail).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &profile, nil
}

func (s *PostgresProfileStore) Upsert(ctx context.Context, userEmail string, profile Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_email, data, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_email) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`, userEmail, data, time.Now()); err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

func (s *PostgresProfileStore) Delete(ctx context.Context, userEmail string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM profiles WHERE user_email = $1
	`, userEmail)
	if err != nil {
		return false, fmt.Errorf("failed to delete profile: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
