// Package postgres stores profile records as JSONB documents in the
// profiles table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/quizhub/accounts/internal/domain"
	"github.com/quizhub/accounts/pkg/database"
)

const (
	existsProfileSQL = `SELECT EXISTS(SELECT 1 FROM profiles WHERE identity_id = $1)`

	// createdAt is immutable: a rewrite keeps the stored value.
	upsertProfileSQL = `
		INSERT INTO profiles (identity_id, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity_id) DO UPDATE
		SET document = EXCLUDED.document || jsonb_build_object('createdAt',
		        COALESCE(profiles.document->'createdAt', EXCLUDED.document->'createdAt')),
		    updated_at = EXCLUDED.updated_at`

	insertProfileSQL = `
		INSERT INTO profiles (identity_id, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity_id) DO NOTHING`

	selectProfileSQL = `
		SELECT document
		FROM profiles
		WHERE identity_id = $1`
)

// ProfileStore implements provisioning.ProfileStore using PostgreSQL.
type ProfileStore struct {
	db database.DBTX
}

// NewProfileStore creates a new PostgreSQL-backed profile store.
func NewProfileStore(db database.DBTX) *ProfileStore {
	return &ProfileStore{db: db}
}

// Exists reports whether a profile is stored for identityID.
func (s *ProfileStore) Exists(ctx context.Context, identityID string) (_ bool, err error) {
	ctx, end := database.TraceQuery(ctx, "ProfileExists", existsProfileSQL)
	defer func() { end(err) }()

	var exists bool
	if err = s.db.QueryRow(ctx, existsProfileSQL, identityID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check profile: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return exists, nil
}

// Put writes the full record for identityID in a single statement.
func (s *ProfileStore) Put(ctx context.Context, identityID string, record domain.ProfileRecord) (err error) {
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	ctx, end := database.TraceQuery(ctx, "PutProfile", upsertProfileSQL)
	defer func() { end(err) }()

	if _, err = s.db.Exec(ctx, upsertProfileSQL, identityID, doc, record.CreatedAt, record.UpdatedAt); err != nil {
		return fmt.Errorf("upsert profile: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Create inserts the record only when no profile is stored for identityID
// and reports whether the row was written.
func (s *ProfileStore) Create(ctx context.Context, identityID string, record domain.ProfileRecord) (_ bool, err error) {
	doc, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("marshal profile: %w", err)
	}

	ctx, end := database.TraceQuery(ctx, "CreateProfile", insertProfileSQL)
	defer func() { end(err) }()

	tag, err := s.db.Exec(ctx, insertProfileSQL, identityID, doc, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("insert profile: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get retrieves the profile stored for identityID.
func (s *ProfileStore) Get(ctx context.Context, identityID string) (_ domain.ProfileRecord, err error) {
	ctx, end := database.TraceQuery(ctx, "GetProfile", selectProfileSQL)
	defer func() { end(err) }()

	var doc []byte
	if err = s.db.QueryRow(ctx, selectProfileSQL, identityID).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ProfileRecord{}, fmt.Errorf("profile %s: %w", identityID, domain.ErrProfileNotFound)
		}
		return domain.ProfileRecord{}, fmt.Errorf("get profile: %w: %w", domain.ErrStoreUnavailable, err)
	}

	var record domain.ProfileRecord
	if err := json.Unmarshal(doc, &record); err != nil {
		return domain.ProfileRecord{}, fmt.Errorf("unmarshal profile: %w", err)
	}
	return record, nil
}
