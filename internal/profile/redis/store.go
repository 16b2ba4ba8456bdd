// Package redis stores profile records as JSON documents, one key per
// identity. A record is written with a single SET, so readers see either
// the previous value or the complete new one.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/quizhub/accounts/internal/domain"
	"github.com/quizhub/accounts/pkg/database"
)

const keyPrefix = "profile:"

// ProfileStore implements provisioning.ProfileStore using Redis.
type ProfileStore struct {
	client redis.UniversalClient
}

// NewProfileStore creates a new Redis-backed profile store.
func NewProfileStore(client redis.UniversalClient) *ProfileStore {
	return &ProfileStore{client: client}
}

// Exists reports whether a profile is stored for identityID.
func (s *ProfileStore) Exists(ctx context.Context, identityID string) (_ bool, err error) {
	ctx, end := database.TraceRedis(ctx, "ProfileExists", "EXISTS")
	defer func() { end(err) }()

	n, err := s.client.Exists(ctx, keyPrefix+identityID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists profile: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// Put writes the full record for identityID.
func (s *ProfileStore) Put(ctx context.Context, identityID string, record domain.ProfileRecord) (err error) {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	ctx, end := database.TraceRedis(ctx, "PutProfile", "SET")
	defer func() { end(err) }()

	if err = s.client.Set(ctx, keyPrefix+identityID, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set profile: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Create writes the record only when no profile is stored for identityID
// and reports whether it wrote.
func (s *ProfileStore) Create(ctx context.Context, identityID string, record domain.ProfileRecord) (_ bool, err error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("marshal profile: %w", err)
	}

	ctx, end := database.TraceRedis(ctx, "CreateProfile", "SETNX")
	defer func() { end(err) }()

	ok, err := s.client.SetNX(ctx, keyPrefix+identityID, data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx profile: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return ok, nil
}

// Get retrieves the profile stored for identityID.
func (s *ProfileStore) Get(ctx context.Context, identityID string) (_ domain.ProfileRecord, err error) {
	ctx, end := database.TraceRedis(ctx, "GetProfile", "GET")
	defer func() { end(err) }()

	data, err := s.client.Get(ctx, keyPrefix+identityID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ProfileRecord{}, fmt.Errorf("profile %s: %w", identityID, domain.ErrProfileNotFound)
		}
		return domain.ProfileRecord{}, fmt.Errorf("redis get profile: %w: %w", domain.ErrStoreUnavailable, err)
	}

	var record domain.ProfileRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return domain.ProfileRecord{}, fmt.Errorf("unmarshal profile: %w", err)
	}
	return record, nil
}
