// Package postgres is an identity provider backed by the identities table.
// Password identities are unique by email; federated identities are keyed by
// the issuer and subject of a verified assertion.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/quizhub/accounts/internal/auth"
	"github.com/quizhub/accounts/internal/domain"
	"github.com/quizhub/accounts/pkg/database"
	"github.com/quizhub/accounts/pkg/validator"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 12

const (
	insertPasswordIdentitySQL = `
		INSERT INTO identities (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`

	upsertFederatedIdentitySQL = `
		INSERT INTO identities (id, email, issuer, subject, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (issuer, subject) WHERE issuer IS NOT NULL
		DO UPDATE SET issuer = EXCLUDED.issuer
		RETURNING id, email`

	selectIdentitySQL = `
		SELECT id, email
		FROM identities
		WHERE id = $1`
)

// AssertionVerifier verifies a federated token.
type AssertionVerifier interface {
	Verify(token string) (auth.Assertion, error)
}

// Option configures an IdentityProvider.
type Option func(*IdentityProvider)

// WithBcryptCost overrides the hashing cost.
func WithBcryptCost(cost int) Option {
	return func(p *IdentityProvider) { p.cost = cost }
}

// WithPasswordPolicy overrides DefaultPasswordPolicy.
func WithPasswordPolicy(policy PasswordPolicy) Option {
	return func(p *IdentityProvider) { p.policy = policy }
}

// IdentityProvider implements provisioning.IdentityProvider using PostgreSQL.
type IdentityProvider struct {
	db       database.DBTX
	verifier AssertionVerifier
	policy   PasswordPolicy
	cost     int
	newID    func() string
	now      func() time.Time
}

// NewIdentityProvider creates a new PostgreSQL-backed identity provider.
func NewIdentityProvider(db database.DBTX, verifier AssertionVerifier, opts ...Option) *IdentityProvider {
	p := &IdentityProvider{
		db:       db,
		verifier: verifier,
		policy:   DefaultPasswordPolicy,
		cost:     bcryptCost,
		newID:    func() string { return uuid.New().String() },
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreateIdentity stores a new password identity.
func (p *IdentityProvider) CreateIdentity(ctx context.Context, email, password string) (_ domain.Identity, err error) {
	email = strings.TrimSpace(email)
	if err := validator.Var(email, "required,email"); err != nil {
		return domain.Identity{}, fmt.Errorf("create identity: %w", domain.ErrMalformedEmail)
	}
	if err := p.policy.Check(password); err != nil {
		return domain.Identity{}, fmt.Errorf("create identity: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("hash password: %w", err)
	}

	ctx, end := database.TraceQuery(ctx, "CreateIdentity", insertPasswordIdentitySQL)
	defer func() { end(err) }()

	identity := domain.Identity{ID: p.newID(), Email: email}
	if _, err = p.db.Exec(ctx, insertPasswordIdentitySQL, identity.ID, identity.Email, string(hash), p.now()); err != nil {
		if isUniqueViolation(err) {
			return domain.Identity{}, fmt.Errorf("create identity %s: %w", email, domain.ErrEmailTaken)
		}
		return domain.Identity{}, fmt.Errorf("insert identity: %w", err)
	}

	return identity, nil
}

// SignInFederated verifies token and returns the identity for its issuer
// and subject, creating it on first sign-in.
func (p *IdentityProvider) SignInFederated(ctx context.Context, token string) (_ domain.Identity, err error) {
	assertion, err := p.verifier.Verify(token)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("verify federated token: %w", err)
	}

	ctx, end := database.TraceQuery(ctx, "SignInFederated", upsertFederatedIdentitySQL)
	defer func() { end(err) }()

	var identity domain.Identity
	err = p.db.QueryRow(ctx, upsertFederatedIdentitySQL,
		p.newID(), assertion.Email, assertion.Issuer, assertion.Subject, p.now(),
	).Scan(&identity.ID, &identity.Email)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("upsert federated identity: %w", err)
	}

	return identity, nil
}

// GetIdentity retrieves an identity by its ID.
func (p *IdentityProvider) GetIdentity(ctx context.Context, id string) (_ domain.Identity, err error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Identity{}, fmt.Errorf("identity %q: %w", id, domain.ErrIdentityNotFound)
	}

	ctx, end := database.TraceQuery(ctx, "GetIdentity", selectIdentitySQL)
	defer func() { end(err) }()

	var identity domain.Identity
	err = p.db.QueryRow(ctx, selectIdentitySQL, id).Scan(&identity.ID, &identity.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Identity{}, fmt.Errorf("identity %s: %w", id, domain.ErrIdentityNotFound)
		}
		return domain.Identity{}, fmt.Errorf("get identity: %w", err)
	}

	return identity, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
