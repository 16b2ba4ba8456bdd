package provisioning

import (
	"context"

	"github.com/quizhub/accounts/internal/domain"
)

// IdentityProvider creates and resolves identities. Implementations report
// domain.ErrEmailTaken, domain.ErrWeakPassword and domain.ErrMalformedEmail
// from CreateIdentity, and domain.ErrIdentityNotFound from GetIdentity.
// Email uniqueness must be enforced by the provider itself.
type IdentityProvider interface {
	CreateIdentity(ctx context.Context, email, password string) (domain.Identity, error)
	SignInFederated(ctx context.Context, token string) (domain.Identity, error)
	GetIdentity(ctx context.Context, id string) (domain.Identity, error)
}

// ProfileStore persists profile records keyed by identity ID. Put and Create
// must write the whole record atomically. Create writes only when no record
// exists and reports whether it wrote; it must be a single atomic
// operation, not an existence check followed by a write.
type ProfileStore interface {
	Exists(ctx context.Context, identityID string) (bool, error)
	Put(ctx context.Context, identityID string, record domain.ProfileRecord) error
	Create(ctx context.Context, identityID string, record domain.ProfileRecord) (bool, error)
}

// ValidateFunc checks a request before any side effect. A non-nil error
// aborts the registration with KindValidation.
type ValidateFunc func(ctx context.Context, req domain.RegistrationRequest) error

// Commit describes a completed registration.
type Commit struct {
	Identity domain.Identity
	// ProfileCreated is false when a federated sign-in found an existing profile.
	ProfileCreated bool
}

// CommitHook is notified after the profile is stored. Its error or panic
// never changes the outcome of Register.
type CommitHook func(ctx context.Context, c Commit) error
