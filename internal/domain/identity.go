package domain

import "errors"

// Identity is an authenticated principal issued by an identity provider.
// Its ID is opaque and never changes.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Errors reported by identity providers and profile stores. Adapters wrap
// them with %w so callers can match with errors.Is.
var (
	ErrEmailTaken       = errors.New("email already registered")
	ErrWeakPassword     = errors.New("password below strength threshold")
	ErrMalformedEmail   = errors.New("malformed email address")
	ErrInvalidToken     = errors.New("federated token rejected")
	ErrIdentityNotFound = errors.New("identity not found")
	ErrProfileNotFound  = errors.New("profile not found")
	ErrStoreUnavailable = errors.New("profile store unavailable")
)
