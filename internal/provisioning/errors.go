package provisioning

import (
	"errors"
	"fmt"

	"github.com/quizhub/accounts/internal/domain"
)

// Kind classifies a registration failure.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindIdentityAlreadyExists
	KindWeakCredential
	KindInvalidEmailFormat
	KindProvider
	KindProfilePersistenceFailed
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindIdentityAlreadyExists:
		return "identity_already_exists"
	case KindWeakCredential:
		return "weak_credential"
	case KindInvalidEmailFormat:
		return "invalid_email_format"
	case KindProvider:
		return "provider"
	case KindProfilePersistenceFailed:
		return "profile_persistence_failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the typed outcome of a failed registration. Identity is set only
// for KindProfilePersistenceFailed, where the identity was created but its
// profile was not stored.
type Error struct {
	Kind     Kind
	Identity *domain.Identity
	Err      error
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrValidation               = &Error{Kind: KindValidation}
	ErrIdentityAlreadyExists    = &Error{Kind: KindIdentityAlreadyExists}
	ErrWeakCredential           = &Error{Kind: KindWeakCredential}
	ErrInvalidEmailFormat       = &Error{Kind: KindInvalidEmailFormat}
	ErrProvider                 = &Error{Kind: KindProvider}
	ErrProfilePersistenceFailed = &Error{Kind: KindProfilePersistenceFailed}
)

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindValidation:
		msg = "registration request is invalid"
	case KindIdentityAlreadyExists:
		msg = "an identity with this email already exists"
	case KindWeakCredential:
		msg = "password does not meet the strength policy"
	case KindInvalidEmailFormat:
		msg = "email address is malformed"
	case KindProvider:
		msg = "identity provider failed"
	case KindProfilePersistenceFailed:
		msg = "profile was not stored"
		if e.Identity != nil {
			msg = fmt.Sprintf("profile for identity %s was not stored", e.Identity.ID)
		}
	default:
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Err == nil && t.Identity == nil
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// PartialIdentity returns the identity carried by a ProfilePersistenceFailed
// error. The profile step alone can be retried for it with RetryProfile.
func PartialIdentity(err error) (domain.Identity, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindProfilePersistenceFailed && e.Identity != nil {
		return *e.Identity, true
	}
	return domain.Identity{}, false
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func persistenceFailed(identity domain.Identity, err error) *Error {
	return &Error{Kind: KindProfilePersistenceFailed, Identity: &identity, Err: err}
}

// classifyProviderError applies the provider error policy.
func classifyProviderError(err error) *Error {
	switch {
	case errors.Is(err, domain.ErrEmailTaken):
		return newError(KindIdentityAlreadyExists, err)
	case errors.Is(err, domain.ErrWeakPassword):
		return newError(KindWeakCredential, err)
	case errors.Is(err, domain.ErrMalformedEmail):
		return newError(KindInvalidEmailFormat, err)
	default:
		return newError(KindProvider, err)
	}
}
