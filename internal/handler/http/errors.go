package http

import (
	"errors"

	"github.com/quizhub/accounts/internal/domain"
	"github.com/quizhub/accounts/internal/provisioning"
	apperrors "github.com/quizhub/accounts/pkg/errors"
	"github.com/quizhub/accounts/pkg/validator"
)

// toAppError maps a registration failure to the response the client gets.
// Errors that are not workflow errors pass through unchanged.
func toAppError(err error) error {
	switch provisioning.KindOf(err) {
	case provisioning.KindValidation:
		var valErr *validator.ValidationError
		if errors.As(err, &valErr) {
			return valErr
		}
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return apperrors.NotFound("account", "")
		}
		return apperrors.InvalidInput(causeMessage(err))
	case provisioning.KindIdentityAlreadyExists:
		return apperrors.AlreadyExists("IDENTITY_ALREADY_EXISTS", "an account with this email already exists, sign in instead")
	case provisioning.KindWeakCredential:
		return apperrors.Unprocessable("WEAK_CREDENTIAL", "password does not meet the strength policy")
	case provisioning.KindInvalidEmailFormat:
		return apperrors.Unprocessable("INVALID_EMAIL_FORMAT", "email address is malformed")
	case provisioning.KindProvider:
		if errors.Is(err, domain.ErrInvalidToken) {
			return apperrors.Unauthorized("federated token was rejected")
		}
		return apperrors.BadGateway("identity provider is unavailable, retry later", err)
	case provisioning.KindProfilePersistenceFailed:
		return apperrors.ServiceUnavailable("PROFILE_PERSISTENCE_FAILED",
			"account was created but its profile was not stored, retry the profile step", err)
	default:
		return err
	}
}

func causeMessage(err error) string {
	var perr *provisioning.Error
	if errors.As(err, &perr) && perr.Err != nil {
		return perr.Err.Error()
	}
	return err.Error()
}
