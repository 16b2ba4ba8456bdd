package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quizhub/accounts/internal/domain"
	"github.com/quizhub/accounts/internal/provisioning"
	apperrors "github.com/quizhub/accounts/pkg/errors"
	"github.com/quizhub/accounts/pkg/validator"
)

// EventPublisher publishes account events. *event.Producer implements it.
type EventPublisher interface {
	PublishAccountRegistered(ctx context.Context, identity domain.Identity, profile domain.ProfileFields) error
	PublishProfilePending(ctx context.Context, identity domain.Identity, profile domain.ProfileFields, cause error) error
}

// TokenIssuer issues session access tokens.
type TokenIssuer interface {
	GenerateAccessToken(identity domain.Identity) (string, error)
}

// ProfileReader reads stored profiles.
type ProfileReader interface {
	Get(ctx context.Context, identityID string) (domain.ProfileRecord, error)
}

// AccountService runs registrations and the follow-up operations on the
// profiles they create.
type AccountService struct {
	workflow *provisioning.Workflow
	profiles ProfileReader
	events   EventPublisher
	tokens   TokenIssuer
	logger   *slog.Logger
}

// NewAccountService creates a new account service.
func NewAccountService(
	workflow *provisioning.Workflow,
	profiles ProfileReader,
	events EventPublisher,
	tokens TokenIssuer,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		workflow: workflow,
		profiles: profiles,
		events:   events,
		tokens:   tokens,
		logger:   logger,
	}
}

// --- Input/Output types ---

// RegisterInput holds the parameters for a registration. IDToken selects
// the federated path; Email and Password the password path.
type RegisterInput struct {
	Email    string
	Password string
	IDToken  string
	Profile  domain.ProfileFields
}

// RegisterResult is the outcome of a registration. It is also returned
// alongside a ProfilePersistenceFailed error, so the client holds a token
// for retrying the profile step.
type RegisterResult struct {
	Identity       domain.Identity `json:"identity"`
	AccessToken    string          `json:"access_token,omitempty"`
	ProfileCreated bool            `json:"profile_created"`
}

// RetryResult is the outcome of a profile retry.
type RetryResult struct {
	Identity domain.Identity `json:"identity"`
	Created  bool            `json:"created"`
}

// ValidateRegistration is the default request validation: profile field
// constraints and an email length bound. Email syntax is left to the
// identity provider, which reports it as InvalidEmailFormat.
func ValidateRegistration(_ context.Context, req domain.RegistrationRequest) error {
	if email := req.Email(); email != "" {
		if err := validator.Var(email, "max=254"); err != nil {
			return err
		}
	}
	return validator.Validate(req.Profile)
}

// HookErrorLogger reports commit hook failures. Pass it to the workflow
// with provisioning.WithHookErrorHandler.
func HookErrorLogger(logger *slog.Logger) provisioning.HookErrorFunc {
	return func(ctx context.Context, identity domain.Identity, err error) {
		commitHookFailures.Inc()
		logger.ErrorContext(ctx, "post-registration notification failed",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
	}
}

// --- Operations ---

// Register provisions an account and issues an access token for it.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (result *RegisterResult, err error) {
	path := pathPassword
	if input.IDToken != "" {
		path = pathFederated
	}
	start := time.Now()
	defer func() {
		registrationDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		registrationsTotal.WithLabelValues(path, outcome(err)).Inc()
	}()

	req, err := domain.NewRegistrationRequest(input.Email, input.Password, input.IDToken, input.Profile)
	if err != nil {
		return nil, &provisioning.Error{Kind: provisioning.KindValidation, Err: err}
	}

	var created bool
	identity, err := s.workflow.Register(ctx, req, ValidateRegistration, func(ctx context.Context, c provisioning.Commit) error {
		created = c.ProfileCreated
		if !c.ProfileCreated {
			return nil
		}
		return s.events.PublishAccountRegistered(ctx, c.Identity, input.Profile)
	})
	if err != nil {
		if partial, ok := provisioning.PartialIdentity(err); ok {
			return s.profilePending(ctx, partial, input.Profile, err), err
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "account registered",
		slog.String("identity_id", identity.ID),
		slog.String("path", path),
		slog.Bool("profile_created", created),
	)

	// the account is committed; a token failure is logged, not returned
	result = &RegisterResult{Identity: identity, ProfileCreated: created}
	token, err := s.tokens.GenerateAccessToken(identity)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue token for registered account",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
		return result, nil
	}
	result.AccessToken = token
	return result, nil
}

// profilePending schedules reconciliation for an identity whose profile was
// not stored and returns what the client needs to retry it directly.
func (s *AccountService) profilePending(ctx context.Context, identity domain.Identity, profile domain.ProfileFields, cause error) *RegisterResult {
	s.logger.ErrorContext(ctx, "identity created but profile not stored",
		slog.String("identity_id", identity.ID),
		slog.String("error", cause.Error()),
	)

	// the client may be gone; reconciliation must still be scheduled
	detached := context.WithoutCancel(ctx)
	if err := s.events.PublishProfilePending(detached, identity, profile, errors.Unwrap(cause)); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish profile_pending event",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
	}

	result := &RegisterResult{Identity: identity}
	token, err := s.tokens.GenerateAccessToken(identity)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue token for pending profile",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
		return result
	}
	result.AccessToken = token
	return result
}

// RetryProfile re-runs the profile step for an existing identity. It is
// idempotent: an existing profile is kept and Created is false.
func (s *AccountService) RetryProfile(ctx context.Context, identityID string, profile domain.ProfileFields) (result *RetryResult, err error) {
	defer func() { profileRetriesTotal.WithLabelValues(outcome(err)).Inc() }()

	if err := validator.Validate(profile); err != nil {
		return nil, &provisioning.Error{Kind: provisioning.KindValidation, Err: err}
	}

	identity, created, err := s.workflow.RetryProfile(ctx, identityID, profile)
	if err != nil {
		return nil, err
	}

	if created {
		if err := s.events.PublishAccountRegistered(context.WithoutCancel(ctx), identity, profile); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish account.registered event",
				slog.String("identity_id", identity.ID),
				slog.String("error", err.Error()),
			)
		}
		s.logger.InfoContext(ctx, "pending profile stored", slog.String("identity_id", identity.ID))
	}

	return &RetryResult{Identity: identity, Created: created}, nil
}

// GetProfile returns the stored profile of an identity.
func (s *AccountService) GetProfile(ctx context.Context, identityID string) (domain.ProfileRecord, error) {
	record, err := s.profiles.Get(ctx, identityID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			return domain.ProfileRecord{}, apperrors.NotFound("profile", identityID)
		}
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return domain.ProfileRecord{}, apperrors.ServiceUnavailable("PROFILE_STORE_UNAVAILABLE", "profile store unavailable", err)
		}
		return domain.ProfileRecord{}, fmt.Errorf("get profile: %w", err)
	}
	return record, nil
}
