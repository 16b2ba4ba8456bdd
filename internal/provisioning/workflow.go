// Package provisioning registers accounts: it validates a request, acquires
// an identity, stores the initial profile and notifies the caller.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quizhub/accounts/internal/domain"
)

const (
	tracerName          = "github.com/quizhub/accounts/internal/provisioning"
	defaultStoreTimeout = 5 * time.Second
)

// HookErrorFunc receives the error or recovered panic of a CommitHook.
type HookErrorFunc func(ctx context.Context, identity domain.Identity, err error)

// Option configures a Workflow.
type Option func(*Workflow)

// WithClock sets the clock used for profile timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// WithStoreTimeout bounds each profile store call. The bound applies even
// after the caller's context is canceled.
func WithStoreTimeout(d time.Duration) Option {
	return func(w *Workflow) {
		if d > 0 {
			w.storeTimeout = d
		}
	}
}

// WithHookErrorHandler reports commit hook failures.
func WithHookErrorHandler(fn HookErrorFunc) Option {
	return func(w *Workflow) { w.onHookError = fn }
}

// Workflow runs registrations against an identity provider and a profile
// store. It holds no per-request state and is safe for concurrent use.
type Workflow struct {
	identities   IdentityProvider
	profiles     ProfileStore
	now          func() time.Time
	storeTimeout time.Duration
	onHookError  HookErrorFunc
	tracer       trace.Tracer
}

// NewWorkflow creates a workflow.
func NewWorkflow(identities IdentityProvider, profiles ProfileStore, opts ...Option) *Workflow {
	w := &Workflow{
		identities:   identities,
		profiles:     profiles,
		now:          time.Now,
		storeTimeout: defaultStoreTimeout,
		tracer:       otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Register provisions an account.
//
// validate runs first; on failure nothing else happens. The identity is then
// created (password path) or resolved (federated path). Its profile is
// written next; a federated identity that already has a profile keeps it.
// The profile write is detached from ctx cancellation so it either completes
// or fails as a whole. onCommitted runs only once the profile is stored.
//
// Errors are *Error values. If the profile write fails the error has
// KindProfilePersistenceFailed and carries the created identity; pass it to
// RetryProfile instead of registering again.
func (w *Workflow) Register(ctx context.Context, req domain.RegistrationRequest, validate ValidateFunc, onCommitted CommitHook) (identity domain.Identity, err error) {
	ctx, span := w.tracer.Start(ctx, "provisioning.Register",
		trace.WithAttributes(attribute.Bool("registration.federated", req.Federated())))
	defer func() { endSpan(span, err) }()

	if err := w.validate(ctx, req, validate); err != nil {
		return domain.Identity{}, err
	}

	identity, err = w.acquireIdentity(ctx, req.Credential)
	if err != nil {
		return domain.Identity{}, err
	}
	span.SetAttributes(attribute.String("identity.id", identity.ID))

	created, err := w.persistProfile(ctx, identity, req.Profile, req.Federated())
	if err != nil {
		return identity, err
	}

	w.notify(ctx, onCommitted, Commit{Identity: identity, ProfileCreated: created})
	return identity, nil
}

// RetryProfile re-runs only the profile step for an identity returned in a
// ProfilePersistenceFailed error. The identity must exist at the provider.
// An existing profile is left untouched, so retries are idempotent.
func (w *Workflow) RetryProfile(ctx context.Context, identityID string, fields domain.ProfileFields) (identity domain.Identity, created bool, err error) {
	ctx, span := w.tracer.Start(ctx, "provisioning.RetryProfile",
		trace.WithAttributes(attribute.String("identity.id", identityID)))
	defer func() { endSpan(span, err) }()

	identity, err = w.identities.GetIdentity(ctx, identityID)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return domain.Identity{}, false, newError(KindValidation, err)
		}
		return domain.Identity{}, false, newError(KindProvider, err)
	}

	created, err = w.persistProfile(ctx, identity, fields, true)
	return identity, created, err
}

func (w *Workflow) validate(ctx context.Context, req domain.RegistrationRequest, validate ValidateFunc) error {
	if err := req.Validate(); err != nil {
		return newError(KindValidation, err)
	}
	if validate == nil {
		return nil
	}

	ctx, span := w.tracer.Start(ctx, "provisioning.validate")
	defer span.End()

	if err := validate(ctx, req); err != nil {
		var perr *Error
		if errors.As(err, &perr) && perr.Kind == KindValidation {
			return perr
		}
		return newError(KindValidation, err)
	}
	return nil
}

func (w *Workflow) acquireIdentity(ctx context.Context, cred domain.Credential) (identity domain.Identity, err error) {
	ctx, span := w.tracer.Start(ctx, "provisioning.acquire_identity")
	defer func() { endSpan(span, err) }()

	switch c := cred.(type) {
	case domain.PasswordCredential:
		identity, err = w.identities.CreateIdentity(ctx, c.Email, c.Password)
	case domain.FederatedCredential:
		identity, err = w.identities.SignInFederated(ctx, c.Token)
	default:
		return domain.Identity{}, newError(KindValidation, domain.ErrMissingCredential)
	}
	if err != nil {
		return domain.Identity{}, classifyProviderError(err)
	}
	if identity.ID == "" {
		return domain.Identity{}, newError(KindProvider, fmt.Errorf("provider returned an identity without id"))
	}
	return identity, nil
}

// persistProfile stores the initial profile. With skipExisting an existing
// record is kept and created is false; the record is then written with
// Create so that at most one of several concurrent callers writes it.
func (w *Workflow) persistProfile(ctx context.Context, identity domain.Identity, fields domain.ProfileFields, skipExisting bool) (created bool, err error) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.storeTimeout)
	defer cancel()

	storeCtx, span := w.tracer.Start(storeCtx, "provisioning.persist_profile",
		trace.WithAttributes(attribute.Bool("profile.skip_existing", skipExisting)))
	defer func() { endSpan(span, err) }()

	if skipExisting {
		exists, err := w.profiles.Exists(storeCtx, identity.ID)
		if err != nil {
			return false, persistenceFailed(identity, fmt.Errorf("check existing profile: %w", err))
		}
		if exists {
			span.SetAttributes(attribute.Bool("profile.existed", true))
			return false, nil
		}
	}

	record := domain.NewProfileRecord(identity, fields, w.now())
	if !skipExisting {
		if err := w.profiles.Put(storeCtx, identity.ID, record); err != nil {
			return false, persistenceFailed(identity, err)
		}
		return true, nil
	}

	// a concurrent sign-in may have stored the profile since the check
	created, err = w.profiles.Create(storeCtx, identity.ID, record)
	if err != nil {
		return false, persistenceFailed(identity, err)
	}
	if !created {
		span.SetAttributes(attribute.Bool("profile.existed", true))
	}
	return created, nil
}

func (w *Workflow) notify(ctx context.Context, hook CommitHook, c Commit) {
	if hook == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			w.hookFailed(ctx, c.Identity, fmt.Errorf("commit hook panicked: %v", r))
		}
	}()
	if err := hook(ctx, c); err != nil {
		w.hookFailed(ctx, c.Identity, err)
	}
}

func (w *Workflow) hookFailed(ctx context.Context, identity domain.Identity, err error) {
	trace.SpanFromContext(ctx).AddEvent("commit hook failed",
		trace.WithAttributes(attribute.String("error", err.Error())))
	if w.onHookError != nil {
		w.onHookError(ctx, identity, err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err).String())
	}
	span.End()
}
