// Package worker reconciles identities whose profile write failed during
// registration, by consuming account.profile_pending events and retrying
// the profile step.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quizhub/accounts/internal/domain"
	"github.com/quizhub/accounts/internal/event"
	"github.com/quizhub/accounts/internal/provisioning"
	"github.com/quizhub/accounts/internal/service"
	pkgkafka "github.com/quizhub/accounts/pkg/kafka"
	"github.com/quizhub/accounts/pkg/logger"
)

// ConsumerGroupID is the consumer group of the reconciler.
const ConsumerGroupID = "accounts-profile-reconciler"

// ProfileRetrier re-runs the profile step. *service.AccountService implements it.
type ProfileRetrier interface {
	RetryProfile(ctx context.Context, identityID string, profile domain.ProfileFields) (*service.RetryResult, error)
}

// Reconciler handles account.profile_pending events.
type Reconciler struct {
	retrier ProfileRetrier
	logger  *slog.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(retrier ProfileRetrier, logger *slog.Logger) *Reconciler {
	return &Reconciler{retrier: retrier, logger: logger}
}

// Handle stores the pending profile carried by ev. Events that can never
// succeed are marked permanent so they go to the DLQ without retries.
func (r *Reconciler) Handle(ctx context.Context, ev *pkgkafka.Event) error {
	if ev.EventType != event.TopicProfilePending {
		r.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", ev.EventType),
			slog.String("event_id", ev.EventID),
		)
		return nil
	}
	if ev.CorrelationID != "" {
		ctx = logger.WithCorrelationID(ctx, ev.CorrelationID)
	}

	var data event.ProfilePendingData
	if err := ev.UnmarshalData(&data); err != nil {
		return pkgkafka.Permanent(fmt.Errorf("decode profile_pending payload: %w", err))
	}
	if data.IdentityID == "" {
		return pkgkafka.Permanent(errors.New("profile_pending event has no identity_id"))
	}

	res, err := r.retrier.RetryProfile(ctx, data.IdentityID, data.Profile)
	if err != nil {
		if errors.Is(err, provisioning.ErrValidation) {
			return pkgkafka.Permanent(err)
		}
		return err
	}

	r.logger.InfoContext(ctx, "pending profile reconciled",
		slog.String("identity_id", data.IdentityID),
		slog.Bool("created", res.Created),
		slog.Duration("pending_for", time.Since(ev.Timestamp)),
	)
	return nil
}

// Config holds the reconciler consumer settings.
type Config struct {
	Brokers    []string
	MaxRetries int
	RetryBase  time.Duration
}

// NewConsumer creates the Kafka consumer that feeds the reconciler.
// Redelivered events are skipped through store, and events that exhaust
// their retries go to dlq.
func NewConsumer(cfg Config, r *Reconciler, store pkgkafka.IdempotencyStore, dlq pkgkafka.DeadLetterPublisher, logger *slog.Logger) *pkgkafka.Consumer {
	handler := pkgkafka.IdempotentHandler(store, r.Handle, logger)

	return pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:    cfg.Brokers,
		GroupID:    ConsumerGroupID,
		Topic:      event.TopicProfilePending,
		MinBytes:   1,
		MaxBytes:   10e6,
		MaxRetries: cfg.MaxRetries,
		RetryBase:  cfg.RetryBase,
	}, handler, dlq, logger)
}
