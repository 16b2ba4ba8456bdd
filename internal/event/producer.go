package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quizhub/accounts/internal/domain"
	pkgkafka "github.com/quizhub/accounts/pkg/kafka"
	"github.com/quizhub/accounts/pkg/logger"
)

// Kafka topics for account events.
var (
	TopicAccountRegistered = pkgkafka.Topic("account", "registered")
	TopicProfilePending    = pkgkafka.Topic("account", "profile_pending")
)

// Aggregate type constant.
const AggregateTypeAccount = "account"

// Source identifier for events originating from the accounts service.
const SourceAccountsService = "accounts-service"

// AccountRegisteredData is the payload for an account.registered event.
type AccountRegisteredData struct {
	IdentityID string `json:"identity_id"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

// ProfilePendingData is the payload for an account.profile_pending event:
// an identity exists but its profile write failed.
type ProfilePendingData struct {
	IdentityID string               `json:"identity_id"`
	Email      string               `json:"email"`
	Profile    domain.ProfileFields `json:"profile"`
	Reason     string               `json:"reason"`
}

// Publisher publishes an event to a topic. *pkgkafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes account domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the accounts service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishAccountRegistered publishes an account.registered event. The
// payload is the same whether the profile was stored by the registration
// itself or by a later retry.
func (p *Producer) PublishAccountRegistered(ctx context.Context, identity domain.Identity, profile domain.ProfileFields) error {
	data := AccountRegisteredData{
		IdentityID: identity.ID,
		Email:      identity.Email,
		FirstName:  profile.FirstName,
		LastName:   profile.LastName,
	}
	return p.publish(ctx, TopicAccountRegistered, identity.ID, data)
}

// PublishProfilePending publishes an account.profile_pending event so the
// reconciler can retry the profile write.
func (p *Producer) PublishProfilePending(ctx context.Context, identity domain.Identity, profile domain.ProfileFields, cause error) error {
	data := ProfilePendingData{
		IdentityID: identity.ID,
		Email:      identity.Email,
		Profile:    profile,
	}
	if cause != nil {
		data.Reason = cause.Error()
	}
	return p.publish(ctx, TopicProfilePending, identity.ID, data)
}

func (p *Producer) publish(ctx context.Context, topic, identityID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, identityID, AggregateTypeAccount, SourceAccountsService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "event published",
		slog.String("event_type", topic),
		slog.String("event_id", event.EventID),
		slog.String("identity_id", identityID),
	)
	return nil
}
