package charging

import (
	"context"
	"encoding/json"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/chatloop/chatloop-backend/pkg/logger"
	"github.com/google/uuid"
)

// SettlementEvent is published after a commit or release lands, so
// downstream consumers (invoicing, analytics) can react without polling.
type SettlementEvent struct {
	UserID         uuid.UUID `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Outcome        string    `json:"outcome"`
	AmountMinor    int64     `json:"amount_minor"`
	Currency       string    `json:"currency"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EventPublisher emits settlement events. Publishing is best effort: the
// settlement itself has already committed by the time an event goes out.
type EventPublisher interface {
	PublishSettlement(ctx context.Context, event SettlementEvent)
}

type pubsubEventPublisher struct {
	publisher *gcppubsub.Publisher
	logg      *logger.Logger
}

// NewPubSubEventPublisher wraps a Pub/Sub topic publisher.
func NewPubSubEventPublisher(publisher *gcppubsub.Publisher, logg *logger.Logger) EventPublisher {
	return &pubsubEventPublisher{publisher: publisher, logg: logg}
}

func (p *pubsubEventPublisher) PublishSettlement(ctx context.Context, event SettlementEvent) {
	if p == nil || p.publisher == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		if p.logg != nil {
			p.logg.Error(ctx, "marshal settlement event", err)
		}
		return
	}
	result := p.publisher.Publish(ctx, &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event":   "billing.settled",
			"outcome": event.Outcome,
		},
	})
	go func() {
		if _, err := result.Get(context.WithoutCancel(ctx)); err != nil && p.logg != nil {
			p.logg.Error(ctx, "publish settlement event", err)
		}
	}()
}
