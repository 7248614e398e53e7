package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-engine/internal/model"
	"github.com/jwalitptl/booking-engine/internal/repository"
	"github.com/jwalitptl/booking-engine/pkg/messaging"
)

const headerRecipient = "recipient_id"

// OutboxNotifier stores notifications in the outbox for the relay worker to publish.
type OutboxNotifier struct {
	repo repository.OutboxRepository
}

func NewOutboxNotifier(repo repository.OutboxRepository) *OutboxNotifier {
	return &OutboxNotifier{repo: repo}
}

func (n *OutboxNotifier) Notify(ctx context.Context, userID uuid.UUID, eventType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}
	event := &model.OutboxEvent{
		AggregateID: userID,
		EventType:   eventType,
		Payload:     raw,
		Headers:     model.Headers{headerRecipient: userID.String()},
	}
	if err := n.repo.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	return nil
}

// BrokerNotifier publishes notifications straight to the broker.
type BrokerNotifier struct {
	broker messaging.Broker
	topic  string
}

func NewBrokerNotifier(broker messaging.Broker, topic string) *BrokerNotifier {
	return &BrokerNotifier{broker: broker, topic: topic}
}

func (n *BrokerNotifier) Notify(ctx context.Context, userID uuid.UUID, eventType string, payload interface{}) error {
	msg, err := messaging.NewMessage(userID.String(), eventType, payload)
	if err != nil {
		return err
	}
	msg.Headers = map[string]string{headerRecipient: userID.String()}
	return n.broker.Publish(ctx, n.topic, msg)
}
