package messaging

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message is one event on the wire. Key orders messages of the same aggregate.
type Message struct {
	Key     string            `json:"key,omitempty"`
	Type    string            `json:"type"`
	Payload json.RawMessage   `json:"payload"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, topic string, msg Message) error
	// Subscribe delivers messages until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, topic string) (<-chan Message, error)
	Close() error
}

// NewMessage builds a message with payload marshalled as JSON.
func NewMessage(key, eventType string, payload interface{}) (Message, error) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("failed to marshal message payload: %w", err)
		}
		raw = b
	}
	return Message{Key: key, Type: eventType, Payload: raw}, nil
}
