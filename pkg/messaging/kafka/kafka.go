// Package kafka is a messaging.Broker over Kafka topics.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jwalitptl/booking-engine/pkg/circuitbreaker"
	"github.com/jwalitptl/booking-engine/pkg/logger"
	"github.com/jwalitptl/booking-engine/pkg/messaging"
)

const (
	headerEventType = "event_type"
)

type Config struct {
	Brokers []string
	// GroupID is the consumer group used by Subscribe.
	GroupID      string
	BatchTimeout time.Duration
}

type Broker struct {
	cfg    Config
	writer *kafka.Writer
	cb     *circuitbreaker.CircuitBreaker
	logger *logger.Logger
}

func NewBroker(cfg Config, log *logger.Logger) (*Broker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "booking-engine"
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if log == nil {
		log = logger.Nop()
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}

	return &Broker{
		cfg:    cfg,
		writer: writer,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "kafka-broker",
			MaxFailures: 5,
			Timeout:     10 * time.Second,
		}),
		logger: log,
	}, nil
}

// toKafka maps a message onto a Kafka record, carrying the trace context in headers.
func toKafka(ctx context.Context, topic string, msg messaging.Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+1)
	headers = append(headers, kafka.Header{Key: headerEventType, Value: []byte(msg.Type)})
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	carrier := &headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.Key),
		Value:   msg.Payload,
		Headers: carrier.headers,
	}
}

func fromKafka(km kafka.Message) messaging.Message {
	msg := messaging.Message{
		Key:     string(km.Key),
		Payload: km.Value,
		Headers: make(map[string]string, len(km.Headers)),
	}
	for _, h := range km.Headers {
		if h.Key == headerEventType {
			msg.Type = string(h.Value)
			continue
		}
		msg.Headers[h.Key] = string(h.Value)
	}
	if msg.Type == "" {
		msg.Type = km.Topic
	}
	return msg
}

func (b *Broker) Publish(ctx context.Context, topic string, msg messaging.Message) error {
	return b.cb.Execute(func() error {
		if err := b.writer.WriteMessages(ctx, toKafka(ctx, topic, msg)); err != nil {
			return fmt.Errorf("failed to write to kafka topic %s: %w", topic, err)
		}
		return nil
	})
}

func (b *Broker) Subscribe(ctx context.Context, topic string) (<-chan messaging.Message, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: b.cfg.Brokers,
		GroupID: b.cfg.GroupID,
		Topic:   topic,
	})

	out := make(chan messaging.Message, 100)
	go func() {
		defer func() {
			reader.Close()
			close(out)
		}()
		for {
			km, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Error(err, "kafka read failed", "topic", topic)
				}
				return
			}
			select {
			case out <- fromKafka(km):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *Broker) Close() error {
	return b.writer.Close()
}

type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)
