package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JAGGU8160/blog-app/config"
)

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
	// DeliveryAttempt counts deliveries of this message, starting at 1.
	// Zero means the backend could not tell.
	DeliveryAttempt int
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// Broker wraps a backend with a stable API.
type Broker struct {
	backend Backend
}

// New constructs a Broker for the provided backend.
func New(backend Backend) *Broker {
	return &Broker{backend: backend}
}

// NewFromConfig connects to the backend selected by cfg.Backend.
func NewFromConfig(ctx context.Context, cfg config.MQConfig) (*Broker, error) {
	switch cfg.Backend {
	case config.MQBackendRabbitMQ:
		backend, err := NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		return New(backend), nil
	case config.MQBackendPubSub:
		backend, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, fmt.Errorf("connect pubsub: %w", err)
		}
		return New(backend), nil
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
}

// PublishJSON encodes value as JSON and publishes it to the named channel.
func (b *Broker) PublishJSON(ctx context.Context, channel string, value any, attrs map[string]string) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return b.backend.Publish(ctx, channel, data, attrs)
}

// Subscribe consumes messages from the named channel until ctx is done.
func (b *Broker) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return b.backend.Subscribe(ctx, channel, handler)
}

// Close closes the underlying backend.
func (b *Broker) Close() error {
	return b.backend.Close()
}
