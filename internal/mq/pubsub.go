package mq

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JAGGU8160/blog-app/config"
)

// Redelivery backoff applied by Pub/Sub to nacked messages.
const (
	pubsubMinBackoff = time.Second
	pubsubMaxBackoff = time.Minute
)

// PubSubClient maps channels to Pub/Sub topics, each with one subscription
// named after the topic plus a suffix. The subscription is created before
// the first publish so no message is published to a topic nobody reads.
type PubSubClient struct {
	client             *pubsub.Client
	subscriptionSuffix string

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*PubSubClient, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}
	return newPubSubClient(client, cfg.SubscriptionSuffix), nil
}

func newPubSubClient(client *pubsub.Client, subscriptionSuffix string) *PubSubClient {
	return &PubSubClient{
		client:             client,
		subscriptionSuffix: subscriptionSuffix,
		topics:             make(map[string]*pubsub.Topic),
	}
}

// Publish sends a message to the channel's topic and waits for the server ack.
func (p *PubSubClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	topic, err := p.topic(ctx, channel)
	if err != nil {
		return "", err
	}
	return topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
}

// Subscribe receives from the channel's subscription. A handler error nacks
// the message for redelivery.
func (p *PubSubClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if _, err := p.topic(ctx, channel); err != nil {
		return err
	}
	sub := p.client.Subscription(p.subscriptionName(channel))
	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		message := Message{
			ID:         msg.ID,
			Data:       msg.Data,
			Attributes: msg.Attributes,
		}
		if msg.DeliveryAttempt != nil {
			message.DeliveryAttempt = *msg.DeliveryAttempt
		}
		if err := handler(ctx, message); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Close flushes the cached topics and closes the client.
func (p *PubSubClient) Close() error {
	p.mu.Lock()
	for name, topic := range p.topics {
		topic.Stop()
		delete(p.topics, name)
	}
	p.mu.Unlock()
	return p.client.Close()
}

// topic returns the cached topic for channel, creating the topic and its
// subscription on first use.
func (p *PubSubClient) topic(ctx context.Context, channel string) (*pubsub.Topic, error) {
	if strings.TrimSpace(channel) == "" {
		return nil, errors.New("pubsub channel is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if topic, ok := p.topics[channel]; ok {
		return topic, nil
	}

	topic := p.client.Topic(channel)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		created, err := p.client.CreateTopic(ctx, channel)
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return nil, err
		}
		if err == nil {
			topic = created
		}
	}

	sub := p.client.Subscription(p.subscriptionName(channel))
	exists, err = sub.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		_, err = p.client.CreateSubscription(ctx, sub.ID(), pubsub.SubscriptionConfig{
			Topic: topic,
			RetryPolicy: &pubsub.RetryPolicy{
				MinimumBackoff: pubsubMinBackoff,
				MaximumBackoff: pubsubMaxBackoff,
			},
		})
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return nil, err
		}
	}

	p.topics[channel] = topic
	return topic, nil
}

func (p *PubSubClient) subscriptionName(channel string) string {
	if p.subscriptionSuffix == "" {
		return channel + "-sub"
	}
	return channel + p.subscriptionSuffix
}
