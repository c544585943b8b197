package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/JAGGU8160/blog-app/internal/mq"
)

// QueueSender hands mail to the broker for the mailer worker.
type QueueSender struct {
	broker *mq.Broker
	queue  string
}

func NewQueueSender(broker *mq.Broker, queue string) *QueueSender {
	return &QueueSender{broker: broker, queue: queue}
}

func (q *QueueSender) Send(ctx context.Context, to, subject, body string) error {
	msg := Message{To: to, Subject: subject, Body: body}
	if err := msg.validate(); err != nil {
		return err
	}
	if _, err := q.broker.PublishJSON(ctx, q.queue, msg, map[string]string{"type": "mail"}); err != nil {
		return fmt.Errorf("enqueue mail: %w", err)
	}
	return nil
}

// Delivery failures back off exponentially between these bounds before the
// message goes back to the broker. A message seen more than
// maxDeliveryAttempts times is dropped.
const (
	retryInitialInterval = time.Second
	retryMaxInterval     = time.Minute
	maxDeliveryAttempts  = 10
)

// Worker drains the mail queue into a Sender.
type Worker struct {
	broker    *mq.Broker
	queue     string
	transport Sender
	log       logrus.FieldLogger

	mu      sync.Mutex
	backoff *backoff.ExponentialBackOff
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewWorker(broker *mq.Broker, queue string, transport Sender, log logrus.FieldLogger) *Worker {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return &Worker{
		broker:    broker,
		queue:     queue,
		transport: transport,
		log:       log,
		backoff:   b,
		sleep:     sleepContext,
	}
}

// Run consumes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.WithField("queue", w.queue).Info("mail worker started")
	return w.broker.Subscribe(ctx, w.queue, w.Handle)
}

// Handle delivers one queued message. Undecodable messages are dropped
// because redelivery cannot fix them. A delivery failure waits out the
// current backoff and is then returned so the broker redelivers; the
// backoff grows with consecutive failures and resets on success.
func (w *Worker) Handle(ctx context.Context, m mq.Message) error {
	log := w.log.WithField("message_id", m.ID)

	var msg Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		log.WithError(err).Error("dropping undecodable mail message")
		return nil
	}
	if err := msg.validate(); err != nil {
		log.WithError(err).Error("dropping invalid mail message")
		return nil
	}
	if m.DeliveryAttempt > maxDeliveryAttempts {
		log.WithField("attempt", m.DeliveryAttempt).Error("dropping mail message after too many delivery attempts")
		return nil
	}

	if err := w.transport.Send(ctx, msg.To, msg.Subject, msg.Body); err != nil {
		delay := w.nextBackoff()
		log.WithError(err).WithFields(logrus.Fields{
			"attempt":  m.DeliveryAttempt,
			"retry_in": delay,
		}).Warn("mail delivery failed")
		_ = w.sleep(ctx, delay)
		return err
	}

	w.mu.Lock()
	w.backoff.Reset()
	w.mu.Unlock()
	log.Info("mail delivered")
	return nil
}

func (w *Worker) nextBackoff() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.backoff.NextBackOff()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
