// Package mail delivers outbound email. The API only depends on Sender;
// whether a message goes straight to SMTP or through the broker to the
// mailer worker is a deployment choice.
package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JAGGU8160/blog-app/config"
	"github.com/JAGGU8160/blog-app/internal/mq"
)

// Sender delivers a plain-text email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Message is the queued form of an email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("mail recipient is required")
	}
	if strings.ContainsAny(m.To, "\r\n") || strings.ContainsAny(m.Subject, "\r\n") {
		return fmt.Errorf("mail headers must not contain line breaks")
	}
	return nil
}

// NewSender builds the transport selected by cfg.Mail.Transport. The broker
// is only required for the queue transport.
func NewSender(cfg config.MailConfig, broker *mq.Broker) (Sender, error) {
	switch cfg.Transport {
	case config.MailTransportSMTP:
		return NewSMTPSender(cfg.SMTP), nil
	case config.MailTransportQueue:
		if broker == nil {
			return nil, fmt.Errorf("queue mail transport requires a broker")
		}
		return NewQueueSender(broker, cfg.Queue), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Transport)
	}
}

// OTPMessage composes the password-reset email carrying code.
func OTPMessage(to, code string, ttl time.Duration) Message {
	body := fmt.Sprintf(`Hello,

We received a request to reset the password for your account.

Your one-time code is: %s

The code is valid for %d minutes and can be used once.
If you did not request a password reset, you can ignore this email.
`, code, int(ttl.Minutes()))

	return Message{
		To:      to,
		Subject: "Your password reset code",
		Body:    body,
	}
}

type instrumentedSender struct {
	next      Sender
	transport string
	sent      *prometheus.CounterVec
}

// Instrumented counts every Send on sent, labelled by transport and result.
func Instrumented(next Sender, transport string, sent *prometheus.CounterVec) Sender {
	return &instrumentedSender{next: next, transport: transport, sent: sent}
}

func (s *instrumentedSender) Send(ctx context.Context, to, subject, body string) error {
	err := s.next.Send(ctx, to, subject, body)
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.sent.WithLabelValues(s.transport, result).Inc()
	return err
}
