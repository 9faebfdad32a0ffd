// Package events publishes gateway outcomes to NATS so other services can
// react to payments (accounting, usage reports) without polling the replay
// store.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	x402 "github.com/x402-foundation/x402-summarizer"
)

// Default subjects
const (
	SubjectConsumed          = "x402.proofs.consumed"
	SubjectDownstreamFailure = "x402.operations.failed"
)

// Event types
const (
	TypeProofConsumed     = "proof.consumed"
	TypeDownstreamFailure = "operation.failed"
)

// Config configures the NATS connection
type Config struct {
	URL            string        `mapstructure:"url"`
	Name           string        `mapstructure:"name"`
	Subject        string        `mapstructure:"subject"`
	FailureSubject string        `mapstructure:"failure_subject"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Event is the message body published for every gateway outcome
type Event struct {
	Type       string                   `json:"type"`
	Record     x402.ConsumedProofRecord `json:"record"`
	Recipient  string                   `json:"recipient,omitempty"`
	Asset      string                   `json:"asset,omitempty"`
	Price      string                   `json:"price,omitempty"`
	Error      string                   `json:"error,omitempty"`
	OccurredAt time.Time                `json:"occurredAt"`
}

// Publisher sends gateway events to NATS
type Publisher struct {
	conn           *nats.Conn
	subject        string
	failureSubject string
	logger         *slog.Logger
	owned          bool
}

// Connect dials NATS and returns a publisher that owns the connection
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "x402-summarizer"
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	p := NewPublisher(conn, cfg.Subject, cfg.FailureSubject, logger)
	p.owned = true
	return p, nil
}

// NewPublisher wraps an existing connection. Empty subjects take the defaults.
func NewPublisher(conn *nats.Conn, subject, failureSubject string, logger *slog.Logger) *Publisher {
	if subject == "" {
		subject = SubjectConsumed
	}
	if failureSubject == "" {
		failureSubject = SubjectDownstreamFailure
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, subject: subject, failureSubject: failureSubject, logger: logger}
}

// Attach registers the publisher's hooks on gw
func (p *Publisher) Attach(gw *x402.Gateway) *x402.Gateway {
	return gw.
		OnConsumed(func(c x402.ConsumedContext) error {
			return p.publish(p.subject, Event{
				Type:       TypeProofConsumed,
				Record:     c.Record,
				Recipient:  c.Policy.Recipient,
				Asset:      c.Policy.Asset,
				Price:      amountString(c.Policy),
				OccurredAt: c.Record.ConsumedAt,
			})
		}).
		OnDownstreamFailure(func(c x402.DownstreamFailureContext) error {
			msg := ""
			if c.Error != nil {
				msg = c.Error.Error()
			}
			return p.publish(p.failureSubject, Event{
				Type:       TypeDownstreamFailure,
				Record:     c.Record,
				Recipient:  c.Policy.Recipient,
				Asset:      c.Policy.Asset,
				Price:      amountString(c.Policy),
				Error:      msg,
				OccurredAt: time.Now().UTC(),
			})
		})
}

func (p *Publisher) publish(subject string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Type, err)
	}
	p.logger.Debug("published gateway event", "subject", subject, "type", ev.Type, "tx_ref", ev.Record.TxRef)
	return nil
}

// Flush waits until every published event reached the server
func (p *Publisher) Flush() error {
	return p.conn.Flush()
}

// Close drains the connection if the publisher opened it
func (p *Publisher) Close() error {
	if !p.owned {
		return p.conn.Flush()
	}
	return p.conn.Drain()
}

func amountString(policy x402.PricePolicy) string {
	if policy.Amount == nil {
		return ""
	}
	return policy.Amount.String()
}
