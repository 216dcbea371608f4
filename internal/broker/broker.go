// Package broker hands proposals to the external analysis pipeline and
// receives its completion verdicts.
//
// Three drivers implement the same Publisher/Subscriber contract:
//
//   - amqp:   RabbitMQ via amqp091-go, with publisher confirms and a fanout
//     topology (pending exchange with dead-letter exchange and a priority
//     queue, completed exchange with one queue per consumer).
//   - nats:   core NATS; the exchange name is used as the subject and the
//     priority travels in a "Priority" header.
//   - memory: in-process fanout for tests and local development.
//
// Publishers never retry internally. Any transport failure surfaces as a
// *DeliveryError that matches ErrDelivery, leaving retry policy to callers.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-proposal-backend/internal/config"
	"github.com/tbourn/go-proposal-backend/internal/domain"
)

var (
	// ErrDelivery is matched by every *DeliveryError.
	ErrDelivery = errors.New("broker: delivery failed")

	// ErrInvalidPublish is returned for an empty exchange or an unknown
	// priority. No traffic reaches the broker in that case.
	ErrInvalidPublish = errors.New("broker: invalid publish request")

	// ErrClosed is returned by operations on a closed driver.
	ErrClosed = errors.New("broker: closed")
)

// DeliveryError describes a failed transport operation.
type DeliveryError struct {
	Exchange string // target exchange or subject
	Op       string // dial|channel|publish|confirm|flush|nack
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("broker: %s to %q: %v", e.Op, e.Exchange, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDelivery) match any DeliveryError.
func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }

// Publisher delivers one proposal message to a named exchange.
type Publisher interface {
	Publish(ctx context.Context, p *domain.Proposal, exchange string, priority domain.Priority) error
	Close() error
}

// Handler processes one decoded completion message. It owns all error
// handling; the subscriber acknowledges the delivery after it returns.
type Handler func(ctx context.Context, p domain.Proposal)

// Subscriber consumes completion messages until ctx is cancelled or the
// underlying transport fails.
type Subscriber interface {
	Consume(ctx context.Context, h Handler) error
	Close() error
}

// Encode renders a proposal in the wire shape shared with the pipeline.
func Encode(p *domain.Proposal) ([]byte, error) {
	return json.Marshal(p)
}

// Decode parses a completion message body.
func Decode(body []byte) (domain.Proposal, error) {
	var p domain.Proposal
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.Proposal{}, fmt.Errorf("broker: decode message: %w", err)
	}
	return p, nil
}

func validatePublish(p *domain.Proposal, exchange string, priority domain.Priority) error {
	if p == nil {
		return fmt.Errorf("%w: nil proposal", ErrInvalidPublish)
	}
	if strings.TrimSpace(exchange) == "" {
		return fmt.Errorf("%w: empty exchange", ErrInvalidPublish)
	}
	if !priority.Valid() {
		return fmt.Errorf("%w: priority %d", ErrInvalidPublish, priority)
	}
	return nil
}

// dispatch decodes one raw delivery and hands it to h. Poison bodies are
// logged and dropped, and a panicking handler is recovered so the consumer
// goroutine survives to ack the delivery.
func dispatch(ctx context.Context, source string, body []byte, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("source", source).Msg("completion handler panicked")
		}
	}()
	p, err := Decode(body)
	if err != nil {
		log.Warn().Err(err).Str("source", source).Int("bytes", len(body)).Msg("dropping undecodable completion message")
		return
	}
	h(ctx, p)
}

// New builds the publisher/subscriber pair selected by cfg.Driver.
func New(cfg config.BrokerConfig) (Publisher, Subscriber, error) {
	switch cfg.Driver {
	case "amqp":
		return NewAMQPPublisher(cfg), NewAMQPSubscriber(cfg), nil
	case "nats":
		conn, err := ConnectNATS(cfg)
		if err != nil {
			return nil, nil, err
		}
		return NewNATSPublisher(conn), NewNATSSubscriber(conn, cfg.CompletedExchange, cfg.CompletedQueue), nil
	case "memory":
		m := NewMemory()
		return m, m.Subscriber(cfg.CompletedExchange), nil
	default:
		return nil, nil, fmt.Errorf("broker: unsupported driver %q", cfg.Driver)
	}
}

// ConsumeForever runs s.Consume until ctx is cancelled, re-subscribing after
// transport failures with a fixed backoff.
func ConsumeForever(ctx context.Context, s Subscriber, h Handler, backoff time.Duration) {
	for {
		err := s.Consume(ctx, h)
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Dur("backoff", backoff).Msg("completion subscription ended; resubscribing")
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}
