package broker

import (
	"context"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-proposal-backend/internal/config"
	"github.com/tbourn/go-proposal-backend/internal/domain"
)

// PriorityHeader carries the delivery priority on NATS messages.
const PriorityHeader = "Priority"

// natsConn is the subset of *nats.Conn used by the driver.
type natsConn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

// ConnectNATS dials the configured server with unlimited reconnects.
func ConnectNATS(cfg config.BrokerConfig) (*nats.Conn, error) {
	return nats.Connect(cfg.NATSURL,
		nats.Name(cfg.ConsumerName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
}

// NATSPublisher publishes proposals on subject = exchange name.
type NATSPublisher struct {
	conn natsConn
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(conn natsConn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

// Publish sends one message and flushes so that a broken connection is
// reported to the caller instead of being buffered.
func (p *NATSPublisher) Publish(ctx context.Context, prop *domain.Proposal, exchange string, priority domain.Priority) error {
	if err := validatePublish(prop, exchange, priority); err != nil {
		return err
	}
	body, err := Encode(prop)
	if err != nil {
		return &DeliveryError{Exchange: exchange, Op: "encode", Err: err}
	}
	msg := nats.NewMsg(exchange)
	msg.Data = body
	msg.Header.Set(PriorityHeader, strconv.Itoa(int(priority)))
	msg.Header.Set("Content-Type", "application/json")

	if err := p.conn.PublishMsg(msg); err != nil {
		return &DeliveryError{Exchange: exchange, Op: "publish", Err: err}
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return &DeliveryError{Exchange: exchange, Op: "flush", Err: err}
	}
	return nil
}

// Close closes the shared connection.
func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber joins a queue group on the completed subject so replicas
// share the stream.
type NATSSubscriber struct {
	conn    natsConn
	subject string
	queue   string
}

// NewNATSSubscriber subscribes to subject within queue group queue.
func NewNATSSubscriber(conn natsConn, subject, queue string) *NATSSubscriber {
	return &NATSSubscriber{conn: conn, subject: subject, queue: queue}
}

// Consume blocks until ctx is cancelled.
func (s *NATSSubscriber) Consume(ctx context.Context, h Handler) error {
	sub, err := s.conn.QueueSubscribe(s.subject, s.queue, func(m *nats.Msg) {
		log.Debug().Str("subject", s.subject).Str("priority", priorityOf(m).String()).Int("bytes", len(m.Data)).Msg("completion received")
		dispatch(ctx, s.subject, m.Data, h)
	})
	if err != nil {
		return err
	}
	log.Info().Str("subject", s.subject).Str("queue", s.queue).Msg("consuming completions")

	<-ctx.Done()
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("subject", s.subject).Msg("unsubscribe failed")
		}
	}
	return nil
}

// Close is a no-op; the publisher owns the shared connection.
func (s *NATSSubscriber) Close() error { return nil }

// priorityOf reads the delivery priority from a NATS message header; 0 when
// absent or malformed.
func priorityOf(m *nats.Msg) domain.Priority {
	if m == nil || m.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(m.Header.Get(PriorityHeader))
	if err != nil || n < 0 || n > 255 {
		return 0
	}
	return domain.Priority(n)
}
