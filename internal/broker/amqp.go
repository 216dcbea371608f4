package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-proposal-backend/internal/config"
	"github.com/tbourn/go-proposal-backend/internal/domain"
)

// amqpChannel is the subset of *amqp.Channel used by the driver.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Confirm(noWait bool) error
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// amqpConnection is the subset of *amqp.Connection used by the driver.
type amqpConnection interface {
	Channel() (amqpChannel, error)
	IsClosed() bool
	Close() error
}

type realAMQPConn struct{ *amqp.Connection }

func (c realAMQPConn) Channel() (amqpChannel, error) { return c.Connection.Channel() }

// ---- TEST SEAM ----
var dialAMQP = func(url, name string) (amqpConnection, error) {
	cfg := amqp.Config{
		Properties: amqp.NewConnectionProperties(),
		Heartbeat:  10 * time.Second,
	}
	cfg.Properties.SetClientConnectionName(name)
	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return realAMQPConn{conn}, nil
}

// Topology is the set of exchanges and queues the service relies on.
type Topology struct {
	PendingExchange      string
	PendingDLX           string
	PendingAnalysisQueue string
	PendingNotifyQueue   string
	PendingDLQ           string
	CompletedExchange    string
	CompletedQueue       string
	CompletedNotifyQueue string
	MaxPriority          int
}

// TopologyFrom extracts the topology names from broker config.
func TopologyFrom(cfg config.BrokerConfig) Topology {
	return Topology{
		PendingExchange:      cfg.PendingExchange,
		PendingDLX:           cfg.PendingDLX,
		PendingAnalysisQueue: cfg.PendingAnalysisQueue,
		PendingNotifyQueue:   cfg.PendingNotifyQueue,
		PendingDLQ:           cfg.PendingDLQ,
		CompletedExchange:    cfg.CompletedExchange,
		CompletedQueue:       cfg.CompletedQueue,
		CompletedNotifyQueue: cfg.CompletedNotifyQueue,
		MaxPriority:          cfg.MaxPriority,
	}
}

// declare creates every exchange, queue and binding. All declarations are
// idempotent on the broker side as long as arguments do not change.
func (t Topology) declare(ch amqpChannel) error {
	for _, ex := range []string{t.PendingExchange, t.PendingDLX, t.CompletedExchange} {
		if ex == "" {
			continue
		}
		if err := ch.ExchangeDeclare(ex, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %q: %w", ex, err)
		}
	}

	type binding struct {
		queue, exchange string
		args            amqp.Table
	}
	analysisArgs := amqp.Table{"x-max-priority": int32(t.MaxPriority)}
	if t.PendingDLX != "" {
		analysisArgs["x-dead-letter-exchange"] = t.PendingDLX
	}
	bindings := []binding{
		{t.PendingAnalysisQueue, t.PendingExchange, analysisArgs},
		{t.PendingNotifyQueue, t.PendingExchange, nil},
		{t.PendingDLQ, t.PendingDLX, nil},
		{t.CompletedQueue, t.CompletedExchange, nil},
		{t.CompletedNotifyQueue, t.CompletedExchange, nil},
	}
	for _, b := range bindings {
		if b.queue == "" || b.exchange == "" {
			continue
		}
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, b.args); err != nil {
			return fmt.Errorf("declare queue %q: %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, "", b.exchange, false, nil); err != nil {
			return fmt.Errorf("bind %q to %q: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}

// AMQPPublisher publishes over a lazily (re)established confirm-mode channel.
// Publishes are serialized; a failed publish drops the channel so the next
// call redials.
type AMQPPublisher struct {
	url      string
	name     string
	timeout  time.Duration
	topology Topology
	declare  bool

	mu     sync.Mutex
	conn   amqpConnection
	ch     amqpChannel
	closed bool
}

// NewAMQPPublisher returns a publisher; no connection is made until first use.
func NewAMQPPublisher(cfg config.BrokerConfig) *AMQPPublisher {
	return &AMQPPublisher{
		url:      cfg.AMQPURL,
		name:     cfg.ConsumerName + "-publisher",
		timeout:  cfg.PublishTimeout,
		topology: TopologyFrom(cfg),
		declare:  cfg.DeclareTopology,
	}
}

// channel returns a live confirm-mode channel, dialing if needed. Caller holds mu.
func (p *AMQPPublisher) channel() (amqpChannel, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if p.ch != nil && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, err := dialAMQP(p.url, p.name)
	if err != nil {
		return nil, &DeliveryError{Exchange: p.topology.PendingExchange, Op: "dial", Err: err}
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, &DeliveryError{Exchange: p.topology.PendingExchange, Op: "channel", Err: err}
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, &DeliveryError{Exchange: p.topology.PendingExchange, Op: "channel", Err: err}
	}
	if p.declare {
		if err := p.topology.declare(ch); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, &DeliveryError{Exchange: p.topology.PendingExchange, Op: "declare", Err: err}
		}
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

// reset drops the current channel and connection. Caller holds mu.
func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Publish sends p to exchange and waits for the broker confirm.
func (p *AMQPPublisher) Publish(ctx context.Context, prop *domain.Proposal, exchange string, priority domain.Priority) error {
	if err := validatePublish(prop, exchange, priority); err != nil {
		return err
	}
	body, err := Encode(prop)
	if err != nil {
		return &DeliveryError{Exchange: exchange, Op: "encode", Err: err}
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		var de *DeliveryError
		if errors.As(err, &de) {
			de.Exchange = exchange
			return de
		}
		return &DeliveryError{Exchange: exchange, Op: "channel", Err: err}
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     uint8(priority),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, "", false, false, msg)
	if err != nil {
		p.reset()
		return &DeliveryError{Exchange: exchange, Op: "publish", Err: err}
	}
	if dc == nil {
		// Channel not in confirm mode.
		return nil
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		p.reset()
		return &DeliveryError{Exchange: exchange, Op: "confirm", Err: err}
	}
	if !acked {
		return &DeliveryError{Exchange: exchange, Op: "nack", Err: errors.New("broker rejected message")}
	}
	return nil
}

// Declare declares the topology on a fresh channel regardless of the
// DeclareTopology setting.
func (p *AMQPPublisher) Declare(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := p.channel()
	if err != nil {
		return err
	}
	if err := p.topology.declare(ch); err != nil {
		p.reset()
		return err
	}
	return nil
}

// Close releases the connection. Further publishes fail with ErrClosed.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	p.closed = true
	return nil
}

// AMQPSubscriber consumes the completed-proposal queue with a bounded pool
// of workers. Every delivery is acknowledged once its handler returns.
type AMQPSubscriber struct {
	url      string
	queue    string
	consumer string
	prefetch int
	topology Topology
	declare  bool
}

// NewAMQPSubscriber returns a subscriber for cfg.CompletedQueue.
func NewAMQPSubscriber(cfg config.BrokerConfig) *AMQPSubscriber {
	prefetch := cfg.ConsumerPrefetch
	if prefetch < 1 {
		prefetch = 1
	}
	return &AMQPSubscriber{
		url:      cfg.AMQPURL,
		queue:    cfg.CompletedQueue,
		consumer: cfg.ConsumerName,
		prefetch: prefetch,
		topology: TopologyFrom(cfg),
		declare:  cfg.DeclareTopology,
	}
}

// Consume blocks until ctx is cancelled (returns nil) or the delivery stream
// closes (returns an error).
func (s *AMQPSubscriber) Consume(ctx context.Context, h Handler) error {
	conn, err := dialAMQP(s.url, s.consumer)
	if err != nil {
		return fmt.Errorf("broker: dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("broker: channel: %w", err)
	}
	defer ch.Close()

	if s.declare {
		if err := s.topology.declare(ch); err != nil {
			return fmt.Errorf("broker: declare: %w", err)
		}
	}
	if err := ch.Qos(s.prefetch, 0, false); err != nil {
		return fmt.Errorf("broker: qos: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, s.queue, s.consumer, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("broker: consume %q: %w", s.queue, err)
	}

	log.Info().Str("queue", s.queue).Int("workers", s.prefetch).Msg("consuming completions")

	var wg sync.WaitGroup
	for i := 0; i < s.prefetch; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				s.handle(ctx, d, h)
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("broker: delivery stream for %q closed", s.queue)
}

func (s *AMQPSubscriber) handle(ctx context.Context, d amqp.Delivery, h Handler) {
	defer func() {
		if err := d.Ack(false); err != nil {
			log.Error().Err(err).Uint64("delivery_tag", d.DeliveryTag).Msg("ack failed")
		}
	}()
	dispatch(ctx, s.queue, d.Body, h)
}

// Close is a no-op; Consume owns its connection.
func (s *AMQPSubscriber) Close() error { return nil }
