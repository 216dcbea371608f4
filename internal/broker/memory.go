package broker

import (
	"context"
	"sync"

	"github.com/tbourn/go-proposal-backend/internal/domain"
)

// Message is a publish recorded by Memory.
type Message struct {
	Exchange string
	Priority domain.Priority
	Body     []byte
}

// Memory is an in-process broker. Publishes are delivered synchronously to
// every subscriber of the exchange (fanout).
type Memory struct {
	mu        sync.Mutex
	fail      error
	published []Message
	subs      map[string]map[int]Handler
	nextID    int
	closed    bool
}

// NewMemory returns an empty in-memory broker.
func NewMemory() *Memory {
	return &Memory{subs: map[string]map[int]Handler{}}
}

// SetFailure makes subsequent publishes fail with err; nil restores delivery.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

// Published returns a copy of every accepted publish in order.
func (m *Memory) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.published...)
}

// Publish records the message and fans it out to current subscribers.
func (m *Memory) Publish(ctx context.Context, p *domain.Proposal, exchange string, priority domain.Priority) error {
	if err := validatePublish(p, exchange, priority); err != nil {
		return err
	}
	body, err := Encode(p)
	if err != nil {
		return &DeliveryError{Exchange: exchange, Op: "encode", Err: err}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return &DeliveryError{Exchange: exchange, Op: "publish", Err: ErrClosed}
	}
	if m.fail != nil {
		err := m.fail
		m.mu.Unlock()
		return &DeliveryError{Exchange: exchange, Op: "publish", Err: err}
	}
	m.published = append(m.published, Message{Exchange: exchange, Priority: priority, Body: body})
	handlers := make([]Handler, 0, len(m.subs[exchange]))
	for _, h := range m.subs[exchange] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		dispatch(ctx, exchange, body, h)
	}
	return nil
}

// Subscribers reports how many consumers are attached to exchange.
func (m *Memory) Subscribers(exchange string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[exchange])
}

// Subscriber returns a Subscriber bound to exchange.
func (m *Memory) Subscriber(exchange string) Subscriber {
	return &memorySubscriber{m: m, exchange: exchange}
}

// Close rejects further publishes.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

type memorySubscriber struct {
	m        *Memory
	exchange string
}

func (s *memorySubscriber) Consume(ctx context.Context, h Handler) error {
	s.m.mu.Lock()
	id := s.m.nextID
	s.m.nextID++
	if s.m.subs[s.exchange] == nil {
		s.m.subs[s.exchange] = map[int]Handler{}
	}
	s.m.subs[s.exchange][id] = h
	s.m.mu.Unlock()

	<-ctx.Done()

	s.m.mu.Lock()
	delete(s.m.subs[s.exchange], id)
	s.m.mu.Unlock()
	return nil
}

func (s *memorySubscriber) Close() error { return nil }
