package ingestion

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/production-feedback-service/internal/jetstream"
	"gitlab.com/timkado/api/production-feedback-service/internal/observer"
	"gitlab.com/timkado/api/production-feedback-service/pkg/utils"
)

// ErrConnectionClosed is returned by Connect after Close was called.
var ErrConnectionClosed = errors.New("connection manager closed")

// Dialer opens a broker connection.
type Dialer func(url string, opts jetstream.Options) (jetstream.ClientInterface, error)

// DefaultDialer dials NATS JetStream.
func DefaultDialer(url string, opts jetstream.Options) (jetstream.ClientInterface, error) {
	client, err := jetstream.NewClient(url, opts)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// ConnectHook runs on every established connection before subscriptions are made.
type ConnectHook func(ctx context.Context, client jetstream.ClientInterface) error

// Subscription names a durable push consumer to bind a handler to.
type Subscription struct {
	Subject  string
	Consumer string
	Group    string
	Stream   string
}

type messageBinding struct {
	sub     Subscription
	handler nats.MsgHandler
}

// ConnectionManager owns the broker connection and re-establishes it, with
// its hooks and subscriptions, whenever it is lost.
type ConnectionManager struct {
	url            string
	name           string
	reconnectDelay time.Duration
	dial           Dialer
	baseLogger     *zap.Logger

	mu         sync.RWMutex
	ctx        context.Context
	client     jetstream.ClientInterface
	generation int
	subs       []*nats.Subscription
	hooks      []ConnectHook
	bindings   []messageBinding
	connecting bool
	closed     bool
}

// NewConnectionManager creates a manager. A nil dialer uses DefaultDialer.
func NewConnectionManager(url, name string, reconnectDelay time.Duration, dial Dialer, baseLogger *zap.Logger) *ConnectionManager {
	if dial == nil {
		dial = DefaultDialer
	}
	return &ConnectionManager{
		url:            url,
		name:           name,
		reconnectDelay: reconnectDelay,
		dial:           dial,
		baseLogger:     baseLogger.Named("queue_connection"),
	}
}

// Configured reports whether a broker URL is set.
func (m *ConnectionManager) Configured() bool {
	return m.url != ""
}

// OnConnect registers a hook run after every successful dial.
func (m *ConnectionManager) OnConnect(hook ConnectHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// OnMessage binds a handler to a durable consumer. The subscription is made
// on every established connection.
func (m *ConnectionManager) OnMessage(sub Subscription, handler nats.MsgHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings = append(m.bindings, messageBinding{sub: sub, handler: handler})
}

// Connect dials the broker, retrying every reconnect delay until it succeeds
// or ctx is cancelled.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrConnectionClosed
	}
	if m.connecting {
		m.mu.Unlock()
		return nil
	}
	m.ctx = ctx
	m.connecting = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.connecting = false
		m.mu.Unlock()
	}()

	log := m.baseLogger.With(zap.String("url", m.url))
	attempt := 0
	operation := func() error {
		m.mu.RLock()
		closed := m.closed
		m.mu.RUnlock()
		if closed {
			return backoff.Permanent(ErrConnectionClosed)
		}

		attempt++
		if err := m.dialAndAttach(ctx); err != nil {
			return err
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		observer.IncQueueReconnectAttempt()
		log.Warn("Broker connection failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", next),
		)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(m.reconnectDelay), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		log.Error("Giving up on broker connection", zap.Error(err), zap.Int("attempts", attempt))
		return err
	}
	log.Info("Broker connected", zap.Int("attempts", attempt))
	return nil
}

func (m *ConnectionManager) dialAndAttach(ctx context.Context) error {
	m.mu.Lock()
	m.generation++
	gen := m.generation
	hooks := append([]ConnectHook(nil), m.hooks...)
	bindings := append([]messageBinding(nil), m.bindings...)
	m.mu.Unlock()

	client, err := m.dial(m.url, m.options(gen))
	if err != nil {
		return err
	}

	for _, hook := range hooks {
		if err := hook(ctx, client); err != nil {
			m.discard(client, nil)
			return err
		}
	}

	subs := make([]*nats.Subscription, 0, len(bindings))
	for _, b := range bindings {
		sub, err := client.SubscribePush(b.sub.Subject, b.sub.Consumer, b.sub.Group, b.sub.Stream, b.handler)
		if err != nil {
			m.discard(client, subs)
			return err
		}
		if sub != nil {
			subs = append(subs, sub)
		}
	}

	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		m.discard(client, subs)
		return backoff.Permanent(ErrConnectionClosed)
	}
	m.client = client
	m.subs = subs
	m.mu.Unlock()

	observer.SetQueueConnected(true)
	return nil
}

// discard closes a connection that never became current. Its OnClosed
// callback sees a stale generation and does not reconnect.
func (m *ConnectionManager) discard(client jetstream.ClientInterface, subs []*nats.Subscription) {
	m.mu.Lock()
	m.generation++
	m.mu.Unlock()
	drain(subs, m.baseLogger)
	client.Close()
}

func (m *ConnectionManager) options(gen int) jetstream.Options {
	return jetstream.Options{
		Name:          m.name,
		ReconnectWait: m.reconnectDelay,
		OnDisconnect: func(err error) {
			observer.SetQueueConnected(false)
			m.baseLogger.Warn("Broker disconnected", zap.Error(err))
		},
		OnReconnect: func(url string) {
			observer.SetQueueConnected(true)
			m.baseLogger.Info("Broker reconnected", zap.String("url", url))
		},
		OnClosed: func() { m.handleClosed(gen) },
	}
}

// handleClosed re-enters the connect loop when the current connection closes.
func (m *ConnectionManager) handleClosed(gen int) {
	m.mu.Lock()
	if m.closed || gen != m.generation || m.client == nil {
		m.mu.Unlock()
		return
	}
	m.client = nil
	m.subs = nil
	ctx := m.ctx
	m.mu.Unlock()

	observer.SetQueueConnected(false)
	m.baseLogger.Warn("Broker connection closed, reconnecting")
	utils.SafeGo(func() {
		_ = m.Connect(ctx)
	}, nil)
}

// IsConnected reports whether the current connection is up.
func (m *ConnectionManager) IsConnected() bool {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	return client != nil && client.IsConnected()
}

// Connecting reports whether the connect loop is running.
func (m *ConnectionManager) Connecting() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connecting
}

// Client returns the current connection, or nil while disconnected.
func (m *ConnectionManager) Client() jetstream.ClientInterface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// Close drains subscriptions and closes the connection. The manager cannot be reused.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	client := m.client
	subs := m.subs
	m.client = nil
	m.subs = nil
	m.mu.Unlock()

	drain(subs, m.baseLogger)
	if client != nil {
		client.Close()
	}
	observer.SetQueueConnected(false)
	m.baseLogger.Info("Broker connection closed")
}

func drain(subs []*nats.Subscription, log *zap.Logger) {
	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			log.Error("Error draining subscription", zap.Error(err), zap.String("subject", sub.Subject))
		}
	}
}
