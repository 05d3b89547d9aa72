package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/production-feedback-service/internal/jetstream"
	clientmock "gitlab.com/timkado/api/production-feedback-service/internal/jetstream/mock"
)

// scriptedDialer fails the first failures dials and then hands out client.
type scriptedDialer struct {
	mu       sync.Mutex
	client   jetstream.ClientInterface
	failures int
	calls    int
	opts     []jetstream.Options
}

func (d *scriptedDialer) Dial(url string, opts jetstream.Options) (jetstream.ClientInterface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.opts = append(d.opts, opts)
	if d.calls <= d.failures {
		return nil, errors.New("connection refused")
	}
	return d.client, nil
}

func (d *scriptedDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *scriptedDialer) LastOptions() jetstream.Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts[len(d.opts)-1]
}

func connectedClient() *clientmock.ClientMock {
	client := new(clientmock.ClientMock)
	client.On("SubscribePush", "machine_queue_updates", "production_feedback", "group", "machine_queue", mock.Anything).Return(nil, nil)
	client.On("IsConnected").Return(true)
	client.On("Close").Return()
	return client
}

func testSubscription() Subscription {
	return Subscription{
		Subject:  "machine_queue_updates",
		Consumer: "production_feedback",
		Group:    "group",
		Stream:   "machine_queue",
	}
}

func TestConnectionManager_ConnectRetriesUntilDialSucceeds(t *testing.T) {
	client := connectedClient()
	dialer := &scriptedDialer{client: client, failures: 2}
	m := NewConnectionManager("nats://test:4222", "test", 5*time.Millisecond, dialer.Dial, zaptest.NewLogger(t))

	var hookCalls int
	m.OnConnect(func(ctx context.Context, c jetstream.ClientInterface) error {
		hookCalls++
		assert.Same(t, client, c)
		return nil
	})
	m.OnMessage(testSubscription(), func(*nats.Msg) {})

	require.NoError(t, m.Connect(context.Background()))

	assert.Equal(t, 3, dialer.Calls())
	assert.Equal(t, 1, hookCalls)
	assert.True(t, m.IsConnected())
	assert.False(t, m.Connecting())
	client.AssertNumberOfCalls(t, "SubscribePush", 1)

	m.Close()
	assert.False(t, m.IsConnected())
	assert.Nil(t, m.Client())
	client.AssertNumberOfCalls(t, "Close", 1)
}

func TestConnectionManager_ConnectStopsWithContext(t *testing.T) {
	dialer := &scriptedDialer{failures: 1 << 30}
	m := NewConnectionManager("nats://test:4222", "test", 5*time.Millisecond, dialer.Dial, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	err := m.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, dialer.Calls(), 2)
	assert.False(t, m.IsConnected())
}

func TestConnectionManager_HookFailureDiscardsConnection(t *testing.T) {
	client := connectedClient()
	dialer := &scriptedDialer{client: client}
	m := NewConnectionManager("nats://test:4222", "test", 5*time.Millisecond, dialer.Dial, zaptest.NewLogger(t))

	var hookCalls int
	m.OnConnect(func(ctx context.Context, c jetstream.ClientInterface) error {
		hookCalls++
		if hookCalls == 1 {
			return errors.New("stream setup failed")
		}
		return nil
	})

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 2, dialer.Calls())
	client.AssertNumberOfCalls(t, "Close", 1)

	// The discarded connection's close callback must not start another loop.
	dialer.opts[0].OnClosed()
	assert.Equal(t, 2, dialer.Calls())
	assert.True(t, m.IsConnected())

	m.Close()
}

func TestConnectionManager_ReconnectsWhenConnectionCloses(t *testing.T) {
	client := connectedClient()
	dialer := &scriptedDialer{client: client}
	m := NewConnectionManager("nats://test:4222", "test", 5*time.Millisecond, dialer.Dial, zaptest.NewLogger(t))

	var mu sync.Mutex
	var hookCalls int
	m.OnConnect(func(ctx context.Context, c jetstream.ClientInterface) error {
		mu.Lock()
		defer mu.Unlock()
		hookCalls++
		return nil
	})
	m.OnMessage(testSubscription(), func(*nats.Msg) {})

	require.NoError(t, m.Connect(context.Background()))
	dialer.LastOptions().OnClosed()

	assert.Eventually(t, func() bool {
		return dialer.Calls() == 2 && m.IsConnected() && !m.Connecting()
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 2, hookCalls)
	mu.Unlock()
	client.AssertNumberOfCalls(t, "SubscribePush", 2)

	m.Close()
}

func TestConnectionManager_ConnectAfterClose(t *testing.T) {
	dialer := &scriptedDialer{client: connectedClient()}
	m := NewConnectionManager("nats://test:4222", "test", 5*time.Millisecond, dialer.Dial, zaptest.NewLogger(t))

	m.Close()
	m.Close()

	assert.ErrorIs(t, m.Connect(context.Background()), ErrConnectionClosed)
	assert.Equal(t, 0, dialer.Calls())
}

func TestConnectionManager_Configured(t *testing.T) {
	assert.True(t, NewConnectionManager("nats://test:4222", "test", time.Second, nil, zaptest.NewLogger(t)).Configured())
	assert.False(t, NewConnectionManager("", "test", time.Second, nil, zaptest.NewLogger(t)).Configured())
}
