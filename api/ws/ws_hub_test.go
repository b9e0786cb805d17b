package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	cachemocks "github.com/zlnvch/learnlink/cache/mocks"
	"github.com/zlnvch/learnlink/models"
	"github.com/zlnvch/learnlink/service"
)

const testSessionId = "0b5a2d8e-6a3c-4f5e-9d1a-2c4b6e8f0a1b"

// handlers captures the redis handler registered per channel.
type handlers struct {
	mu   sync.Mutex
	m    map[string]func([]byte)
	ctxs map[string]context.Context
}

func (h *handlers) get(channel string) func([]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.m[channel]
}

func setupHub(t *testing.T) (*Hub, *cachemocks.MockCache, *handlers) {
	t.Helper()
	mockCache := new(cachemocks.MockCache)
	captured := &handlers{m: map[string]func([]byte){}, ctxs: map[string]context.Context{}}

	mockCache.On("Subscribe", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured.mu.Lock()
			captured.m[args.String(1)] = args.Get(2).(func(message []byte))
			captured.ctxs[args.String(1)] = args.Get(0).(context.Context)
			captured.mu.Unlock()
		}).
		Return(nil)

	hub := NewHub(mockCache)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, hub.InitSubscriptions(ctx))
	go hub.Run(ctx)
	return hub, mockCache, captured
}

func newTestClient(hub *Hub, userId string) *Client {
	return NewClient(hub, nil, models.User{Id: userId}, service.NewPointGate(16*time.Millisecond), nil)
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestHub_BoardBroadcast(t *testing.T) {
	hub, _, captured := setupHub(t)

	a := newTestClient(hub, "u1")
	b := newTestClient(hub, "u2")
	outsider := newTestClient(hub, "u3")
	hub.OpenCh <- a
	hub.OpenCh <- b
	hub.OpenCh <- outsider
	hub.SubscribeCh <- subscription{client: a, sessionId: testSessionId}
	hub.SubscribeCh <- subscription{client: b, sessionId: testSessionId}

	var handler func([]byte)
	require.Eventually(t, func() bool {
		handler = captured.get("board:" + testSessionId)
		return handler != nil
	}, time.Second, 5*time.Millisecond)

	// let both subscriptions land before publishing
	time.Sleep(20 * time.Millisecond)
	handler([]byte(`{"type":"new_stroke"}`))

	assert.Equal(t, `{"type":"new_stroke"}`, string(receive(t, a)))
	assert.Equal(t, `{"type":"new_stroke"}`, string(receive(t, b)))
	assert.Empty(t, outsider.Send)
}

func TestHub_DirectoryBroadcast(t *testing.T) {
	hub, _, captured := setupHub(t)

	subscriber := newTestClient(hub, "u1")
	other := newTestClient(hub, "u2")
	hub.OpenCh <- subscriber
	hub.OpenCh <- other
	hub.DirectorySubscribeCh <- subscriber
	time.Sleep(20 * time.Millisecond)

	captured.get("sessions")([]byte(`{"type":"session_created"}`))

	assert.Equal(t, `{"type":"session_created"}`, string(receive(t, subscriber)))
	assert.Empty(t, other.Send)
}

func TestHub_MaxConnectionsPerUser(t *testing.T) {
	hub, _, _ := setupHub(t)

	clients := make([]*Client, maxConnectionsPerUser+1)
	for i := range clients {
		clients[i] = newTestClient(hub, "u1")
		hub.OpenCh <- clients[i]
	}

	extra := clients[maxConnectionsPerUser]
	select {
	case <-extra.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("extra connection was not closed")
	}
	for _, c := range clients[:maxConnectionsPerUser] {
		assert.NoError(t, c.ctx.Err())
	}
}

func TestHub_UserDeletedClosesConnections(t *testing.T) {
	hub, _, captured := setupHub(t)

	deleted := newTestClient(hub, "u1")
	kept := newTestClient(hub, "u2")
	hub.OpenCh <- deleted
	hub.OpenCh <- kept
	time.Sleep(20 * time.Millisecond)

	captured.get("user-deleted")([]byte(`{"userId":"u1"}`))

	select {
	case <-deleted.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("deleted user's connection was not closed")
	}
	assert.NoError(t, kept.ctx.Err())
}

func TestHub_LastUnsubscribeCancelsRedisSubscription(t *testing.T) {
	hub, _, captured := setupHub(t)

	c := newTestClient(hub, "u1")
	hub.OpenCh <- c
	hub.SubscribeCh <- subscription{client: c, sessionId: testSessionId}

	var boardCtx context.Context
	require.Eventually(t, func() bool {
		captured.mu.Lock()
		defer captured.mu.Unlock()
		boardCtx = captured.ctxs["board:"+testSessionId]
		return boardCtx != nil
	}, time.Second, 5*time.Millisecond)

	hub.UnsubscribeCh <- subscription{client: c, sessionId: testSessionId}

	select {
	case <-boardCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("board subscription was not cancelled")
	}
}

func TestClient_HistoryPerBoard(t *testing.T) {
	c := newTestClient(nil, "u1")

	h := c.history(testSessionId)
	h.Push(models.Stroke{Id: "s1"})
	assert.Same(t, h, c.history(testSessionId))
	assert.NotSame(t, h, c.history("other"))
}

func TestHub_CloseBeforeQueuedSubscribe(t *testing.T) {
	mockCache := new(cachemocks.MockCache)
	mockCache.On("Subscribe", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	// select picks randomly among ready channels, so repeat
	for i := 0; i < 100; i++ {
		hub := NewHub(mockCache)
		c := newTestClient(hub, "u1")
		hub.OpenCh <- c
		hub.SubscribeCh <- subscription{client: c, sessionId: testSessionId}
		hub.DirectorySubscribeCh <- c
		c.Close()
		hub.CloseCh <- c

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			hub.Run(ctx)
			close(done)
		}()

		require.Eventually(t, func() bool {
			return len(hub.OpenCh) == 0 && len(hub.SubscribeCh) == 0 &&
				len(hub.DirectorySubscribeCh) == 0 && len(hub.CloseCh) == 0
		}, time.Second, time.Millisecond)
		cancel()
		<-done

		assert.Empty(t, hub.boardToClients)
		assert.Empty(t, hub.boardToSubscriberCancel)
		assert.Empty(t, hub.directoryClients)
		assert.Empty(t, hub.userToClients)
	}
}
