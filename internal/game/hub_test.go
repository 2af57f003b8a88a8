package game

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wordpot/internal/logger"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Message
	for _, f := range c.frames {
		var m Message
		if json.Unmarshal(f, &m) == nil {
			out = append(out, m)
		}
	}
	return out
}

func TestNewHub(t *testing.T) {
	hub := NewHub(logger.Discard())
	require.NotNil(t, hub)
	assert.NotNil(t, hub.clients)
	assert.Equal(t, HUB_BUFFER, cap(hub.broadcast))
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_BroadcastReachesClients(t *testing.T) {
	hub := NewHub(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	a, b := &fakeConn{}, &fakeConn{}
	hub.addClient(a, "1")
	hub.addClient(b, "2")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(Message{Type: "guess", RoundID: 7, Data: map[string]string{"word": "HOUSE"}})

	for _, c := range []*fakeConn{a, b} {
		require.Eventually(t, func() bool { return len(c.messages()) == 1 }, time.Second, 5*time.Millisecond)
		m := c.messages()[0]
		assert.Equal(t, "guess", m.Type)
		assert.Equal(t, int64(7), m.RoundID)
	}
}

func TestHub_WrapsArbitraryValues(t *testing.T) {
	hub := NewHub(logger.Discard())
	hub.Broadcast(map[string]string{"msg": "hello"})
	got := <-hub.broadcast
	assert.Equal(t, "raw", got.Type)
}

func TestHub_BroadcastBufferFull(t *testing.T) {
	hub := NewHub(logger.Discard())

	// hub not running, so the buffer fills up
	for i := 0; i < HUB_BUFFER; i++ {
		hub.Broadcast(Message{Type: "fill"})
	}

	done := make(chan struct{})
	go func() {
		hub.Broadcast(Message{Type: "overflow"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Broadcast blocked on a full buffer")
	}
	assert.Len(t, hub.broadcast, HUB_BUFFER)
}

func TestHub_UnregisterClosesConnection(t *testing.T) {
	hub := NewHub(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := &fakeConn{}
	c := hub.addClient(conn, "1")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.UnregisterClient(c)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.True(t, conn.closed)
}

func TestHub_ShutdownClosesAll(t *testing.T) {
	hub := NewHub(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	conn := &fakeConn{}
	hub.addClient(conn, "1")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-stopped
	assert.Equal(t, 0, hub.ClientCount())
	assert.True(t, conn.closed)
}

func TestHub_StoppedHubDoesNotBlockClients(t *testing.T) {
	hub := NewHub(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	early := &fakeConn{}
	c := hub.addClient(early, "1")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-stopped

	late := &fakeConn{}
	done := make(chan struct{})
	go func() {
		hub.UnregisterClient(c)
		hub.addClient(late, "2")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("client registration blocked after the hub stopped")
	}
	late.mu.Lock()
	defer late.mu.Unlock()
	assert.True(t, late.closed)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_SendSummary(t *testing.T) {
	hub := NewHub(logger.Discard())
	conn := &fakeConn{}
	c := &Client{conn: conn, playerID: "1"}

	hub.SendSummary(c, nil)
	assert.Empty(t, conn.messages())

	hub.SendSummary(c, &RoundSummary{RoundID: 3, CommitHash: "abc"})
	msgs := conn.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "round_summary", msgs[0].Type)
	assert.Equal(t, int64(3), msgs[0].RoundID)
}
