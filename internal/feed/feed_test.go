package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nextEvent(t *testing.T, f *Feed) Event {
	t.Helper()
	select {
	case ev, ok := <-f.Events():
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for feed event")
		return Event{}
	}
}

type failingDialer struct {
	calls atomic.Int32
}

func (d *failingDialer) DialContext(context.Context, string, http.Header) (*websocket.Conn, *http.Response, error) {
	d.calls.Add(1)
	return nil, nil, errors.New("connection refused")
}

func TestBackoffDoublesPerAttempt(t *testing.T) {
	base := time.Second
	for n := 1; n <= 10; n++ {
		assert.Equal(t, base*time.Duration(1<<(n-1)), Backoff(base, n), "attempt %d", n)
	}
	assert.Equal(t, base, Backoff(base, 0))
}

func TestReconnectExhaustsAfterMaxAttempts(t *testing.T) {
	dialer := &failingDialer{}
	f := New(Config{URL: "ws://unused", BaseDelay: time.Second, MaxAttempts: 10}, dialer, testLogger())
	defer f.Close()

	var mu sync.Mutex
	var delays []time.Duration
	f.wait = func(d time.Duration) bool {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return true
	}

	require.Error(t, f.Connect(context.Background()))

	ev := nextEvent(t, f)
	require.Equal(t, EventMaxReconnectExhausted, ev.Kind)

	// One initial dial plus ten reconnect attempts.
	assert.EqualValues(t, 11, dialer.calls.Load())

	mu.Lock()
	got := append([]time.Duration(nil), delays...)
	mu.Unlock()
	require.Len(t, got, 10)
	for i, d := range got {
		assert.Equal(t, time.Second<<i, d)
	}

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 11, dialer.calls.Load(), "no dials after exhaustion")
	assert.False(t, f.Connected())
}

func TestReconnectAfterDisconnectRetiresSleepingLoop(t *testing.T) {
	dialer := &failingDialer{}
	f := New(Config{URL: "ws://unused", BaseDelay: time.Second, MaxAttempts: 10}, dialer, testLogger())
	defer f.Close()

	release := make(chan struct{})
	var first atomic.Bool
	var mu sync.Mutex
	var delays []time.Duration
	f.wait = func(d time.Duration) bool {
		if first.CompareAndSwap(false, true) {
			<-release
			return true
		}
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return true
	}

	require.Error(t, f.Connect(context.Background()))
	require.Eventually(t, first.Load, time.Second, time.Millisecond)

	f.Disconnect()
	require.Error(t, f.Connect(context.Background()))
	require.Equal(t, EventMaxReconnectExhausted, nextEvent(t, f).Kind)

	// Wake the loop from the first cycle; it must not dial again.
	close(release)
	time.Sleep(50 * time.Millisecond)

	// Two initial dials plus ten reconnect attempts from the second cycle.
	assert.EqualValues(t, 12, dialer.calls.Load())

	mu.Lock()
	got := append([]time.Duration(nil), delays...)
	mu.Unlock()
	require.Len(t, got, 10)
	for i, d := range got {
		assert.Equal(t, time.Second<<i, d)
	}
	assert.False(t, f.Connected())
}

// marketServer accepts websocket connections, records the first
// subscription frame of each, and lets the test script each connection.
type marketServer struct {
	mu    sync.Mutex
	subs  [][]string
	conns atomic.Int32
	srv   *httptest.Server
}

func newMarketServer(t *testing.T, script func(n int32, c *websocket.Conn)) *marketServer {
	ms := &marketServer{}
	ms.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()
		n := ms.conns.Add(1)
		script(n, c)
	}))
	t.Cleanup(ms.srv.Close)
	return ms
}

func (ms *marketServer) url() string {
	return "ws" + strings.TrimPrefix(ms.srv.URL, "http")
}

func (ms *marketServer) readSubscription(c *websocket.Conn) bool {
	_, raw, err := c.ReadMessage()
	if err != nil {
		return false
	}
	var msg subscribeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return false
	}
	ms.mu.Lock()
	ms.subs = append(ms.subs, msg.AssetsIDs)
	ms.mu.Unlock()
	return true
}

func drain(c *websocket.Conn) {
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func TestSubscriptionsReplayedOnReconnect(t *testing.T) {
	book := `[{"event_type":"book","asset_id":"a","market":"m1","timestamp":"1700000000000",
		"bids":[{"price":"0.95","size":"10"}],"asks":[{"price":"0.97","size":"40"}]}]`

	var ms *marketServer
	ms = newMarketServer(t, func(n int32, c *websocket.Conn) {
		if !ms.readSubscription(c) {
			return
		}
		if n == 1 {
			// Drop the first connection unexpectedly.
			return
		}
		_ = c.WriteMessage(websocket.TextMessage, []byte(book))
		drain(c)
	})

	f := New(Config{URL: ms.url(), BaseDelay: time.Millisecond, MaxAttempts: 3}, nil, testLogger())
	defer f.Close()
	f.wait = func(time.Duration) bool { return true }

	require.NoError(t, f.Subscribe([]string{"a", "b", "a"}))
	require.NoError(t, f.Connect(context.Background()))

	assert.Equal(t, EventConnected, nextEvent(t, f).Kind)
	assert.Equal(t, EventDisconnected, nextEvent(t, f).Kind)
	assert.Equal(t, EventConnected, nextEvent(t, f).Kind)

	ev := nextEvent(t, f)
	require.Equal(t, EventBookUpdate, ev.Kind)
	assert.Equal(t, "a", ev.Book.AssetID)
	best, ok := ev.Book.BestAsk()
	require.True(t, ok)
	assert.InDelta(t, 0.97, best.Price, 1e-9)

	ms.mu.Lock()
	defer ms.mu.Unlock()
	require.Len(t, ms.subs, 2)
	assert.Equal(t, []string{"a", "b"}, ms.subs[0])
	assert.Equal(t, []string{"a", "b"}, ms.subs[1])
}

func TestConnectIsIdempotent(t *testing.T) {
	ms := newMarketServer(t, func(_ int32, c *websocket.Conn) { drain(c) })

	f := New(Config{URL: ms.url()}, nil, testLogger())
	defer f.Close()

	require.NoError(t, f.Connect(context.Background()))
	require.NoError(t, f.Connect(context.Background()))
	assert.Equal(t, EventConnected, nextEvent(t, f).Kind)
	assert.True(t, f.Connected())
	assert.EqualValues(t, 1, ms.conns.Load())
}

func TestDisconnectClearsSubscriptionsWithoutReconnect(t *testing.T) {
	ms := newMarketServer(t, func(_ int32, c *websocket.Conn) { drain(c) })

	f := New(Config{URL: ms.url()}, nil, testLogger())
	defer f.Close()
	f.wait = func(time.Duration) bool { return true }

	require.NoError(t, f.Connect(context.Background()))
	require.NoError(t, f.Subscribe([]string{"x"}))
	assert.Equal(t, EventConnected, nextEvent(t, f).Kind)

	f.Disconnect()
	assert.Equal(t, EventDisconnected, nextEvent(t, f).Kind)
	assert.Empty(t, f.Subscriptions())
	assert.False(t, f.Connected())

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, ms.conns.Load())
}

func TestCloseEndsEventStream(t *testing.T) {
	f := New(Config{URL: "ws://unused"}, &failingDialer{}, testLogger())
	require.NoError(t, f.Close())

	select {
	case _, ok := <-f.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("event stream not closed")
	}
	assert.Error(t, f.Connect(context.Background()))
}
