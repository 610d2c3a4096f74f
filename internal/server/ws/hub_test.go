package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }
func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.ch, nil
}
func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func TestClientSubscriptionFilter(t *testing.T) {
	c := &client{subs: map[string]bool{"*": true}}
	assert.True(t, c.isSubscribed("opportunity"))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"trade_executed"}})
	assert.True(t, c.isSubscribed("trade_executed"))
	assert.False(t, c.isSubscribed("opportunity"))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"trade_executed"}})
	assert.False(t, c.isSubscribed("trade_executed"))
}

func TestHubRelaysBusEvents(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 4)}
	hub := NewHub(bus, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "bot_status", env.Type)

	bus.ch <- []byte(`not json`)
	raw, _ := json.Marshal(domain.Event{Type: domain.EventPositionResolved, PnL: 2})
	bus.ch <- raw

	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, string(domain.EventPositionResolved), env.Type)
}
