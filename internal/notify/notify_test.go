package notify

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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierDefaultFilter(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, quietLogger())

	ctx := context.Background()
	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Type: domain.EventOpportunity}))
	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Type: domain.EventTradeExecuted, Trade: &domain.Trade{}}))

	assert.Equal(t, []string{"Trade executed"}, s.titles)
	assert.True(t, n.Enabled())
}

func TestNotifierExplicitFilter(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{" opportunity "}, quietLogger())

	assert.True(t, n.Allows(domain.EventOpportunity))
	assert.False(t, n.Allows(domain.EventTradeExecuted))

	all := NewNotifier(nil, []string{"*"}, quietLogger())
	assert.True(t, all.Allows(domain.EventFeedConnected))
	assert.False(t, all.Enabled())
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	ok := &recordingSender{name: "ok"}
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	n := NewNotifier([]Sender{bad, ok}, nil, quietLogger())

	err := n.NotifyAll(context.Background(), "hello", "world")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Equal(t, []string{"hello"}, ok.titles, "remaining senders still receive")
}

func TestFormatEvent(t *testing.T) {
	title, msg := FormatEvent(domain.Event{
		Type: domain.EventPositionResolved,
		Position: &domain.Position{
			MarketID: "m1", Outcome: "Yes", EntryPrice: 0.98, Size: 100,
			Status: domain.PositionStatusResolvedWin,
		},
		PnL: 2,
	})
	assert.Equal(t, "Position resolved", title)
	assert.True(t, strings.HasPrefix(msg, "WIN: 100.00 Yes @ 0.9800"))
	assert.Contains(t, msg, "P&L: +2.00")

	title, msg = FormatEvent(domain.Event{
		Type:  domain.EventTradeFailed,
		Trade: &domain.Trade{MarketID: "m2", Price: 0.97, Size: 10, Reason: "order killed"},
	})
	assert.Equal(t, "Trade failed", title)
	assert.Contains(t, msg, "10.00 shares @ 0.9700")
	assert.Contains(t, msg, "Reason: order killed")

	title, msg = FormatEvent(domain.Event{Type: domain.EventFeedExhausted, Reason: "10 attempts"})
	assert.Equal(t, "Feed reconnects exhausted", title)
	assert.Contains(t, msg, "10 attempts")
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Price: $100.50", "Price: $100\\.50"},
		{"P&L: +2.00", "P&L: \\+2\\.00"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"a\\b", "a\\\\b"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, escapeMarkdownV2(tt.input))
		})
	}
}

func telegramServer(t *testing.T, sendFailures int) (*httptest.Server, *[]string) {
	t.Helper()
	var (
		mu    sync.Mutex
		texts []string
		fails = sendFailures
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"testbot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			mu.Lock()
			defer mu.Unlock()
			if fails > 0 {
				fails--
				_, _ = w.Write([]byte(`{"ok":false,"error_code":500,"description":"try later"}`))
				return
			}
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "42", r.FormValue("chat_id"))
			assert.Equal(t, "MarkdownV2", r.FormValue("parse_mode"))
			texts = append(texts, r.FormValue("text"))
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &texts
}

func TestTelegramSenderSend(t *testing.T) {
	srv, texts := telegramServer(t, 1)

	s, err := newTelegramSender("TOKEN", srv.URL+"/bot%s/%s", 42, srv.Client())
	require.NoError(t, err)
	s.retryDelayBase = time.Millisecond

	require.NoError(t, s.Send(context.Background(), "Trade executed", "Bought 10.00 Yes @ 0.9700"))
	require.Len(t, *texts, 1)
	assert.Equal(t, "*Trade executed*\nBought 10\\.00 Yes @ 0\\.9700", (*texts)[0])
	assert.Equal(t, "telegram", s.Name())
}

func TestTelegramSenderGivesUp(t *testing.T) {
	srv, _ := telegramServer(t, 10)

	s, err := newTelegramSender("TOKEN", srv.URL+"/bot%s/%s", 42, srv.Client())
	require.NoError(t, err)
	s.retryDelayBase = time.Millisecond

	err = s.Send(context.Background(), "x", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestTelegramSenderRequiresChat(t *testing.T) {
	_, err := newTelegramSender("TOKEN", "http://unused/bot%s/%s", 0, http.DefaultClient)
	require.Error(t, err)
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	require.NoError(t, d.Send(context.Background(), "Trade failed", "Reason: killed"))
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Trade failed", got.Embeds[0].Title)
	assert.Equal(t, colorRed, got.Embeds[0].Color)
	assert.Equal(t, "certaintybot", got.Username)
}

func TestDiscordSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestEmbedColor(t *testing.T) {
	assert.Equal(t, colorGreen, embedColor("Position resolved", "WIN: 10"))
	assert.Equal(t, colorRed, embedColor("Position resolved", "LOSS: 10"))
	assert.Equal(t, colorGreen, embedColor("Trade executed", ""))
	assert.Equal(t, colorGrey, embedColor("Feed connected", ""))
}
