// Package feed maintains the push connection to the venue's market channel.
// It owns reconnection and subscription state and exposes everything it
// observes as a single typed event stream.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/certaintybot/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	defaultHandshakeTimeout = 15 * time.Second
)

// EventKind identifies what a feed Event carries.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventPriceChange
	EventBookUpdate
	EventMaxReconnectExhausted
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventPriceChange:
		return "price_change"
	case EventBookUpdate:
		return "book_update"
	case EventMaxReconnectExhausted:
		return "max_reconnect_exhausted"
	default:
		return "unknown"
	}
}

// Event is a single item of the feed stream. Price is set for
// EventPriceChange and Book for EventBookUpdate.
type Event struct {
	Kind  EventKind
	Price domain.PriceChange
	Book  domain.OrderbookSnapshot
	Time  time.Time
}

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Config controls the connection and reconnect policy.
type Config struct {
	URL          string
	PingInterval time.Duration
	BaseDelay    time.Duration
	MaxAttempts  int
}

type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateConnected
	stateClosed
)

// Backoff returns the delay before reconnect attempt n (1-based).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Feed is a websocket client for the venue market channel. All methods are
// safe for concurrent use; Events must have exactly one consumer.
type Feed struct {
	cfg    Config
	dialer Dialer
	logger *slog.Logger

	mu       sync.Mutex
	state    connState
	conn     *websocket.Conn
	connDone chan struct{}
	attempts int
	// gen identifies the current reconnect cycle. A loop whose gen is no
	// longer current exits without dialing.
	gen      uint64
	assets   []string
	assetSet map[string]struct{}

	writeMu sync.Mutex

	qmu     sync.Mutex
	pending []Event
	wake    chan struct{}
	out     chan Event

	done      chan struct{}
	closeOnce sync.Once

	// wait blocks for d or until the feed is closed. Replaced in tests.
	wait func(d time.Duration) bool
}

// New creates a Feed. A nil dialer uses a websocket.Dialer with a 15s
// handshake timeout.
func New(cfg Config, dialer Dialer, logger *slog.Logger) *Feed {
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 10
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	f := &Feed{
		cfg:      cfg,
		dialer:   dialer,
		logger:   logger.With(slog.String("component", "feed")),
		assetSet: make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
		out:      make(chan Event),
		done:     make(chan struct{}),
	}
	f.wait = f.sleep
	go f.pump()
	return f
}

// Events returns the feed's event stream. The channel is closed by Close.
func (f *Feed) Events() <-chan Event {
	return f.out
}

// Connect establishes the connection. It is a no-op while already connected
// or connecting. A failed dial is returned and also hands over to the
// reconnect loop, exactly as an unexpected close would.
func (f *Feed) Connect(ctx context.Context) error {
	f.mu.Lock()
	switch f.state {
	case stateClosed:
		f.mu.Unlock()
		return fmt.Errorf("feed: connect: %w", domain.ErrWSDisconnect)
	case stateConnecting, stateConnected:
		f.mu.Unlock()
		return nil
	}
	f.state = stateConnecting
	f.attempts = 0
	f.gen++
	gen := f.gen
	f.mu.Unlock()

	if err := f.dial(ctx, gen); err != nil {
		f.logger.Warn("initial connect failed", slog.String("error", err.Error()))
		go f.reconnectLoop(gen)
		return err
	}
	return nil
}

// Subscribe registers interest in assetIDs. Ids are deduplicated and replayed
// on every successful (re)connection. New ids are sent immediately when
// connected.
func (f *Feed) Subscribe(assetIDs []string) error {
	f.mu.Lock()
	var added []string
	for _, id := range assetIDs {
		if id == "" {
			continue
		}
		if _, ok := f.assetSet[id]; ok {
			continue
		}
		f.assetSet[id] = struct{}{}
		f.assets = append(f.assets, id)
		added = append(added, id)
	}
	conn := f.conn
	connected := f.state == stateConnected
	f.mu.Unlock()

	if !connected || conn == nil || len(added) == 0 {
		return nil
	}
	if err := f.sendSubscribe(conn, added); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Debug("subscribed", slog.Int("assets", len(added)))
	return nil
}

// Subscriptions returns the currently registered asset ids in insertion order.
func (f *Feed) Subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.assets...)
}

// Connected reports whether the connection is currently up.
func (f *Feed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == stateConnected
}

// Disconnect tears the connection down and clears all subscriptions. The
// venue has no unsubscribe primitive, so this is purely local bookkeeping
// plus a socket close.
func (f *Feed) Disconnect() {
	f.mu.Lock()
	if f.state == stateClosed {
		f.mu.Unlock()
		return
	}
	wasConnected := f.state == stateConnected
	conn := f.teardownLocked()
	f.state = stateIdle
	f.gen++
	f.assets = nil
	f.assetSet = make(map[string]struct{})
	f.mu.Unlock()

	f.closeConn(conn)
	if wasConnected {
		f.emit(Event{Kind: EventDisconnected})
	}
}

// Close disconnects and ends the event stream.
func (f *Feed) Close() error {
	f.Disconnect()
	f.mu.Lock()
	f.state = stateClosed
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// dial opens a connection and, on success, replays subscriptions and starts
// the read and ping loops.
func (f *Feed) dial(ctx context.Context, gen uint64) error {
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}

	f.mu.Lock()
	if !f.currentLocked(gen) {
		// Disconnected or closed while dialing.
		f.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("feed: dial: %w", domain.ErrWSDisconnect)
	}
	f.conn = conn
	f.state = stateConnected
	f.attempts = 0
	connDone := make(chan struct{})
	f.connDone = connDone
	assets := append([]string(nil), f.assets...)
	f.mu.Unlock()

	if len(assets) > 0 {
		if err := f.sendSubscribe(conn, assets); err != nil {
			// The read loop observes the broken socket and reconnects.
			f.logger.Warn("replay subscriptions failed", slog.String("error", err.Error()))
		}
	}

	f.logger.Info("connected", slog.String("url", f.cfg.URL), slog.Int("assets", len(assets)))
	f.emit(Event{Kind: EventConnected})

	go f.readLoop(conn)
	go f.pingLoop(conn, connDone)
	return nil
}

// reconnectLoop retries with exponential backoff until a dial succeeds, the
// attempt bound is exceeded, or the feed is disconnected. It stops as soon
// as a newer cycle has started.
func (f *Feed) reconnectLoop(gen uint64) {
	for {
		f.mu.Lock()
		if !f.currentLocked(gen) {
			f.mu.Unlock()
			return
		}
		f.attempts++
		attempt := f.attempts
		f.mu.Unlock()

		if attempt > f.cfg.MaxAttempts {
			f.exhaust(gen)
			return
		}

		delay := Backoff(f.cfg.BaseDelay, attempt)
		f.logger.Info("reconnecting",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		if !f.wait(delay) || !f.current(gen) {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), defaultHandshakeTimeout)
		err := f.dial(ctx, gen)
		cancel()
		if err == nil {
			return
		}
		f.logger.Warn("reconnect failed", slog.Int("attempt", attempt), slog.String("error", err.Error()))
	}
}

func (f *Feed) exhaust(gen uint64) {
	f.mu.Lock()
	if !f.currentLocked(gen) {
		f.mu.Unlock()
		return
	}
	f.state = stateIdle
	f.mu.Unlock()
	f.logger.Error("max reconnect attempts exhausted", slog.Int("max_attempts", f.cfg.MaxAttempts))
	f.emit(Event{Kind: EventMaxReconnectExhausted})
}

// readLoop reads frames until the connection fails. An unexpected failure
// hands over to the reconnect loop; a failure caused by Disconnect does not.
func (f *Feed) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			f.mu.Lock()
			if f.conn != conn {
				f.mu.Unlock()
				return
			}
			f.teardownLocked()
			f.state = stateConnecting
			f.attempts = 0
			f.gen++
			gen := f.gen
			f.mu.Unlock()

			_ = conn.Close()
			f.logger.Warn("connection closed", slog.String("error", err.Error()))
			f.emit(Event{Kind: EventDisconnected})
			go f.reconnectLoop(gen)
			return
		}

		for _, ev := range parseMessage(raw) {
			f.emit(ev)
		}
	}
}

// pingLoop sends periodic pings while conn is current. A missing pong is not
// treated as failure; only a read error triggers reconnection.
func (f *Feed) pingLoop(conn *websocket.Conn, connDone <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-connDone:
			return
		case <-f.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				f.logger.Debug("ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (f *Feed) current(gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentLocked(gen)
}

// currentLocked reports whether gen is still the live reconnect cycle.
// Caller must hold f.mu.
func (f *Feed) currentLocked(gen uint64) bool {
	return f.state == stateConnecting && f.gen == gen
}

// teardownLocked detaches the current connection. Caller must hold f.mu.
func (f *Feed) teardownLocked() *websocket.Conn {
	conn := f.conn
	f.conn = nil
	if f.connDone != nil {
		close(f.connDone)
		f.connDone = nil
	}
	return conn
}

func (f *Feed) closeConn(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	_ = conn.Close()
}

// subscribeMessage is the market channel subscription payload.
type subscribeMessage struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type"`
}

func (f *Feed) sendSubscribe(conn *websocket.Conn, assets []string) error {
	data, err := json.Marshal(subscribeMessage{AssetsIDs: assets, Type: "market"})
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (f *Feed) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-f.done:
		return false
	}
}

// emit appends ev to the unbounded queue drained by pump.
func (f *Feed) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	f.qmu.Lock()
	f.pending = append(f.pending, ev)
	f.qmu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// pump moves queued events to the output channel so producers never block
// on a slow consumer.
func (f *Feed) pump() {
	defer close(f.out)
	for {
		f.qmu.Lock()
		if len(f.pending) == 0 {
			f.qmu.Unlock()
			select {
			case <-f.wake:
				continue
			case <-f.done:
				return
			}
		}
		ev := f.pending[0]
		f.pending[0] = Event{}
		f.pending = f.pending[1:]
		f.qmu.Unlock()

		select {
		case f.out <- ev:
		case <-f.done:
			return
		}
	}
}
