package handler

import (
	"net/http"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

// StatusProvider reports the bot's operational state.
type StatusProvider interface {
	Status() domain.Status
}

// WatchlistProvider returns the scanner's current watchlist.
type WatchlistProvider interface {
	Watchlist() []domain.WatchedMarket
}

// StatusHandler serves the status and watchlist endpoints.
type StatusHandler struct {
	status    StatusProvider
	watchlist WatchlistProvider
}

// NewStatusHandler creates a StatusHandler. watchlist may be nil when the
// process does not scan (server mode).
func NewStatusHandler(status StatusProvider, watchlist WatchlistProvider) *StatusHandler {
	return &StatusHandler{status: status, watchlist: watchlist}
}

// GetStatus responds with the current status summary.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Status())
}

type watchlistResponse struct {
	Count   int                    `json:"count"`
	Markets []domain.WatchedMarket `json:"markets"`
}

// GetWatchlist responds with the markets currently being watched.
// GET /api/watchlist
func (h *StatusHandler) GetWatchlist(w http.ResponseWriter, r *http.Request) {
	markets := []domain.WatchedMarket{}
	if h.watchlist != nil {
		if wl := h.watchlist.Watchlist(); wl != nil {
			markets = wl
		}
	}
	writeJSON(w, http.StatusOK, watchlistResponse{Count: len(markets), Markets: markets})
}
