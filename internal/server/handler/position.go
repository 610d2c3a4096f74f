package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

// PositionLedger defines the ledger methods the position handler requires.
type PositionLedger interface {
	Positions(status domain.PositionStatus) []domain.Position
	Position(id string) (domain.Position, bool)
	Stats() domain.TradingStats
	Exposure() float64
	DailyPnL() float64
	ResolvePosition(ctx context.Context, id string, isWinner bool) (domain.Position, float64, error)
}

// PositionHandler serves position and P&L endpoints.
type PositionHandler struct {
	ledger PositionLedger
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(ledger PositionLedger, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		ledger: ledger,
		logger: logHandler(logger, "positions"),
	}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns positions, optionally filtered by status.
// GET /api/positions?status=open
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	status := domain.PositionStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.PositionStatusOpen, domain.PositionStatusPendingResolution,
		domain.PositionStatusResolvedWin, domain.PositionStatusResolvedLoss:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}

	positions := h.ledger.Positions(status)
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns one position.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, ok := h.ledger.Position(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type resolveRequest struct {
	Winner *bool `json:"winner"`
}

type resolveResponse struct {
	Position domain.Position `json:"position"`
	PnL      float64         `json:"pnl"`
}

// ResolvePosition settles a position manually.
// POST /api/positions/{id}/resolve {"winner": true}
func (h *PositionHandler) ResolvePosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req resolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil || req.Winner == nil {
		writeError(w, http.StatusBadRequest, `body must be {"winner": true|false}`)
		return
	}

	pos, pnl, err := h.ledger.ResolvePosition(r.Context(), id, *req.Winner)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "manual resolve failed",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, code, err.Error())
		return
	}

	h.logger.InfoContext(r.Context(), "position resolved manually",
		slog.String("id", id),
		slog.Bool("winner", *req.Winner),
		slog.Float64("pnl", pnl),
	)
	writeJSON(w, http.StatusOK, resolveResponse{Position: pos, PnL: pnl})
}

type statsResponse struct {
	Stats    domain.TradingStats `json:"stats"`
	Exposure float64             `json:"exposure"`
	DailyPnL float64             `json:"daily_pnl"`
	Open     int                 `json:"open_positions"`
	Pending  int                 `json:"pending_positions"`
}

// GetStats returns aggregate trading statistics.
// GET /api/stats
func (h *PositionHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Stats:    h.ledger.Stats(),
		Exposure: h.ledger.Exposure(),
		DailyPnL: h.ledger.DailyPnL(),
		Open:     len(h.ledger.Positions(domain.PositionStatusOpen)),
		Pending:  len(h.ledger.Positions(domain.PositionStatusPendingResolution)),
	})
}
