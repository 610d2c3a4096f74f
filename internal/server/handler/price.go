package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

// PriceHandler serves cached prices and books.
type PriceHandler struct {
	prices domain.PriceCache
	books  domain.OrderbookCache
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler. Either cache may be nil.
func NewPriceHandler(prices domain.PriceCache, books domain.OrderbookCache, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{
		prices: prices,
		books:  books,
		logger: logHandler(logger, "prices"),
	}
}

type priceResponse struct {
	AssetID   string                    `json:"asset_id"`
	Price     *float64                  `json:"price,omitempty"`
	UpdatedAt *time.Time                `json:"updated_at,omitempty"`
	Book      *domain.OrderbookSnapshot `json:"book,omitempty"`
}

// GetPrice returns the last observed price and evaluated book for an asset.
// GET /api/prices/{assetID}
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	if h.prices == nil && h.books == nil {
		writeError(w, http.StatusServiceUnavailable, "price cache not configured")
		return
	}
	assetID := r.PathValue("assetID")
	resp := priceResponse{AssetID: assetID}

	if h.prices != nil {
		price, ts, err := h.prices.GetPrice(r.Context(), assetID)
		switch {
		case err == nil:
			resp.Price, resp.UpdatedAt = &price, &ts
		case !errors.Is(err, domain.ErrNotFound):
			h.logger.ErrorContext(r.Context(), "price lookup failed", slog.String("asset_id", assetID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "price lookup failed")
			return
		}
	}
	if h.books != nil {
		snap, err := h.books.GetSnapshot(r.Context(), assetID)
		switch {
		case err == nil:
			resp.Book = &snap
		case !errors.Is(err, domain.ErrNotFound):
			h.logger.ErrorContext(r.Context(), "book lookup failed", slog.String("asset_id", assetID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "book lookup failed")
			return
		}
	}

	if resp.Price == nil && resp.Book == nil {
		writeError(w, http.StatusNotFound, "no cached data for asset")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
