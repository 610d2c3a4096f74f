package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/certaintybot/internal/crypto"
	"github.com/alanyoungcy/certaintybot/internal/domain"
)

const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func apiMarketJSON(id string, yes, no string) map[string]any {
	return map[string]any{
		"id":            id,
		"question":      "Will " + id + " happen?",
		"conditionId":   "0xcond" + id,
		"slug":          "market-" + id,
		"endDate":       "2026-03-02T00:00:00Z",
		"liquidity":     "1234.5",
		"volume":        9876.5,
		"active":        true,
		"closed":        false,
		"archived":      false,
		"negRisk":       false,
		"outcomes":      `["Yes","No"]`,
		"outcomePrices": fmt.Sprintf(`["%s","%s"]`, yes, no),
		"clobTokenIds":  fmt.Sprintf(`["%s-yes","%s-no"]`, id, id),
	}
}

func TestFetchAllMarketsPaginates(t *testing.T) {
	all := []map[string]any{
		apiMarketJSON("1", "0.97", "0.03"),
		apiMarketJSON("2", "0.5", "0.5"),
		apiMarketJSON("3", "0.2", "0.8"),
		apiMarketJSON("4", "0.99", "0.01"),
		apiMarketJSON("5", "0.6", "0.4"),
	}
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		q := r.URL.Query()
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "true", q.Get("active"))
		assert.Equal(t, "false", q.Get("closed"))
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		end := min(offset+limit, len(all))
		page := all[min(offset, len(all)):end]
		if offset == 2 {
			// market 2 shifts onto this page mid-scan
			page = append([]map[string]any{all[1]}, page[1:]...)
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, 2, time.Second)
	markets, err := g.FetchAllMarkets(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	ids := make([]string, 0, len(markets))
	for _, m := range markets {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"1", "2", "4", "5"}, ids)

	m := markets[0]
	assert.Equal(t, "Will 1 happen?", m.Question)
	assert.Equal(t, 1234.5, m.Liquidity)
	assert.Equal(t, 9876.5, m.Volume)
	assert.True(t, m.Active)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), m.EndTime)
	require.Len(t, m.Tokens, 2)
	assert.Equal(t, domain.Token{ID: "1-yes", Outcome: "Yes", Price: 0.97}, m.Tokens[0])
	assert.Equal(t, domain.Token{ID: "1-no", Outcome: "No", Price: 0.03}, m.Tokens[1])
}

func TestFetchAllMarketsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewGammaClient(srv.URL, 10, time.Second).FetchAllMarkets(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFetchMarketResolved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets/42", r.URL.Path)
		m := apiMarketJSON("42", "1", "0")
		m["closed"] = "true"
		m["tokens"] = []map[string]any{
			{"token_id": "42-yes", "outcome": "Yes", "price": 1, "winner": true},
			{"token_id": "42-no", "outcome": "No", "price": 0, "winner": false},
		}
		_ = json.NewEncoder(w).Encode(m)
	}))
	defer srv.Close()

	m, err := NewGammaClient(srv.URL, 10, time.Second).FetchMarket(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, m.Closed)
	win, ok := m.WinningToken()
	require.True(t, ok)
	assert.Equal(t, "42-yes", win.ID)
}

func TestFetchOrderBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token_id") == "missing" {
			http.Error(w, `{"error":"No orderbook exists"}`, http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{
			"market": "0xcond",
			"asset_id": "tok",
			"bids": [{"price":"0.95","size":"100"}],
			"asks": [{"price":"0.99","size":"50"},{"price":"0.97","size":"25"},{"price":"bad","size":"1"}],
			"timestamp": "1767225600000",
			"min_order_size": "5",
			"tick_size": "0.01"
		}`))
	}))
	defer srv.Close()

	c := NewClobClient(ClobConfig{BaseURL: srv.URL}, nil)
	snap, err := c.FetchOrderBook(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "tok", snap.AssetID)
	assert.Equal(t, 5.0, snap.MinOrderSize)
	assert.Equal(t, 0.01, snap.TickSize)
	assert.Len(t, snap.Asks, 2)
	ask, ok := snap.BestAsk()
	require.True(t, ok)
	assert.Equal(t, domain.PriceLevel{Price: 0.97, Size: 25}, ask)
	assert.Equal(t, time.UnixMilli(1767225600000).UTC(), snap.Timestamp)

	_, err = c.FetchOrderBook(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func newTradingClient(t *testing.T, url string) *ClobClient {
	t.Helper()
	signer, err := crypto.NewSigner(testKey, 137)
	require.NoError(t, err)
	c := NewClobClient(ClobConfig{BaseURL: url}, signer)
	c.SetCredentials(crypto.HMACAuth{Key: "api-key", Secret: "c2VjcmV0", Passphrase: "pp"})
	return c
}

func TestSubmitOrderRequiresAuth(t *testing.T) {
	c := NewClobClient(ClobConfig{BaseURL: "http://unused"}, nil)
	assert.False(t, c.IsAuthenticatedForTrading())
	_, err := c.SubmitOrder(context.Background(), domain.OrderRequest{TokenID: "t", Price: 0.97, Size: 10})
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestSubmitOrderMatched(t *testing.T) {
	var got PostOrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/order", r.URL.Path)
		assert.Equal(t, "api-key", r.Header.Get("POLY_API_KEY"))
		assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"orderID":"0xorder","status":"matched"}`))
	}))
	defer srv.Close()

	c := newTradingClient(t, srv.URL)
	require.True(t, c.IsAuthenticatedForTrading())

	res, err := c.SubmitOrder(context.Background(), domain.OrderRequest{
		TokenID: "123", Side: domain.OrderSideBuy, Price: 0.97, Size: 10, Type: domain.OrderTypeFOK,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "0xorder", res.OrderID)

	assert.Equal(t, "FOK", got.OrderType)
	assert.Equal(t, "api-key", got.Owner)
	assert.Equal(t, "BUY", got.Order.Side)
	assert.Equal(t, "9700000", got.Order.MakerAmount)
	assert.Equal(t, "10000000", got.Order.TakerAmount)
	assert.Equal(t, "123", got.Order.TokenID)
	assert.Equal(t, zeroAddress, got.Order.Taker)
	assert.NotEmpty(t, got.Order.Signature)
}

func TestSubmitOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"errorMsg":"order couldn't be fully filled. FOK orders are fully filled or killed."}`))
	}))
	defer srv.Close()

	res, err := newTradingClient(t, srv.URL).SubmitOrder(context.Background(), domain.OrderRequest{
		TokenID: "123", Side: domain.OrderSideBuy, Price: 0.97, Size: 10,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "fully filled")
}

func TestSubmitOrderInvalid(t *testing.T) {
	c := newTradingClient(t, "http://unused")
	_, err := c.SubmitOrder(context.Background(), domain.OrderRequest{TokenID: "1", Price: 1.2, Size: 10})
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = c.SubmitOrder(context.Background(), domain.OrderRequest{TokenID: "1", Price: 0.9, Size: 0.001})
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestDeriveAPIKeyFallsBackToCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
		assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", r.Header.Get("POLY_ADDRESS"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/auth/derive-api-key":
			http.Error(w, "not found", http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/auth/api-key":
			_, _ = w.Write([]byte(`{"apiKey":"k","secret":"c2VjcmV0","passphrase":"p"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	signer, err := crypto.NewSigner(testKey, 137)
	require.NoError(t, err)
	c := NewClobClient(ClobConfig{BaseURL: srv.URL}, signer)
	assert.False(t, c.IsAuthenticatedForTrading())

	require.NoError(t, c.DeriveAPIKey(context.Background()))
	assert.True(t, c.IsAuthenticatedForTrading())
}

func TestToDomainOrderResult(t *testing.T) {
	cases := []struct {
		in   APIOrderResult
		want bool
	}{
		{APIOrderResult{Success: true, OrderID: "a", Status: "matched"}, true},
		{APIOrderResult{Success: true, OrderID: "a", Status: "live"}, false},
		{APIOrderResult{Success: true, OrderID: "a", Status: "delayed"}, false},
		{APIOrderResult{Success: false, ErrorMsg: "x"}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.in.ToDomainOrderResult().Success, "%+v", tc.in)
	}
}
