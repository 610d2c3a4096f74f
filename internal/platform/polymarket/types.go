package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

// flexBool decodes a JSON bool or a "true"/"false" string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat decodes a JSON number or a numeric string. Empty and null
// decode to zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket is a market as returned by the Gamma API. Outcomes,
// OutcomePrices and ClobTokenIDs are JSON arrays encoded as strings.
type APIMarket struct {
	ID            string     `json:"id"`
	Question      string     `json:"question"`
	ConditionID   string     `json:"conditionId"`
	Slug          string     `json:"slug"`
	EndDate       string     `json:"endDate"`
	EndDateISO    string     `json:"endDateIso"`
	Liquidity     flexFloat  `json:"liquidity"`
	Volume        flexFloat  `json:"volume"`
	Active        flexBool   `json:"active"`
	Closed        flexBool   `json:"closed"`
	Archived      flexBool   `json:"archived"`
	NegRisk       flexBool   `json:"negRisk"`
	Outcomes      string     `json:"outcomes"`
	OutcomePrices string     `json:"outcomePrices"`
	ClobTokenIDs  string     `json:"clobTokenIds"`
	Tokens        []APIToken `json:"tokens"`
}

// APIToken is the token form some endpoints embed directly.
type APIToken struct {
	TokenID string    `json:"token_id"`
	Outcome string    `json:"outcome"`
	Price   flexFloat `json:"price"`
	Winner  bool      `json:"winner"`
}

// ToDomainMarket converts the DTO. Tokens are zipped from the encoded
// arrays; an embedded tokens list, when present, supplies winner flags.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:          m.ID,
		ConditionID: m.ConditionID,
		Question:    m.Question,
		Slug:        m.Slug,
		EndTime:     parseEndTime(m.EndDate, m.EndDateISO),
		Liquidity:   float64(m.Liquidity),
		Volume:      float64(m.Volume),
		Active:      bool(m.Active),
		Closed:      bool(m.Closed),
		Archived:    bool(m.Archived),
		NegRisk:     bool(m.NegRisk),
	}

	ids := decodeStringArray(m.ClobTokenIDs)
	outcomes := decodeStringArray(m.Outcomes)
	prices := decodeStringArray(m.OutcomePrices)

	embedded := make(map[string]APIToken, len(m.Tokens))
	for _, t := range m.Tokens {
		embedded[t.TokenID] = t
	}

	for i, id := range ids {
		tok := domain.Token{ID: id}
		if i < len(outcomes) {
			tok.Outcome = outcomes[i]
		}
		if i < len(prices) {
			tok.Price, _ = strconv.ParseFloat(prices[i], 64)
		}
		if e, ok := embedded[id]; ok {
			tok.Winner = e.Winner
			if tok.Outcome == "" {
				tok.Outcome = e.Outcome
			}
		}
		dm.Tokens = append(dm.Tokens, tok)
	}

	if len(ids) == 0 {
		for _, t := range m.Tokens {
			dm.Tokens = append(dm.Tokens, domain.Token{
				ID:      t.TokenID,
				Outcome: t.Outcome,
				Price:   float64(t.Price),
				Winner:  t.Winner,
			})
		}
	}
	return dm
}

func decodeStringArray(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func parseEndTime(values ...string) time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC()
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIPriceLevel is one book level; the CLOB sends decimals as strings.
type APIPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookResponse is the body of GET /book.
type BookResponse struct {
	Market       string          `json:"market"`
	AssetID      string          `json:"asset_id"`
	Bids         []APIPriceLevel `json:"bids"`
	Asks         []APIPriceLevel `json:"asks"`
	Hash         string          `json:"hash"`
	Timestamp    string          `json:"timestamp"`
	MinOrderSize flexFloat       `json:"min_order_size"`
	TickSize     flexFloat       `json:"tick_size"`
	NegRisk      bool            `json:"neg_risk"`
}

// ToDomainSnapshot converts the book. Unparseable levels are skipped.
func (b *BookResponse) ToDomainSnapshot(now time.Time) domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{
		AssetID:      b.AssetID,
		MarketID:     b.Market,
		Bids:         toLevels(b.Bids),
		Asks:         toLevels(b.Asks),
		MinOrderSize: float64(b.MinOrderSize),
		TickSize:     float64(b.TickSize),
		Timestamp:    now,
	}
	if ms, err := strconv.ParseInt(b.Timestamp, 10, 64); err == nil && ms > 0 {
		snap.Timestamp = time.UnixMilli(ms).UTC()
	}
	return snap
}

func toLevels(in []APIPriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, lvl := range in {
		p, err1 := strconv.ParseFloat(lvl.Price, 64)
		s, err2 := strconv.ParseFloat(lvl.Size, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// APIOrder is the order object inside a POST /order body.
type APIOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// PostOrderRequest is the POST /order body.
type PostOrderRequest struct {
	Order     APIOrder `json:"order"`
	Owner     string   `json:"owner"`
	OrderType string   `json:"orderType"`
}

// APIOrderResult is the response to POST /order.
type APIOrderResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg,omitempty"`
	OrderID  string `json:"orderID,omitempty"`
	Status   string `json:"status,omitempty"`
}

// ToDomainOrderResult converts the response. Only a filled order counts as
// success; a FOK order that rests or is delayed did not fill.
func (r *APIOrderResult) ToDomainOrderResult() domain.OrderResult {
	res := domain.OrderResult{
		OrderID: r.OrderID,
		Status:  r.Status,
		Message: r.ErrorMsg,
	}
	switch strings.ToLower(r.Status) {
	case "matched", "mined", "confirmed":
		res.Success = r.Success
	case "":
		res.Success = r.Success && r.OrderID != ""
	default:
		if res.Message == "" {
			res.Message = "order " + strings.ToLower(r.Status)
		}
	}
	return res
}

// APIKeyResponse is returned by the API-key derivation endpoints.
type APIKeyResponse struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}
