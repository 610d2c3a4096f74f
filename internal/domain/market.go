package domain

import "time"

// Token is one outcome of a market. Price is the last known price in [0,1];
// Winner is only meaningful once the market has resolved.
type Token struct {
	ID      string  `json:"id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
	Winner  bool    `json:"winner"`
}

// Market is an immutable snapshot of a venue market. Each scan replaces the
// whole value; fields are never patched individually.
type Market struct {
	ID          string    `json:"id"`
	ConditionID string    `json:"condition_id,omitempty"`
	Question    string    `json:"question"`
	Slug        string    `json:"slug,omitempty"`
	EndTime     time.Time `json:"end_time"`
	Liquidity   float64   `json:"liquidity"`
	Volume      float64   `json:"volume"`
	Active      bool      `json:"active"`
	Closed      bool      `json:"closed"`
	Archived    bool      `json:"archived"`
	NegRisk     bool      `json:"neg_risk,omitempty"`
	Tokens      []Token   `json:"tokens"`
}

// TimeToEnd returns the duration between now and the market end time.
// It is zero or negative for markets without an end time or already past it.
func (m Market) TimeToEnd(now time.Time) time.Duration {
	if m.EndTime.IsZero() {
		return 0
	}
	return m.EndTime.Sub(now)
}

// HighestToken returns the token with the maximum price. Ties go to the
// first token encountered. ok is false when the market has no tokens.
func (m Market) HighestToken() (tok Token, ok bool) {
	for i, t := range m.Tokens {
		if i == 0 || t.Price > tok.Price {
			tok = t
		}
	}
	return tok, len(m.Tokens) > 0
}

// TokenByID finds a token of this market.
func (m Market) TokenByID(id string) (Token, bool) {
	for _, t := range m.Tokens {
		if t.ID == id {
			return t, true
		}
	}
	return Token{}, false
}

// WinningToken returns the resolved winner, if the venue has declared one.
func (m Market) WinningToken() (Token, bool) {
	for _, t := range m.Tokens {
		if t.Winner {
			return t, true
		}
	}
	return Token{}, false
}

// WatchedMarket is a market the scanner currently considers eligible.
type WatchedMarket struct {
	Market       Market    `json:"market"`
	AddedAt      time.Time `json:"added_at"`
	HighestToken Token     `json:"highest_token"`
}
