package domain

import "time"

// Opportunity is a detected chance to buy a near-certain outcome below its
// settlement value. It is consumed at most once by the executor.
type Opportunity struct {
	MarketID       string    `json:"market_id"`
	TokenID        string    `json:"token_id"`
	Outcome        string    `json:"outcome"`
	Question       string    `json:"question,omitempty"`
	NegRisk        bool      `json:"neg_risk,omitempty"`
	AskPrice       float64   `json:"ask_price"`
	AskSize        float64   `json:"ask_size"`
	ExpectedProfit float64   `json:"expected_profit"`
	Confidence     float64   `json:"confidence"`
	DetectedAt     time.Time `json:"detected_at"`
}

// Age reports how long ago the opportunity was detected.
func (o Opportunity) Age(now time.Time) time.Duration {
	return now.Sub(o.DetectedAt)
}
