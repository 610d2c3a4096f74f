package domain

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill
)

// OrderRequest is what the executor asks the venue to place.
type OrderRequest struct {
	TokenID string
	Side    OrderSide
	Price   float64
	Size    float64
	Type    OrderType
	NegRisk bool
}

// OrderResult wraps the venue response after order submission.
type OrderResult struct {
	Success bool
	OrderID string
	Status  string
	Message string
}
