package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidOrder     = errors.New("invalid order parameters")
	ErrSigningFailed    = errors.New("signing failed")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrFeedExhausted    = errors.New("feed reconnect attempts exhausted")
	ErrLockHeld         = errors.New("lock already held")
	ErrNotAuthenticated = errors.New("venue link not authenticated for trading")
	ErrInvalidSize      = errors.New("computed order size is not positive")
	ErrTradeNotMatched  = errors.New("trade is not matched")
	ErrPositionNotOpen  = errors.New("position is not open")
)
