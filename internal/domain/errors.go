package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidOrder     = errors.New("invalid order parameters")
	ErrUnknownFeeTier   = errors.New("unknown fee tier")
	ErrEmptyBook        = errors.New("orderbook has an empty side")
	ErrCrossedBook      = errors.New("orderbook is crossed")
	ErrMalformedBook    = errors.New("malformed orderbook")
	ErrMalformedMessage = errors.New("malformed feed message")
	ErrStaleSnapshot    = errors.New("orderbook snapshot older than the last one")
	ErrWSDisconnect     = errors.New("websocket disconnected")
)
