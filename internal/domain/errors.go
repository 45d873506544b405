package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInsufficientCapital = errors.New("insufficient capital")
	ErrInvalidOrder        = errors.New("invalid order parameters")
	ErrUnknownVenue        = errors.New("unknown venue")
	ErrStaleQuote          = errors.New("quote exceeded freshness budget")
	ErrContextDone         = errors.New("context cancelled")
	ErrLockHeld            = errors.New("lock already held")
)
