package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyProcessed    = errors.New("already processed")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidOrder        = errors.New("invalid order parameters")
	ErrUnknownSide         = errors.New("unknown share side")
	ErrUnknownNetwork      = errors.New("unknown network")
	ErrTxReverted          = errors.New("transaction reverted")
	ErrConfirmationTimeout = errors.New("confirmation timed out")
	ErrLockHeld            = errors.New("lock already held")
)
