package executor

import "errors"

// Hard-failure sentinels surfaced by Execute and Close. Callers match
// with errors.Is; the paired Result carries the human-readable reason.
var (
	ErrValidation         = errors.New("invalid trade intent")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrReversalFailed     = errors.New("reversal close failed")
	ErrExchangeRejected   = errors.New("exchange rejected order")
	ErrExecutionDisabled  = errors.New("execution disabled")
)
