package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyClosed   = errors.New("position already closed")
	ErrNoRoute         = errors.New("no swap route")
	ErrFeedUnavailable = errors.New("feed unavailable")
	ErrSubmitFailed    = errors.New("transaction submit failed")
	ErrNotConfirmed    = errors.New("transaction not confirmed")
)
