package domain

import "errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("seat already held")
	ErrInvalidInput         = errors.New("invalid input")
	ErrNoActiveHold         = errors.New("no active hold")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrMalformedEvent       = errors.New("malformed expiry event")
)
