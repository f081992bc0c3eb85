package pool

import "errors"

var (
	// ErrExhausted means no content matches the lobby's filters.
	ErrExhausted = errors.New("no candidate content")
	// ErrInvalidFilter means a filter names an unknown field or an empty range.
	ErrInvalidFilter = errors.New("invalid filter")
)
