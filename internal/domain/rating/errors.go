package rating

import "errors"

// Sentinel errors for the rating engine.
var (
	// ErrInvalidOutcome means outcome ids are not strictly increasing past the entity's cutoff.
	ErrInvalidOutcome = errors.New("invalid outcome")
	// ErrUnknownEntity means the rating row does not exist.
	ErrUnknownEntity = errors.New("unknown rating entity")
)
