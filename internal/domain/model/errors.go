package model

import "errors"

// ErrNotFound is wrapped by every store when a row does not exist.
var ErrNotFound = errors.New("not found")
