package config

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrLoadConfig wraps file, env and decode failures.
	ErrLoadConfig = errors.New("load config failed")
	// ErrUnknownStore is returned for a rating_store other than sqlite or redis.
	ErrUnknownStore = fmt.Errorf("%w: unknown rating store", ErrInvalidConfig)
)
