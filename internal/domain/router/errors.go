package router

import "errors"

var (
	// ErrAtCapacity is returned by Spawn when the owned lobby cap is reached.
	ErrAtCapacity = errors.New("owned lobby limit reached")
	// ErrNoFactory is returned by Spawn without a session factory.
	ErrNoFactory = errors.New("no session factory configured")
)
