package upstream

import "errors"

var (
	// ErrNotFound means the upstream has no such content item.
	ErrNotFound = errors.New("upstream: not found")
	// ErrTransient covers timeouts, connection failures and 5xx answers.
	ErrTransient = errors.New("upstream: transient failure")
	// ErrEmptyReport means the match report is not available yet.
	ErrEmptyReport = errors.New("upstream: empty match report")
)
