package lobby

import "errors"

var (
	// ErrClosed is returned when posting to a lobby that already shut down.
	ErrClosed = errors.New("lobby closed")
	// ErrProtocolDesync means the session layer saw a join that never
	// arrived as a Joined event. The process cannot recover from it.
	ErrProtocolDesync = errors.New("session layer did not confirm a join")
)
