package lobby

import (
	"context"

	"github.com/okian/ranklobby/internal/domain/model"
)

// Session is the game-server side of one lobby.
type Session interface {
	ID() string
	// Participants lists players already in the session when it is attached.
	Participants(ctx context.Context) ([]model.Player, error)
	Send(ctx context.Context, text string) error
	// Notify sends a private message to one player.
	Notify(ctx context.Context, playerID int64, text string) error
	Kick(ctx context.Context, playerID int64) error
	StartMatch(ctx context.Context) error
	AbortMatch(ctx context.Context) error
	SetContent(ctx context.Context, item model.ContentItem, mods model.Mods) error
	Rename(ctx context.Context, name string) error
	Close(ctx context.Context) error
}

// Factory opens new sessions for spawned lobbies.
type Factory interface {
	Create(ctx context.Context, name string) (Session, error)
}
