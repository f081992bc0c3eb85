// Package session bridges lobbies to an external game server that consumes
// commands over the websocket hub and reports events over HTTP.
package session

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/okian/ranklobby/internal/adapters/ws"
	"github.com/okian/ranklobby/internal/domain/lobby"
	"github.com/okian/ranklobby/internal/domain/model"
)

// ErrClosed is returned by commands on a closed session.
var ErrClosed = errors.New("session closed")

// Publisher delivers one command frame.
type Publisher interface {
	Publish(topic, typ string, data any)
}

// Command types sent to the game server.
const (
	CmdCreate     = "create"
	CmdSend       = "send"
	CmdNotify     = "notify"
	CmdKick       = "kick"
	CmdStart      = "start_match"
	CmdAbort      = "abort_match"
	CmdSetContent = "set_content"
	CmdRename     = "rename"
	CmdClose      = "close"
)

// Frame is the payload of every command.
type Frame struct {
	SessionID string     `json:"session_id"`
	PlayerID  int64      `json:"player_id,omitempty"`
	Text      string     `json:"text,omitempty"`
	ContentID int64      `json:"content_id,omitempty"`
	Mods      model.Mods `json:"mods,omitempty"`
}

// Bridge is a lobby.Session over a Publisher.
type Bridge struct {
	id  string
	pub Publisher

	mu      sync.Mutex
	players []model.Player
	closed  bool
}

// New attaches to an existing game session. players are already inside.
func New(id string, pub Publisher, players ...model.Player) *Bridge {
	return &Bridge{id: id, pub: pub, players: slices.Clone(players)}
}

func (b *Bridge) ID() string { return b.id }

func (b *Bridge) Participants(context.Context) ([]model.Player, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.players), nil
}

func (b *Bridge) emit(typ string, f Frame) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	f.SessionID = b.id
	b.pub.Publish(ws.TopicSessionPrefix+b.id, typ, f)
	return nil
}

func (b *Bridge) Send(_ context.Context, text string) error {
	return b.emit(CmdSend, Frame{Text: text})
}

func (b *Bridge) Notify(_ context.Context, playerID int64, text string) error {
	return b.emit(CmdNotify, Frame{PlayerID: playerID, Text: text})
}

func (b *Bridge) Kick(_ context.Context, playerID int64) error {
	return b.emit(CmdKick, Frame{PlayerID: playerID})
}

func (b *Bridge) StartMatch(context.Context) error { return b.emit(CmdStart, Frame{}) }

func (b *Bridge) AbortMatch(context.Context) error { return b.emit(CmdAbort, Frame{}) }

func (b *Bridge) SetContent(_ context.Context, item model.ContentItem, mods model.Mods) error {
	return b.emit(CmdSetContent, Frame{ContentID: item.ID, Text: item.Name, Mods: mods})
}

func (b *Bridge) Rename(_ context.Context, name string) error {
	return b.emit(CmdRename, Frame{Text: name})
}

func (b *Bridge) Close(context.Context) error {
	if err := b.emit(CmdClose, Frame{}); err != nil {
		return nil
	}
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Factory opens new game sessions by announcing them to the game server.
type Factory struct {
	pub Publisher
}

// NewFactory returns a lobby.Factory over pub.
func NewFactory(pub Publisher) *Factory { return &Factory{pub: pub} }

// Create implements lobby.Factory.
func (f *Factory) Create(_ context.Context, name string) (lobby.Session, error) {
	b := New(uuid.NewString(), f.pub)
	if err := b.emit(CmdCreate, Frame{Text: name}); err != nil {
		return nil, err
	}
	return b, nil
}
