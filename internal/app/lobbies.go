package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/ranklobby/internal/adapters/repository"
	"github.com/okian/ranklobby/internal/adapters/session"
	"github.com/okian/ranklobby/internal/adapters/upstream"
	"github.com/okian/ranklobby/internal/adapters/ws"
	"github.com/okian/ranklobby/internal/domain/division"
	"github.com/okian/ranklobby/internal/domain/lobby"
	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/internal/domain/router"
	"github.com/okian/ranklobby/pkg/logger"
)

// Sentinel errors of lobby management.
var (
	ErrSessionExists  = errors.New("session already attached")
	ErrUnknownSession = errors.New("unknown session")
	ErrNoLobby        = errors.New("no lobby fits this player")
)

// AttachRequest adopts an existing game session as a lobby.
type AttachRequest struct {
	SessionID string
	Players   []model.Player
	Settings  lobby.Settings
}

// Attach starts a lobby over a session created outside the service.
func (s *Service) Attach(ctx context.Context, req AttachRequest) (lobby.Snapshot, error) {
	if !s.running() {
		return lobby.Snapshot{}, ErrNotStarted
	}
	if req.SessionID == "" {
		return lobby.Snapshot{}, fmt.Errorf("%w: empty session id", ErrUnknownSession)
	}
	if req.Settings.Mode == "" {
		req.Settings.Mode = s.defaultMode
	}
	s.mu.Lock()
	if _, ok := s.sessions[req.SessionID]; ok {
		s.mu.Unlock()
		return lobby.Snapshot{}, ErrSessionExists
	}
	l := s.newLobbyLocked(session.New(req.SessionID, s.pub, req.Players...), req.Settings)
	s.mu.Unlock()
	s.logger.Info(ctx, "session attached", logger.String("session_id", req.SessionID), logger.String("lobby_id", l.ID()))
	return l.Snapshot(), nil
}

// Spawn opens a new owned lobby when the router asks for one.
func (s *Service) Spawn(ctx context.Context) (lobby.Snapshot, error) {
	if !s.running() {
		return lobby.Snapshot{}, ErrNotStarted
	}
	if s.factory == nil {
		return lobby.Snapshot{}, router.ErrNoFactory
	}
	m, err := s.router.Spawn(ctx, func(ctx context.Context) (router.Member, error) {
		sess, err := s.factory.Create(ctx, "ranklobby")
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.newLobbyLocked(sess, lobby.Settings{Mode: s.defaultMode, Owned: true}), nil
	})
	if err != nil {
		return lobby.Snapshot{}, err
	}
	return m.Snapshot(), nil
}

// newLobbyLocked builds, registers and runs a lobby. s.mu must be held.
func (s *Service) newLobbyLocked(sess lobby.Session, settings lobby.Settings) *lobby.Lobby {
	deps := lobby.Deps{
		Selector: s.index,
		Results:  s,
		Ranks:    s,
		Placer:   s.router,
		Detacher: s.router,
		Observer: s,
	}
	if s.metadata != nil {
		deps.Guard = s
	}
	if s.reports == nil {
		deps.Results = nil
	}
	l := lobby.New(sess, settings, deps,
		lobby.WithConfig(s.lobbyConfig),
		lobby.WithFatal(s.fatal),
		lobby.WithLogger(s.logger.Named("lobby")),
	)
	id := sess.ID()
	s.sessions[id] = l
	s.router.Register(l)

	s.lobbyWG.Add(1)
	go func() {
		defer s.lobbyWG.Done()
		if err := l.Run(s.runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error(s.runCtx, "lobby stopped", logger.String("lobby_id", l.ID()), logger.Error(err))
		}
		s.mu.Lock()
		if s.sessions[id] == l {
			delete(s.sessions, id)
		}
		s.mu.Unlock()
	}()
	return l
}

// Deliver posts a session event to the lobby running that session.
func (s *Service) Deliver(ctx context.Context, sessionID string, ev lobby.Event) error {
	s.mu.RLock()
	l, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return l.Post(ctx, ev)
}

// SessionLobby returns the lobby running sessionID.
func (s *Service) SessionLobby(sessionID string) (lobby.Snapshot, bool) {
	s.mu.RLock()
	l, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return lobby.Snapshot{}, false
	}
	return l.Snapshot(), true
}

// Lobbies lists every live lobby.
func (s *Service) Lobbies() []lobby.Snapshot {
	if !s.running() {
		return nil
	}
	return s.router.Snapshots()
}

// Lobby returns one lobby by id.
func (s *Service) Lobby(id string) (lobby.Snapshot, bool) {
	if !s.running() {
		return lobby.Snapshot{}, false
	}
	m, ok := s.router.Get(id)
	if !ok {
		return lobby.Snapshot{}, false
	}
	return m.Snapshot(), true
}

// Place finds the best lobby for a player, spawning one first when every
// owned lobby is full. A freshly spawned lobby is the fallback when no
// populated lobby fits.
func (s *Service) Place(ctx context.Context, p model.Player) (lobby.Snapshot, error) {
	if !s.running() {
		return lobby.Snapshot{}, ErrNotStarted
	}
	var spawned *lobby.Snapshot
	if s.factory != nil && s.router.ShouldSpawn() {
		snap, err := s.Spawn(ctx)
		switch {
		case err == nil:
			spawned = &snap
		case !errors.Is(err, router.ErrAtCapacity):
			s.logger.Warn(ctx, "spawn failed", logger.Error(err))
		}
	}
	if m, ok := s.router.Place(p); ok {
		return m.Snapshot(), nil
	}
	if spawned != nil {
		return *spawned, nil
	}
	return lobby.Snapshot{}, ErrNoLobby
}

// Player resolves the matchmaking view of a player: the stored skill
// profile plus the current elo.
func (s *Service) Player(ctx context.Context, id int64, name string, mode model.Mode) (model.Player, error) {
	p, err := s.catalog.PlayerProfile(ctx, id, mode)
	switch {
	case errors.Is(err, model.ErrNotFound):
		p = model.Player{ID: id, Mode: mode}
	case err != nil:
		return model.Player{}, err
	}
	if name != "" {
		p.Name = name
	}
	r, err := s.ratings.GetRating(ctx, model.RatingKey{Kind: model.KindPlayer, ID: id, Mode: mode})
	switch {
	case errors.Is(err, model.ErrNotFound):
		p.Elo = model.NewRating(model.RatingKey{}).Elo()
	case err != nil:
		return model.Player{}, err
	default:
		p.Elo = r.Elo()
	}
	return p, nil
}

// LobbyChanged implements lobby.Observer.
func (s *Service) LobbyChanged(snap lobby.Snapshot) {
	if s.router != nil {
		s.router.LobbyChanged(snap)
	}
	s.pub.Publish(ws.TopicLobbies, "snapshot", snap)
}

// Available implements lobby.ContentGuard.
func (s *Service) Available(ctx context.Context, contentID int64) (bool, string, error) {
	md, err := upstream.Retry(ctx, acquireAttempts, s.reportDelay, func(ctx context.Context) (upstream.Metadata, error) {
		return s.metadata.FetchAttributes(ctx, contentID)
	}, upstream.ErrTransient)
	if errors.Is(err, upstream.ErrNotFound) {
		return false, "deleted upstream", nil
	}
	if err != nil {
		return true, "", err
	}
	return !md.Availability.DownloadDisabled, md.Availability.MoreInformation, nil
}

// MarkUnavailable implements lobby.ContentGuard.
func (s *Service) MarkUnavailable(ctx context.Context, contentID int64) error {
	return s.catalog.MarkUnavailable(ctx, contentID)
}

// Rank implements lobby.RankLookup.
func (s *Service) Rank(ctx context.Context, playerID int64, mode model.Mode) (lobby.RankInfo, error) {
	if !s.running() {
		return lobby.RankInfo{}, ErrNotStarted
	}
	r, err := s.ratings.GetRating(ctx, model.RatingKey{Kind: model.KindPlayer, ID: playerID, Mode: mode})
	if errors.Is(err, model.ErrNotFound) {
		return lobby.RankInfo{Tier: division.Unranked}, nil
	}
	if err != nil {
		return lobby.RankInfo{}, err
	}
	info := lobby.RankInfo{Tier: r.Tier, Elo: r.Elo(), Games: r.Observations}
	if info.Tier == "" {
		info.Tier = division.Unranked
	}
	st, err := s.ranking.Standing(ctx, mode, playerID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return lobby.RankInfo{}, err
	default:
		info.Rank = st.Rank
	}
	return info, nil
}

// Leaderboard returns the best n players of mode.
func (s *Service) Leaderboard(ctx context.Context, mode model.Mode, n int) ([]repository.Entry, error) {
	if !s.running() {
		return nil, ErrNotStarted
	}
	return s.ranking.TopN(ctx, mode, n)
}
