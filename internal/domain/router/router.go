// Package router places players into the lobby closest to their skill and
// decides when the service should open another lobby.
package router

import (
	"context"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/okian/ranklobby/internal/domain/lobby"
	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/pkg/logger"
	"github.com/okian/ranklobby/pkg/metrics"
)

// Member is the part of a lobby the router needs.
type Member interface {
	ID() string
	Snapshot() lobby.Snapshot
}

// Router scans published lobby snapshots. It never touches lobby state.
type Router struct {
	cfg settings
	log logger.Logger

	mu      sync.RWMutex
	members map[string]Member

	spawn singleflight.Group
}

// New builds an empty router.
func New(opts ...Option) *Router {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Get().Named("router")
	}
	return &Router{
		cfg:     cfg,
		log:     cfg.logger,
		members: make(map[string]Member),
	}
}

// Register adds m to the candidate set.
func (r *Router) Register(m Member) {
	r.mu.Lock()
	r.members[m.ID()] = m
	r.mu.Unlock()
	r.refreshGauges()
}

// Detach removes a lobby. Once it returns, Place never returns that lobby.
func (r *Router) Detach(id string) {
	r.mu.Lock()
	delete(r.members, id)
	r.mu.Unlock()
	r.refreshGauges()
}

// Get returns a registered lobby.
func (r *Router) Get(id string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	return m, ok
}

// Snapshots lists every registered lobby ordered by id.
func (r *Router) Snapshots() []lobby.Snapshot {
	r.mu.RLock()
	out := make([]lobby.Snapshot, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.Snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Place returns the open lobby whose aggregate is closest to p.
func (r *Router) Place(p model.Player) (Member, bool) {
	return r.place(p, "")
}

// Suggest is Place without the lobby named by exclude. Lobbies call it to
// point rejected players elsewhere.
func (r *Router) Suggest(p model.Player, exclude string) (lobby.Snapshot, bool) {
	m, ok := r.place(p, exclude)
	if !ok {
		return lobby.Snapshot{}, false
	}
	return m.Snapshot(), true
}

func (r *Router) place(p model.Player, exclude string) (Member, bool) {
	stars := p.Skill.Stars * r.cfg.difficultyModifier

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best     Member
		bestID   string
		bestDist = math.Inf(1)
	)
	for id, m := range r.members {
		if id == exclude {
			continue
		}
		s := m.Snapshot()
		if !r.eligible(s, p.Skill.IsZero(), stars) {
			continue
		}
		d := distance(p, s, r.cfg.difficultyModifier)
		if d < bestDist || (d == bestDist && id < bestID) {
			best, bestID, bestDist = m, id, d
		}
	}
	if best == nil {
		metrics.RecordPlacement("none")
		return nil, false
	}
	metrics.RecordPlacement("placed")
	r.log.Debug(context.Background(), "player placed",
		logger.Int64("player_id", p.ID),
		logger.String("lobby_id", bestID),
		logger.Float64("distance", bestDist))
	return best, true
}

// eligible skips the star range for players without a skill estimate; their
// distance falls back to elo.
func (r *Router) eligible(s lobby.Snapshot, unrated bool, stars float64) bool {
	if s.Closed() || s.Occupancy >= s.Capacity {
		return false
	}
	if s.Occupancy == 0 && !r.cfg.allowEmpty {
		return false
	}
	return unrated || s.InRange(stars)
}

// distance compares skill vectors, falling back to elo for players without
// a skill estimate.
func distance(p model.Player, s lobby.Snapshot, mod float64) float64 {
	if p.Skill.IsZero() || s.Aggregate.IsZero() {
		return math.Abs(p.Elo - s.AggregateElo)
	}
	return p.Skill.Scale(mod).Distance(s.Aggregate)
}

// ShouldSpawn reports whether every owned lobby is full and the owned cap
// still allows another one.
func (r *Router) ShouldSpawn() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owned, free := 0, 0
	for _, m := range r.members {
		s := m.Snapshot()
		if !s.Owned || s.Closed() {
			continue
		}
		owned++
		free += s.Free()
	}
	return free == 0 && owned < r.cfg.maxOwned
}

// Owned counts open lobbies the service created.
func (r *Router) Owned() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, m := range r.members {
		if s := m.Snapshot(); s.Owned && !s.Closed() {
			n++
		}
	}
	return n
}

// Spawn runs create at most once at a time and registers its result.
// Concurrent callers share the in-flight result.
func (r *Router) Spawn(ctx context.Context, create func(ctx context.Context) (Member, error)) (Member, error) {
	v, err, shared := r.spawn.Do("spawn", func() (any, error) {
		if !r.ShouldSpawn() {
			return nil, ErrAtCapacity
		}
		m, err := create(ctx)
		if err != nil {
			metrics.RecordErrorByComponent("router", "spawn")
			return nil, err
		}
		r.Register(m)
		r.log.Info(ctx, "lobby spawned", logger.String("lobby_id", m.ID()))
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.log.Debug(ctx, "joined in-flight spawn")
	}
	return v.(Member), nil
}

// LobbyChanged keeps the lobby gauges current.
func (r *Router) LobbyChanged(lobby.Snapshot) { r.refreshGauges() }

func (r *Router) refreshGauges() {
	r.mu.RLock()
	lobbies, players := 0, 0
	for _, m := range r.members {
		s := m.Snapshot()
		if s.Closed() {
			continue
		}
		lobbies++
		players += s.Occupancy
	}
	r.mu.RUnlock()
	metrics.UpdateLobbies(lobbies, players)
}
