// Package lobby runs one skill-matched lobby as an actor: a goroutine that
// owns all lobby state and processes its mailbox in arrival order.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/internal/domain/pool"
	"github.com/okian/ranklobby/pkg/logger"
	"github.com/okian/ranklobby/pkg/metrics"
)

const titleSuffix = "ranklobby | Auto map select (!about)"

// Lobby is one live session managed by the matchmaking engine. Every field
// below mailbox is owned by the actor goroutine.
type Lobby struct {
	id       string
	sess     Session
	settings Settings
	cfg      Config
	deps     Deps
	sched    Scheduler
	fatal    func(error)
	log      logger.Logger

	mailbox   chan Event
	done      chan struct{}
	closeOnce sync.Once
	snap      atomic.Pointer[Snapshot]
	// bg tracks off-actor work so shutdown can wait for it.
	bg     sync.WaitGroup
	bgCtx  context.Context
	bgStop context.CancelFunc

	state      State
	name       string
	players    map[int64]model.Player
	order      []int64
	banned     map[int64]struct{}
	window     *pool.RecentWindow
	aggregate  model.SkillVector
	medianElo  float64
	minStars   float64
	maxStars   float64
	fixedStars bool
	content    *pool.Selection

	kicks  kickVotes
	skips  voterSet
	aborts voterSet

	confirmed       map[int64]model.Player
	scored          map[int64]struct{}
	startedAt       time.Time
	lastReadyNotice time.Time
	resolving       int

	timers map[timerKey]*timerHandle
	gen    uint64
}

// New builds a lobby over sess. Call Run to start it.
func New(sess Session, settings Settings, deps Deps, opts ...Option) *Lobby {
	l := &Lobby{
		id:       uuid.NewString(),
		sess:     sess,
		settings: settings,
		cfg:      DefaultConfig(),
		deps:     deps,
		sched:    RealScheduler(),
		fatal:    func(error) {},
		done:     make(chan struct{}),
		players:  make(map[int64]model.Player),
		banned:   make(map[int64]struct{}),
		kicks:    kickVotes{},
		skips:    voterSet{},
		aborts:   voterSet{},
		timers:   make(map[timerKey]*timerHandle),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.Get().Named("lobby")
	}
	if l.cfg.MailboxSize <= 0 {
		l.cfg.MailboxSize = DefaultConfig().MailboxSize
	}
	if l.cfg.Capacity <= 0 {
		l.cfg.Capacity = DefaultConfig().Capacity
	}
	if l.settings.Algorithm == "" {
		l.settings.Algorithm = pool.AlgorithmSkill
	}
	if l.settings.RankedStates == nil {
		l.settings.RankedStates = model.DefaultRankedStates
	}
	l.mailbox = make(chan Event, l.cfg.MailboxSize)
	l.window = pool.NewRecentWindow(l.cfg.RecentWindow)
	l.log = l.log.With(logger.String("lobby_id", l.id))
	l.bgCtx, l.bgStop = context.WithCancel(context.Background())

	l.fixedStars = settings.FixedStars
	l.minStars, l.maxStars = DefaultMinStars, DefaultMaxStars
	if settings.FixedStars {
		l.minStars, l.maxStars = settings.MinStars, settings.MaxStars
	}
	l.name = l.title()
	l.publish()
	return l
}

// ID returns the lobby id.
func (l *Lobby) ID() string { return l.id }

// Snapshot returns the last published view. Safe from any goroutine.
func (l *Lobby) Snapshot() Snapshot { return *l.snap.Load() }

// Done is closed once the actor exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Post delivers ev to the mailbox, blocking while it is full.
func (l *Lobby) Post(ctx context.Context, ev Event) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.mailbox <- ev:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post is used by timers and background work.
func (l *Lobby) post(ev Event) {
	select {
	case l.mailbox <- ev:
	case <-l.done:
	}
}

// Run processes events until Close or ctx cancellation. Existing session
// participants are loaded first.
func (l *Lobby) Run(ctx context.Context) error {
	metrics.RecordLobbyEvent("open")
	if ps, err := l.sess.Participants(ctx); err != nil {
		l.log.Warn(ctx, "could not list session participants", logger.Error(err))
	} else {
		for _, p := range ps {
			l.handleJoined(ctx, p)
		}
	}
	if len(l.players) == 0 && l.settings.Owned {
		l.selectContent(ctx, "created")
	}

	for {
		select {
		case <-ctx.Done():
			l.shutdown(context.WithoutCancel(ctx), "context cancelled")
			return ctx.Err()
		case ev := <-l.mailbox:
			if l.handle(ctx, ev) {
				return nil
			}
		}
	}
}

// handle dispatches one event. It reports true once the lobby closed.
func (l *Lobby) handle(ctx context.Context, ev Event) bool {
	switch e := ev.(type) {
	case Joined:
		l.handleJoined(ctx, e.Player)
	case Left:
		l.handleLeft(ctx, e.PlayerID)
	case JoinNotice:
		l.handleJoinNotice(ctx, e)
	case AllReady:
		l.handleAllReady(ctx)
	case MatchStarted:
		l.handleMatchStarted(ctx)
	case MatchFinished:
		l.handleMatchFinished(ctx, e)
	case InMatchScore:
		l.handleScore(ctx, e)
	case Command:
		l.handleCommand(ctx, e)
	case timerFired:
		l.handleTimer(ctx, e)
	case reportDone:
		l.handleReportDone(ctx, e)
	case availabilityChecked:
		l.handleAvailability(ctx, e)
	case Close:
		l.shutdown(ctx, e.Reason)
		return true
	default:
		l.log.Warn(ctx, "unknown event", logger.String("type", fmt.Sprintf("%T", ev)))
	}
	if l.state != StateClosed {
		l.publish()
	}
	return false
}

func (l *Lobby) shutdown(ctx context.Context, reason string) {
	l.closeOnce.Do(func() {
		if l.deps.Detacher != nil {
			l.deps.Detacher.Detach(l.id)
		}
		l.cancelAll()
		l.state = StateClosed
		l.publish()
		close(l.done)
		l.bgStop()

		if err := l.sess.Close(ctx); err != nil {
			l.log.Warn(ctx, "session close failed", logger.Error(err))
		}
		l.bg.Wait()
		metrics.RecordLobbyEvent("close")
		l.log.Info(ctx, "lobby closed", logger.String("reason", reason))
	})
}

// spawn runs f off the actor and routes its result back through the mailbox.
func (l *Lobby) spawn(f func(ctx context.Context) Event) {
	l.bg.Add(1)
	go func() {
		defer l.bg.Done()
		if ev := f(l.bgCtx); ev != nil {
			l.post(ev)
		}
	}()
}

func (l *Lobby) send(ctx context.Context, text string) {
	if err := l.sess.Send(ctx, text); err != nil {
		l.log.Warn(ctx, "send failed", logger.Error(err))
	}
}

func (l *Lobby) playerName(id int64) string {
	if p, ok := l.players[id]; ok && p.Name != "" {
		return p.Name
	}
	if p, ok := l.confirmed[id]; ok && p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("#%d", id)
}

func (l *Lobby) title() string {
	if l.settings.Name != "" && l.fixedStars {
		return l.settings.Name
	}
	return Title(l.minStars, l.maxStars, l.settings.Mods, titleSuffix)
}

func (l *Lobby) rename(ctx context.Context) {
	name := l.title()
	if name == l.name {
		return
	}
	l.name = name
	if err := l.sess.Rename(ctx, name); err != nil {
		l.log.Warn(ctx, "rename failed", logger.Error(err))
	}
}

// recompute refreshes the skill aggregate from present players.
func (l *Lobby) recompute() {
	skills := make([]model.SkillVector, 0, len(l.players))
	elos := make([]float64, 0, len(l.players))
	for _, p := range l.players {
		if !p.Skill.IsZero() {
			skills = append(skills, p.Skill)
		}
		elos = append(elos, p.Elo)
	}
	mod := l.cfg.DifficultyModifier
	if mod <= 0 {
		mod = 1
	}
	l.aggregate = model.MedianSkill(skills).Scale(mod)
	l.medianElo = model.Median(elos)
}

func (l *Lobby) scaledStars(p model.Player) float64 {
	mod := l.cfg.DifficultyModifier
	if mod <= 0 {
		mod = 1
	}
	return p.Skill.Stars * mod
}

func (l *Lobby) setState(s State) {
	if l.state == s {
		return
	}
	l.log.Debug(context.Background(), "state change",
		logger.String("from", l.state.String()), logger.String("to", s.String()))
	l.state = s
}

// settle moves out of a transient state once nothing keeps it there.
func (l *Lobby) settle() {
	switch {
	case l.state == StatePlaying || l.state == StateClosed:
	case l.armed(timerCountdownInitial, 0) || l.armed(timerCountdownFinal, 0):
		l.setState(StateCountdownArmed)
	case l.resolving > 0:
		l.setState(StateResolving)
	case len(l.players) == 0:
		l.setState(StateIdle)
	default:
		l.setState(StateAwaitingReady)
	}
}

func (l *Lobby) publish() {
	s := &Snapshot{
		ID:           l.id,
		SessionID:    l.sess.ID(),
		Name:         l.name,
		Mode:         l.settings.Mode,
		Occupancy:    len(l.players),
		Capacity:     l.cfg.Capacity,
		State:        l.state.String(),
		MinStars:     l.minStars,
		MaxStars:     l.maxStars,
		FixedStars:   l.fixedStars,
		Aggregate:    l.aggregate,
		AggregateElo: l.medianElo,
		Owned:        l.settings.Owned,
		CreatorID:    l.settings.CreatorID,
		Players:      make([]string, 0, len(l.order)),
	}
	for _, id := range l.order {
		s.Players = append(s.Players, l.playerName(id))
	}
	if l.content != nil {
		s.Content = &ContentRef{
			ID:    l.content.Item.ID,
			SetID: l.content.Item.SetID,
			Name:  l.content.Item.Name,
			Stars: l.content.Profile.Stars,
		}
	}
	l.snap.Store(s)
	if l.deps.Observer != nil {
		l.deps.Observer.LobbyChanged(*s)
	}
}

// selectContent runs the pool selection for the current aggregate.
func (l *Lobby) selectContent(ctx context.Context, reason string) {
	q := pool.Query{
		Mode:         l.settings.Mode,
		ModSet:       model.ModSetFor(l.settings.Mods),
		Algorithm:    l.settings.Algorithm,
		Target:       l.aggregate,
		TargetElo:    l.medianElo,
		Filters:      slices.Clone(l.settings.Filters),
		RankedStates: l.settings.RankedStates,
	}
	if l.fixedStars {
		q.Filters = append(q.Filters, pool.Filter{Field: pool.FieldStars, Min: l.minStars, Max: l.maxStars})
	}

	sel, err := l.deps.Selector.SelectNext(ctx, pool.Request{Query: q, Window: l.window})
	if err != nil {
		if errors.Is(err, pool.ErrExhausted) {
			l.send(ctx, "Could not find any content matching this lobby. Keeping the current one.")
		}
		l.log.Error(ctx, "content selection failed", logger.String("reason", reason), logger.Error(err),
			logger.Float64("min_stars", l.minStars), logger.Float64("max_stars", l.maxStars))
		return
	}

	l.skips = voterSet{}
	if !l.fixedStars {
		l.minStars, l.maxStars = sel.MinStars, sel.MaxStars
	}
	l.content = &sel
	if err := l.sess.SetContent(ctx, sel.Item, l.settings.Mods); err != nil {
		l.log.Warn(ctx, "set content failed", logger.Int64("content_id", sel.Item.ID), logger.Error(err))
	}
	l.rename(ctx)
	metrics.RecordLobbyEvent("content_selected")
	l.log.Info(ctx, "content selected",
		logger.String("reason", reason),
		logger.Int64("content_id", sel.Item.ID),
		logger.Float64("stars", sel.Profile.Stars))

	if l.deps.Guard != nil {
		id := sel.Item.ID
		guard := l.deps.Guard
		l.spawn(func(ctx context.Context) Event {
			ok, info, err := guard.Available(ctx, id)
			return availabilityChecked{contentID: id, available: ok, info: info, err: err}
		})
	}
}
