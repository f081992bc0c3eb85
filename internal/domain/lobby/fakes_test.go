package lobby

import (
	"context"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/internal/domain/pool"
	"github.com/okian/ranklobby/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type manualTimer struct {
	at      time.Time
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// manualScheduler fires timers only when advanced.
type manualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{at: s.now.Add(d), f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	var due []*manualTimer
	keep := s.timers[:0]
	for _, t := range s.timers {
		switch {
		case t.stopped:
		case !t.at.After(s.now):
			due = append(due, t)
		default:
			keep = append(keep, t)
		}
	}
	s.timers = keep
	s.mu.Unlock()
	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

type fakeSession struct {
	mu       sync.Mutex
	sent     []string
	notified map[int64][]string
	kicked   []int64
	starts   int
	aborts   int
	content  []int64
	names    []string
	closed   bool
	present  []model.Player
}

func newFakeSession(present ...model.Player) *fakeSession {
	return &fakeSession{notified: map[int64][]string{}, present: present}
}

func (f *fakeSession) ID() string { return "session-1" }

func (f *fakeSession) Participants(context.Context) ([]model.Player, error) {
	return slices.Clone(f.present), nil
}

func (f *fakeSession) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSession) Notify(_ context.Context, id int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified[id] = append(f.notified[id], text)
	return nil
}

func (f *fakeSession) Kick(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked = append(f.kicked, id)
	return nil
}

func (f *fakeSession) StartMatch(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeSession) AbortMatch(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
	return nil
}

func (f *fakeSession) SetContent(_ context.Context, item model.ContentItem, _ model.Mods) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content = append(f.content, item.ID)
	return nil
}

func (f *fakeSession) Rename(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	return nil
}

func (f *fakeSession) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) lastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type fakeRecorder struct {
	changes []model.TierChange
	err     error
	got     chan MatchRequest
}

func (r *fakeRecorder) RecordMatch(_ context.Context, req MatchRequest) ([]model.TierChange, error) {
	r.got <- req
	return r.changes, r.err
}

type fakeGuard struct {
	available bool
	info      string
	marked    chan int64
}

func (g *fakeGuard) Available(context.Context, int64) (bool, string, error) {
	return g.available, g.info, nil
}

func (g *fakeGuard) MarkUnavailable(_ context.Context, id int64) error {
	g.marked <- id
	return nil
}

func catalogItem(id int64, stars float64) model.ContentItem {
	return model.ContentItem{
		ID:          id,
		SetID:       id * 10,
		Mode:        model.ModeOsu,
		Name:        "map",
		Attributes:  model.Attributes{AR: 9},
		RankedState: model.RankedRanked,
		Profiles: map[model.ModSet]model.SkillVector{
			model.ModSetNoMod: {Aim: stars, Speed: stars, Acc: stars, AR: 9, Stars: stars},
		},
	}
}

func player(id int64, name string, stars float64) model.Player {
	return model.Player{
		ID:    id,
		Name:  name,
		Mode:  model.ModeOsu,
		Skill: model.SkillVector{Aim: stars, Speed: stars, Acc: stars, AR: 9, Stars: stars},
		Elo:   1500,
	}
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	l     *Lobby
	sess  *fakeSession
	sched *manualScheduler
	fatal chan error
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DifficultyModifier = 1
	return cfg
}

func newHarness(t *testing.T, settings Settings, deps Deps, cfg Config) *harness {
	t.Helper()
	if settings.Mode == "" {
		settings.Mode = model.ModeOsu
	}
	if deps.Selector == nil {
		var items []model.ContentItem
		for i := int64(1); i <= 40; i++ {
			items = append(items, catalogItem(i, 2+float64(i)/10))
		}
		deps.Selector = pool.NewIndex(pool.NewMemoryCatalog(items...),
			pool.WithRand(rand.New(rand.NewPCG(7, 9))), pool.WithBucketSize(10))
	}
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		sess:  newFakeSession(),
		sched: newManualScheduler(),
		fatal: make(chan error, 1),
	}
	h.l = New(h.sess, settings, deps,
		WithConfig(cfg),
		WithScheduler(h.sched),
		WithLogger(logger.Nop()),
		WithID("lobby-1"),
		WithFatal(func(err error) { h.fatal <- err }),
	)
	return h
}

// do handles ev and every event it queued synchronously.
func (h *harness) do(ev Event) {
	h.l.handle(h.ctx, ev)
	h.pump()
}

func (h *harness) pump() {
	for {
		select {
		case ev := <-h.l.mailbox:
			h.l.handle(h.ctx, ev)
		default:
			return
		}
	}
}

// await handles the next event produced by background work.
func (h *harness) await() {
	select {
	case ev := <-h.l.mailbox:
		h.l.handle(h.ctx, ev)
	case <-time.After(2 * time.Second):
		h.t.Fatal("no event arrived")
	}
}

func (h *harness) advance(d time.Duration) {
	h.sched.Advance(d)
	h.pump()
}

func (h *harness) join(ps ...model.Player) {
	for _, p := range ps {
		h.do(Joined{Player: p})
	}
}

func (h *harness) say(id int64, text string) {
	h.do(Command{PlayerID: id, Text: text})
}
