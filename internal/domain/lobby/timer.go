package lobby

import "time"

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Scheduler creates timers. Tests inject a manual one.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
func (realScheduler) Now() time.Time                           { return time.Now() }

// RealScheduler uses the runtime timers.
func RealScheduler() Scheduler { return realScheduler{} }

type timerKind int

const (
	timerCountdownInitial timerKind = iota
	timerCountdownFinal
	timerAFK
	timerJoinDeadline
)

func (k timerKind) String() string {
	switch k {
	case timerCountdownInitial:
		return "countdown_initial"
	case timerCountdownFinal:
		return "countdown_final"
	case timerAFK:
		return "afk"
	case timerJoinDeadline:
		return "join_deadline"
	}
	return "unknown"
}

// timerHandle pairs a timer with the generation its fire event must carry.
type timerHandle struct {
	t   Timer
	gen uint64
}

type timerKey struct {
	kind   timerKind
	player int64
}

// arm replaces any timer of the same key. The fire is delivered through the
// mailbox and ignored if the handle was replaced or cancelled meanwhile.
func (l *Lobby) arm(kind timerKind, player int64, d time.Duration) {
	key := timerKey{kind: kind, player: player}
	l.cancel(kind, player)
	l.gen++
	gen := l.gen
	t := l.sched.AfterFunc(d, func() {
		l.post(timerFired{kind: kind, gen: gen, player: player})
	})
	l.timers[key] = &timerHandle{t: t, gen: gen}
}

func (l *Lobby) cancel(kind timerKind, player int64) {
	key := timerKey{kind: kind, player: player}
	if h, ok := l.timers[key]; ok {
		h.t.Stop()
		delete(l.timers, key)
	}
}

func (l *Lobby) armed(kind timerKind, player int64) bool {
	_, ok := l.timers[timerKey{kind: kind, player: player}]
	return ok
}

// claim consumes a fire event, reporting false for stale ones.
func (l *Lobby) claim(ev timerFired) bool {
	key := timerKey{kind: ev.kind, player: ev.player}
	h, ok := l.timers[key]
	if !ok || h.gen != ev.gen {
		return false
	}
	delete(l.timers, key)
	return true
}

func (l *Lobby) cancelAll() {
	for key, h := range l.timers {
		h.t.Stop()
		delete(l.timers, key)
	}
}
