package repository

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/pkg/metrics"
)

// Treap-based, in-memory Ranking implementation.
//
// Ordering: elo DESC, then player id ASC. "less" means ranks earlier, so an
// in-order walk yields the leaderboard best first. Every node carries its
// subtree size so standings are O(log n) expected.

// Snapshot is an immutable view republished periodically.
type Snapshot struct {
	Top   map[model.Mode][]Entry
	Count map[model.Mode]int
	At    time.Time
}

type node struct {
	id    int64
	elo   float64
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func less(aElo float64, aID int64, bElo float64, bID int64) bool {
	if aElo != bElo {
		return aElo > bElo
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id int64, elo float64) *node {
	if n == nil {
		return &node{id: id, elo: elo, prio: rand.Uint64(), size: 1}
	}
	if less(elo, id, n.elo, n.id) {
		n.left = insert(n.left, id, elo)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, elo)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id int64, elo float64) *node {
	if n == nil {
		return nil
	}
	switch {
	case n.id == id && n.elo == elo:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, elo)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, elo)
		}
	case less(elo, id, n.elo, n.id):
		n.left = deleteNode(n.left, id, elo)
	default:
		n.right = deleteNode(n.right, id, elo)
	}
	fix(n)
	return n
}

// countAbove counts nodes with elo strictly greater than elo.
func countAbove(n *node, elo float64) int {
	c := 0
	for n != nil {
		if n.elo > elo {
			c += 1 + nsize(n.left)
			n = n.right
		} else {
			n = n.left
		}
	}
	return c
}

// collectTopN appends up to limit entries in rank order.
func collectTopN(n *node, limit int, out *[]Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, Entry{PlayerID: n.id, Elo: n.elo})
	}
	collectTopN(n.right, limit, out)
}

// assignRanks gives tied elos the same competition rank.
func assignRanks(entries []Entry) {
	for i := range entries {
		if i > 0 && entries[i].Elo == entries[i-1].Elo {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}

type tree struct {
	root *node
	byID map[int64]float64
}

// TreapStore keeps one treap per mode.
type TreapStore struct {
	mu               sync.RWMutex
	modes            map[model.Mode]*tree
	snapshotInterval time.Duration
	topCacheSize     int

	snapshot atomic.Pointer[Snapshot]

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTreapStore constructs a treap store and starts the snapshot loop.
func NewTreapStore(ctx context.Context, opts ...Option) *TreapStore {
	s := &TreapStore{
		modes:            make(map[model.Mode]*tree),
		snapshotInterval: time.Second,
		topCacheSize:     100,
		stopChan:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.publishSnapshot()
	s.startPeriodicSnapshots(ctx)
	return s
}

func (s *TreapStore) startPeriodicSnapshots(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.snapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.publishSnapshot()
			}
		}
	}()
}

func (s *TreapStore) publishSnapshot() {
	snap := &Snapshot{Top: make(map[model.Mode][]Entry), Count: make(map[model.Mode]int), At: time.Now()}
	s.mu.RLock()
	for mode, t := range s.modes {
		top := make([]Entry, 0, min(s.topCacheSize, len(t.byID)))
		collectTopN(t.root, s.topCacheSize, &top)
		assignRanks(top)
		snap.Top[mode] = top
		snap.Count[mode] = len(t.byID)
	}
	s.mu.RUnlock()
	for mode, n := range snap.Count {
		metrics.UpdateRankedPlayers(string(mode), n)
	}
	s.snapshot.Store(snap)
}

// Snapshot returns the last published view.
func (s *TreapStore) Snapshot() *Snapshot { return s.snapshot.Load() }

// Close stops the snapshot goroutine.
func (s *TreapStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// Set implements Ranking.Set in O(log n) expected time.
func (s *TreapStore) Set(_ context.Context, mode model.Mode, playerID int64, elo float64) error {
	if math.IsNaN(elo) || math.IsInf(elo, 0) {
		return ErrInvalidElo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.modes[mode]
	if !ok {
		t = &tree{byID: make(map[int64]float64)}
		s.modes[mode] = t
	}
	if old, ok := t.byID[playerID]; ok {
		if old == elo {
			return nil
		}
		t.root = deleteNode(t.root, playerID, old)
	}
	t.byID[playerID] = elo
	t.root = insert(t.root, playerID, elo)
	return nil
}

// Standing implements Ranking.Standing in O(log n) expected time.
func (s *TreapStore) Standing(_ context.Context, mode model.Mode, playerID int64) (Standing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.modes[mode]
	if !ok {
		return Standing{}, ErrNotFound
	}
	elo, ok := t.byID[playerID]
	if !ok {
		return Standing{}, ErrNotFound
	}
	better := countAbove(t.root, elo)
	return Standing{Rank: better + 1, Better: better, Total: len(t.byID), Elo: elo}, nil
}

// TopN implements Ranking.TopN.
func (s *TreapStore) TopN(_ context.Context, mode model.Mode, n int) ([]Entry, error) {
	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.modes[mode]
	if !ok {
		return []Entry{}, nil
	}
	out := make([]Entry, 0, min(n, len(t.byID)))
	collectTopN(t.root, n, &out)
	assignRanks(out)
	return out, nil
}

// Count implements Ranking.Count.
func (s *TreapStore) Count(_ context.Context, mode model.Mode) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.modes[mode]; ok {
		return len(t.byID)
	}
	return 0
}
