package pool

import (
	"context"
	"slices"
	"sync"

	"github.com/okian/ranklobby/internal/domain/model"
)

// MemoryCatalog is an in-process CandidateSource.
type MemoryCatalog struct {
	mu    sync.RWMutex
	items map[int64]model.ContentItem
	elo   map[int64]float64
}

// NewMemoryCatalog creates a catalog holding items.
func NewMemoryCatalog(items ...model.ContentItem) *MemoryCatalog {
	c := &MemoryCatalog{items: make(map[int64]model.ContentItem), elo: make(map[int64]float64)}
	for _, it := range items {
		c.Put(it)
	}
	return c
}

// Put inserts or replaces an item.
func (c *MemoryCatalog) Put(item model.ContentItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.ID] = item
}

// SetElo sets the content elo used by AlgorithmElo.
func (c *MemoryCatalog) SetElo(id int64, elo float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.elo[id] = elo
}

// MarkUnavailable flags id so it is never selected again.
func (c *MemoryCatalog) MarkUnavailable(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[id]; ok {
		it.Unavailable = true
		c.items[id] = it
	}
	return nil
}

// QueryCandidates filters, ranks and truncates the catalog.
func (c *MemoryCatalog) QueryCandidates(_ context.Context, q Query) ([]Candidate, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	out := make([]Candidate, 0, len(c.items))
	for _, it := range c.items {
		if it.Mode != q.Mode || it.Unavailable {
			continue
		}
		if len(q.RankedStates) > 0 && !slices.Contains(q.RankedStates, it.RankedState) {
			continue
		}
		p, ok := it.Profile(q.ModSet)
		if !ok {
			continue
		}
		match := true
		for _, f := range q.Filters {
			if !f.Match(it, p) {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		cand := Candidate{Item: it, Profile: p, Elo: c.elo[it.ID]}
		cand.Distance = q.Rank(cand)
		out = append(out, cand)
	}
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b Candidate) int {
		if a.Distance != b.Distance {
			if a.Distance < b.Distance {
				return -1
			}
			return 1
		}
		switch {
		case a.Item.ID < b.Item.ID:
			return -1
		case a.Item.ID > b.Item.ID:
			return 1
		}
		return 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
