// Package pool selects the next content item for a lobby from a filtered,
// skill-ranked bucket of candidates.
package pool

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/pkg/logger"
	"github.com/okian/ranklobby/pkg/metrics"
)

// Defaults for Index.
const (
	DefaultBucketSize = 1000
	DefaultMaxDraws   = 10
)

// CandidateSource returns the top Limit candidates ordered by Query.Rank.
type CandidateSource interface {
	QueryCandidates(ctx context.Context, q Query) ([]Candidate, error)
}

// Request is a selection for one lobby.
type Request struct {
	Query
	Window *RecentWindow
}

// Selection is the outcome of SelectNext.
type Selection struct {
	Item     model.ContentItem
	Profile  model.SkillVector
	MinStars float64
	MaxStars float64
	Bucket   int
	Draws    int
	Fallback bool
}

// Index draws content from candidate buckets.
type Index struct {
	src        CandidateSource
	bucketSize int
	maxDraws   int
	log        logger.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures an Index.
type Option func(*Index)

// WithBucketSize sets K, the number of nearest candidates drawn from.
func WithBucketSize(k int) Option {
	return func(ix *Index) {
		if k > 0 {
			ix.bucketSize = k
		}
	}
}

// WithMaxDraws bounds redraws against the recent window.
func WithMaxDraws(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.maxDraws = n
		}
	}
}

// WithRand injects the random source, mostly for tests.
func WithRand(r *rand.Rand) Option {
	return func(ix *Index) {
		if r != nil {
			ix.rng = r
		}
	}
}

// WithLogger sets the index logger.
func WithLogger(l logger.Logger) Option {
	return func(ix *Index) {
		if l != nil {
			ix.log = l
		}
	}
}

// NewIndex creates an index over src.
func NewIndex(src CandidateSource, opts ...Option) *Index {
	seed := uint64(time.Now().UnixNano())
	ix := &Index{
		src:        src,
		bucketSize: DefaultBucketSize,
		maxDraws:   DefaultMaxDraws,
		log:        logger.Nop(),
		rng:        rand.New(rand.NewPCG(seed, seed>>17)),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// SelectNext draws the next item for req and records it in req.Window.
func (ix *Index) SelectNext(ctx context.Context, req Request) (Selection, error) {
	q := req.Query
	if q.Limit <= 0 || q.Limit > ix.bucketSize {
		q.Limit = ix.bucketSize
	}
	if err := q.Validate(); err != nil {
		return Selection{}, err
	}

	bucket, err := ix.src.QueryCandidates(ctx, q)
	if err != nil {
		metrics.RecordContentSelection("error")
		return Selection{}, fmt.Errorf("query candidates: %w", err)
	}
	if len(bucket) == 0 {
		metrics.RecordContentSelection("exhausted")
		return Selection{}, ErrExhausted
	}

	sel := Selection{Bucket: len(bucket), MinStars: math.Inf(1), MaxStars: math.Inf(-1)}
	for _, c := range bucket {
		sel.MinStars = math.Min(sel.MinStars, c.Profile.Stars)
		sel.MaxStars = math.Max(sel.MaxStars, c.Profile.Stars)
	}

	var pick Candidate
	for sel.Draws < ix.maxDraws {
		pick = bucket[ix.intN(len(bucket))]
		sel.Draws++
		if req.Window == nil || !req.Window.Contains(pick.Item.ID) {
			break
		}
	}
	if req.Window != nil && req.Window.Contains(pick.Item.ID) {
		fresh := make([]Candidate, 0, len(bucket))
		for _, c := range bucket {
			if !req.Window.Contains(c.Item.ID) {
				fresh = append(fresh, c)
			}
		}
		if len(fresh) > 0 {
			pick = fresh[ix.intN(len(fresh))]
			sel.Fallback = true
		}
	}

	sel.Item = pick.Item
	sel.Profile = pick.Profile
	if req.Window != nil {
		req.Window.Push(pick.Item.ID)
	}

	result := "selected"
	if sel.Fallback {
		result = "fallback"
	}
	metrics.RecordContentSelection(result)
	ix.log.Debug(ctx, "content selected",
		logger.Int64("content_id", pick.Item.ID),
		logger.Int("bucket", len(bucket)),
		logger.Int("draws", sel.Draws),
		logger.Bool("fallback", sel.Fallback))
	return sel, nil
}

func (ix *Index) intN(n int) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.rng.IntN(n)
}
