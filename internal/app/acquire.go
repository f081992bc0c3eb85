package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/ranklobby/internal/adapters/mq/queue"
	"github.com/okian/ranklobby/internal/adapters/mq/worker"
	"github.com/okian/ranklobby/internal/adapters/upstream"
	"github.com/okian/ranklobby/internal/domain/dedupe"
	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/pkg/logger"
	"github.com/okian/ranklobby/pkg/metrics"
)

const acquireAttempts = 3

// acquirer fetches unseen content one item at a time so two requests for
// the same id never race on the download or the insert.
type acquirer struct {
	s       *Service
	queue   *queue.InMemoryQueue[int64]
	worker  *worker.Pool[int64]
	pending dedupe.Deduper[int64]
	log     logger.Logger
}

func newAcquirer(s *Service, capacity int) *acquirer {
	a := &acquirer{
		s:       s,
		queue:   queue.NewInMemoryQueue[int64](queue.WithCapacity(capacity), queue.WithName("acquire")),
		pending: dedupe.NewInMemoryDeduper[int64](dedupe.WithMaxSize(0)),
		log:     s.logger.Named("acquire"),
	}
	a.worker = worker.NewPool[int64](1, a.queue, worker.HandlerFunc[int64](a.handle),
		worker.WithName("acquire"), worker.WithLogger(s.logger))
	return a
}

func (a *acquirer) start(ctx context.Context) { a.worker.Start(ctx) }

func (a *acquirer) shutdown(ctx context.Context) error { return a.worker.Shutdown(ctx) }

// request queues id unless it is already pending. It reports whether the
// id is (now) queued.
func (a *acquirer) request(ctx context.Context, id int64) bool {
	if a.pending.SeenAndRecord(ctx, id) {
		return true
	}
	if err := a.queue.TryEnqueue(ctx, id); err != nil {
		a.pending.Unrecord(ctx, id)
		metrics.RecordAcquire("rejected", 0)
		a.log.Warn(ctx, "content acquisition rejected", logger.Int64("content_id", id), logger.Error(err))
		return false
	}
	return true
}

func (a *acquirer) handle(ctx context.Context, id int64) error {
	defer a.pending.Unrecord(ctx, id)
	start := time.Now()
	result := "error"
	defer func() { metrics.RecordAcquire(result, float64(time.Since(start).Milliseconds())) }()

	has, err := a.s.catalog.HasContent(ctx, id)
	if err != nil {
		return err
	}
	if has {
		result = "known"
		return nil
	}

	md, err := upstream.Retry(ctx, acquireAttempts, a.s.reportDelay, func(ctx context.Context) (upstream.Metadata, error) {
		return a.s.metadata.FetchAttributes(ctx, id)
	}, upstream.ErrTransient)
	if errors.Is(err, upstream.ErrNotFound) {
		result = "not_found"
		a.log.Info(ctx, "content does not exist upstream", logger.Int64("content_id", id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch content %d: %w", id, err)
	}

	item := md.Item()
	if err := a.s.catalog.InsertContent(ctx, item); err != nil {
		return err
	}
	seed := model.NewRating(model.RatingKey{Kind: model.KindContent, ID: item.ID, Mode: item.Mode})
	if p, ok := item.Profile(model.ModSetNoMod); ok {
		seed.BaseMu = model.ContentMuFromStars(p.Stars)
		seed.CurrentMu = seed.BaseMu
	}
	if _, err := a.s.ratings.CreateRating(ctx, seed); err != nil {
		return err
	}
	result = "inserted"
	a.log.Info(ctx, "content acquired", logger.Int64("content_id", id), logger.String("name", item.Name))
	return nil
}

// AcquireContent queues a content id for download. It returns false when the
// acquisition queue is unavailable or full.
func (s *Service) AcquireContent(ctx context.Context, id int64) bool {
	if s.acquirer == nil || !s.running() {
		return false
	}
	return s.acquirer.request(ctx, id)
}
