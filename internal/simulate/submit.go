package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/pkg/logger"
)

type submitCounters struct {
	submitted atomic.Int64
	accepted  atomic.Int64
	duplicate atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
}

// submitReports posts every report with cfg.Workers concurrent workers.
// Backpressure and server errors are retried; other rejections are counted
// as failures.
func (r *Runner) submitReports(ctx context.Context, reports []model.MatchReport) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.cfg.Workers, 1))

	var c submitCounters
	start := time.Now()
	for _, report := range reports {
		g.Go(func() error {
			c.submitted.Add(1)
			dup, err := r.submitOne(ctx, report, &c)
			switch {
			case err != nil:
				c.failed.Add(1)
				r.log.Debug(ctx, "report rejected", logger.Int64("game_id", report.GameID), logger.Error(err))
			case dup:
				c.duplicate.Add(1)
			default:
				c.accepted.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	r.stats.ReportsSubmitted = int(c.submitted.Load())
	r.stats.ReportsAccepted = int(c.accepted.Load())
	r.stats.ReportsDuplicate = int(c.duplicate.Load())
	r.stats.ReportsRetried = int(c.retried.Load())
	r.stats.ReportsFailed = int(c.failed.Load())

	took := time.Since(start)
	rate := 0.0
	if took > 0 {
		rate = float64(r.stats.ReportsSubmitted) / took.Seconds()
	}
	r.log.Info(ctx, "reports submitted",
		logger.Int("submitted", r.stats.ReportsSubmitted),
		logger.Int("accepted", r.stats.ReportsAccepted),
		logger.Int("duplicate", r.stats.ReportsDuplicate),
		logger.Int("retried", r.stats.ReportsRetried),
		logger.Int("failed", r.stats.ReportsFailed),
		logger.Duration("took", took),
		logger.Float64("per_second", rate))
}

func (r *Runner) submitOne(ctx context.Context, report model.MatchReport, c *submitCounters) (bool, error) {
	attempt := 0
	op := func() (bool, error) {
		attempt++
		if attempt > 1 {
			c.retried.Add(1)
		}
		resp, data, err := r.client.do(ctx, http.MethodPost, "/matches", report)
		if err != nil {
			return false, err
		}
		switch {
		case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK:
			var ack AckResponse
			if err := json.Unmarshal(data, &ack); err != nil {
				return false, backoff.Permanent(err)
			}
			return ack.Duplicate, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
			return false, &statusError{Code: resp.StatusCode, Body: string(data)}
		default:
			return false, backoff.Permanent(&statusError{Code: resp.StatusCode, Body: string(data)})
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = time.Second
	dup, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(uint(max(r.cfg.MaxTries, 1))))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return dup, err
}

// waitForDrain polls /stats until the match queue is empty.
func (r *Runner) waitForDrain(ctx context.Context) error {
	interval := r.cfg.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	tries := max(int(r.cfg.SettleTimeout/interval), 1)

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		var stats map[string]any
		if err := r.client.getJSON(ctx, "/stats", &stats); err != nil {
			return struct{}{}, err
		}
		if n, ok := stats["queueLength"].(float64); ok && n > 0 {
			return struct{}{}, errors.New("match queue not drained")
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewConstantBackOff(interval)), backoff.WithMaxTries(uint(tries)))
	if err != nil {
		return err
	}

	// The last dequeued report may still be in flight.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(interval):
	}
	return nil
}
