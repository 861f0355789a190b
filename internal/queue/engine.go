package queue

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"linkhoard/internal/config"
	"linkhoard/internal/models"
	"linkhoard/internal/statelock"
	"linkhoard/internal/telemetry"
)

// ItemStore is the slice of the durable store the engine drives.
type ItemStore interface {
	ClaimPendingItems(ctx context.Context, limit int) ([]models.JobItem, error)
	RecoverStuckItems(ctx context.Context, cutoff time.Time) (int, error)
	MarkItemComplete(ctx context.Context, id string) error
	ScheduleItemRetry(ctx context.Context, id string, retryCount int, notBefore time.Time, errMsg string) error
	MarkItemError(ctx context.Context, id string, errMsg string) error
	RefreshJobStatus(ctx context.Context, jobID string) error
}

// Pipeline processes one claimed item end to end: extraction, Q&A
// generation, embedding, persistence. A returned error is treated as
// transient until retries run out.
type Pipeline interface {
	Process(ctx context.Context, item models.JobItem) error
}

// Engine drains pending job items under the "job-queue" durable lock.
// Invocations overlap freely: a Busy lock means another drain already
// runs somewhere and this one has nothing to do.
type Engine struct {
	cfg      config.Config
	locks    *statelock.Manager
	store    ItemStore
	pipeline Pipeline
}

func NewEngine(cfg config.Config, locks *statelock.Manager, st ItemStore, p Pipeline) *Engine {
	return &Engine{cfg: cfg, locks: locks, store: st, pipeline: p}
}

// Start runs one drain: recovery pass, then claim/process batches
// until no claimable item remains. Re-entrant invocation is a quiet
// no-op, not an error.
func (e *Engine) Start(ctx context.Context) error {
	token, ok := e.locks.TryAcquire(ctx, statelock.JobQueueLock, e.cfg.QueueStateTimeout)
	if !ok {
		return nil
	}
	defer e.locks.Release(ctx, statelock.JobQueueLock, token)

	cutoff := time.Now().Add(-e.cfg.QueueProcessingTimeout)
	if n, err := e.store.RecoverStuckItems(ctx, cutoff); err != nil {
		return err
	} else if n > 0 {
		telemetry.ItemsRecovered.Add(float64(n))
		log.Printf("queue: recovered %d stuck items", n)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.locks.Extend(ctx, statelock.JobQueueLock, token, e.cfg.QueueStateTimeout)

		items, err := e.store.ClaimPendingItems(ctx, e.cfg.FetchConcurrency)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}

		var wg sync.WaitGroup
		for _, it := range items {
			wg.Add(1)
			go func(it models.JobItem) {
				defer wg.Done()
				e.processItem(ctx, it)
			}(it)
		}
		wg.Wait()
	}
}

func (e *Engine) processItem(ctx context.Context, item models.JobItem) {
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	err := e.pipeline.Process(ctx, item)
	if err == nil {
		_ = e.store.MarkItemComplete(ctx, item.ID)
		telemetry.ItemsCompleted.Inc()
	} else if item.RetryCount < e.cfg.QueueMaxRetries {
		retry := item.RetryCount + 1
		delay := retryBackoff(e.cfg.QueueRetryBaseDelay, e.cfg.QueueRetryMaxDelay, retry)
		_ = e.store.ScheduleItemRetry(ctx, item.ID, retry, time.Now().Add(delay), err.Error())
		telemetry.ItemsRetried.Inc()
	} else {
		_ = e.store.MarkItemError(ctx, item.ID, err.Error())
		telemetry.ItemsFailed.Inc()
	}
	_ = e.store.RefreshJobStatus(ctx, item.JobID)
}

// retryBackoff doubles per retry and caps at max: min(base*2^n, max).
func retryBackoff(base, max time.Duration, retryCount int) time.Duration {
	if retryCount <= 0 {
		return base
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(retryCount)))
	if d > max || d <= 0 {
		return max
	}
	return d
}
