package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/release-distribution-api/internal/dto"
	"github.com/noah-isme/release-distribution-api/internal/models"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
	"github.com/noah-isme/release-distribution-api/pkg/jobs"
)

// Rollout job types.
const (
	JobAdvanceDue          = "advance_due"
	JobAdvanceDistribution = "advance_distribution"

	advanceDueJobID = "rollout:advance-due"
)

type rolloutAdvancer interface {
	Advance(ctx context.Context, id string) (*models.UpdateDistribution, bool, error)
	AdvanceDue(ctx context.Context) (*dto.AdvanceSummary, error)
}

// RolloutWorker is the optional in-process trigger that re-evaluates distributions on a fixed
// interval through a job queue. Deployments driven by an external scheduler leave it disabled.
type RolloutWorker struct {
	advancer rolloutAdvancer
	queue    *jobs.Queue
	interval time.Duration
	logger   *zap.Logger
}

// NewRolloutWorker constructs the worker. A non-positive interval disables the ticker; jobs can
// still be enqueued explicitly.
func NewRolloutWorker(advancer rolloutAdvancer, interval time.Duration, cfg jobs.QueueConfig) *RolloutWorker {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	w := &RolloutWorker{advancer: advancer, interval: interval, logger: cfg.Logger}
	w.queue = jobs.NewQueue("rollout", w.handle, cfg)
	return w
}

// Start launches the queue workers and the ticker.
func (w *RolloutWorker) Start(ctx context.Context) {
	w.queue.Start(ctx)
	if w.interval > 0 {
		go w.queue.Every(ctx, w.interval, func() jobs.Job {
			return jobs.Job{ID: advanceDueJobID, Type: JobAdvanceDue}
		})
	}
}

// Stop drains the workers.
func (w *RolloutWorker) Stop() {
	w.queue.Stop()
}

// EnqueueAdvance schedules re-evaluation of one distribution. A pending job for the same
// distribution absorbs the request.
func (w *RolloutWorker) EnqueueAdvance(distributionID string) error {
	err := w.queue.Enqueue(jobs.Job{ID: "rollout:" + distributionID, Type: JobAdvanceDistribution, Payload: distributionID})
	if errors.Is(err, jobs.ErrDuplicate) {
		return nil
	}
	return err
}

func (w *RolloutWorker) handle(ctx context.Context, job jobs.Job) error {
	switch job.Type {
	case JobAdvanceDue:
		summary, err := w.advancer.AdvanceDue(ctx)
		if err != nil {
			return err
		}
		if summary.Changed > 0 || summary.Conflicts > 0 {
			w.logger.Info("rollout pass finished",
				zap.Int("evaluated", summary.Evaluated),
				zap.Int("changed", summary.Changed),
				zap.Int("completed", summary.Completed),
				zap.Int("failed", summary.Failed),
				zap.Int("conflicts", summary.Conflicts))
		}
		return nil
	case JobAdvanceDistribution:
		id, _ := job.Payload.(string)
		if id == "" {
			return fmt.Errorf("job %s: missing distribution id", job.ID)
		}
		_, _, err := w.advancer.Advance(ctx, id)
		if errors.Is(err, appErrors.ErrConflict) || errors.Is(err, appErrors.ErrNotFound) {
			return nil
		}
		return err
	default:
		w.logger.Warn("unknown rollout job", zap.String("type", job.Type))
		return nil
	}
}
