// Package repair finishes missions whose level tasks were not written when
// the mission was installed.
package repair

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/personai/internal/domain"
	"github.com/PabloGalante/personai/internal/observability"
)

type Store interface {
	domain.MissionStore
	domain.TaskStore
}

type Options struct {
	// RetryDelay is how long a failed job waits before it is queued again.
	RetryDelay time.Duration
	MaxRetry   int
}

// Worker consumes repair jobs and creates the missing tasks of the
// mission's current level. Tasks are matched by title, so replaying a job
// never duplicates them.
type Worker struct {
	store Store
	queue domain.RepairQueue
	opts  Options
	newID func() string
	now   func() time.Time
}

func NewWorker(store Store, queue domain.RepairQueue, opts Options) *Worker {
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = 5
	}
	return &Worker{
		store: store,
		queue: queue,
		opts:  opts,
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// Run blocks until ctx is done or the queue stops delivering.
func (w *Worker) Run(ctx context.Context) error {
	jobs, err := w.queue.Jobs(ctx)
	if err != nil {
		return fmt.Errorf("subscribe repair jobs: %w", err)
	}

	logger := observability.Logger()
	logger.Info("repair worker started")
	defer logger.Info("repair worker stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-jobs:
			if !ok {
				return nil
			}
			w.handle(ctx, d)
		}
	}
}

// handle repairs one delivery. The delivery is acked once the job reached
// a final outcome or its retry was queued, so a crash in between leaves it
// pending for redelivery.
func (w *Worker) handle(ctx context.Context, d domain.RepairDelivery) {
	job := d.Job
	logger := observability.WithFields(
		"mission_id", job.MissionID,
		"user_id", job.UserID,
		"attempt", job.Attempt,
	)

	created, err := w.Repair(ctx, job)
	switch {
	case err == nil:
		observability.RepairJobs.WithLabelValues("repaired").Inc()
		logger.Info("mission repaired", "tasks_created", created)
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrForbidden):
		observability.RepairJobs.WithLabelValues("dropped").Inc()
		logger.Warn("repair job dropped", "error", err)
	case job.Attempt+1 >= w.opts.MaxRetry:
		observability.RepairJobs.WithLabelValues("exhausted").Inc()
		logger.Error("mission repair gave up", "error", err)
	default:
		observability.RepairJobs.WithLabelValues("retried").Inc()
		logger.Warn("mission repair failed, retrying", "error", err)
		w.retry(ctx, d)
		return
	}
	ack(ctx, d)
}

func (w *Worker) retry(ctx context.Context, d domain.RepairDelivery) {
	job := d.Job
	job.Attempt++
	go func() {
		if w.opts.RetryDelay > 0 {
			select {
			case <-time.After(w.opts.RetryDelay):
			case <-ctx.Done():
				return
			}
		}
		if err := w.queue.Enqueue(ctx, job); err != nil {
			observability.Logger().Error("failed to requeue mission repair",
				"mission_id", job.MissionID, "error", err)
			return
		}
		ack(ctx, d)
	}()
}

func ack(ctx context.Context, d domain.RepairDelivery) {
	if d.Ack == nil {
		return
	}
	if err := d.Ack(ctx); err != nil {
		observability.Logger().Warn("failed to ack repair job",
			"mission_id", d.Job.MissionID, "error", err)
	}
}

// Repair creates the tasks of the mission's current level that do not exist
// yet and returns how many were written.
func (w *Worker) Repair(ctx context.Context, job domain.RepairJob) (int, error) {
	mission, err := w.store.GetMission(ctx, job.MissionID)
	if err != nil {
		return 0, domain.NewStoreError("get mission", err)
	}
	if job.UserID != "" && mission.UserID != job.UserID {
		return 0, fmt.Errorf("mission %s: %w", mission.ID, domain.ErrForbidden)
	}

	level := mission.CurrentLevel
	if level < 1 {
		level = 1
	}

	existing, err := w.store.ListTasksByMission(ctx, mission.ID)
	if err != nil {
		return 0, domain.NewStoreError("list mission tasks", err)
	}
	have := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		have[t.Title] = struct{}{}
	}

	var missing []*domain.Task
	for _, t := range mission.LevelTasks(level, func() domain.TaskID { return domain.TaskID(w.newID()) }, w.now()) {
		if _, ok := have[t.Title]; ok {
			continue
		}
		missing = append(missing, t)
	}
	if len(missing) == 0 {
		return 0, nil
	}

	if err := w.store.CreateTasks(ctx, missing...); err != nil {
		return 0, domain.NewStoreError("create mission tasks", err)
	}
	return len(missing), nil
}
