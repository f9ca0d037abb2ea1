// Package orchestrator drives one harvest cycle: it opens or resumes the
// day's job, seeds the starter task for every requested source, and waits
// for the fan-out to drain.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opendevdata/harvester/internal/clock"
	"github.com/opendevdata/harvester/internal/database"
	"github.com/opendevdata/harvester/internal/harvest"
	"github.com/opendevdata/harvester/internal/queue"
	"github.com/opendevdata/harvester/internal/workflows"
)

// Orchestrator coordinates a harvest cycle end to end.
type Orchestrator struct {
	db           database.Client
	queue        queue.Client
	registry     *workflows.Registry
	clock        clock.Clock
	logger       *zap.Logger
	pollInterval time.Duration
	maxWait      time.Duration
}

// New builds an orchestrator. A nil logger disables logging.
func New(
	db database.Client,
	q queue.Client,
	registry *workflows.Registry,
	clk clock.Clock,
	logger *zap.Logger,
	pollInterval time.Duration,
	maxWait time.Duration,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Orchestrator{
		db:           db,
		queue:        q,
		registry:     registry,
		clock:        clk,
		logger:       logger,
		pollInterval: pollInterval,
		maxWait:      maxWait,
	}
}

// Run executes one cycle for the given sources. An empty slice means every
// registered source. If today's job already exists, the cycle is treated as
// a resubmission: outstanding tasks for sources outside the requested set
// are cancelled, tasks for requested sources are reset and re-enqueued at
// the stage they were on, and forceRestart widens the reset to completed
// tasks as well. Run blocks until every task reaches a terminal state or
// the configured wait ceiling passes.
func (o *Orchestrator) Run(ctx context.Context, sources []string, forceRestart bool) error {
	for _, source := range o.registry.Sources() {
		if err := o.queue.Purge(ctx, source); err != nil {
			return fmt.Errorf("purging queue for source %q: %w", source, err)
		}
	}

	sources, err := o.resolveSources(sources)
	if err != nil {
		return err
	}

	jobDate := o.clock.Now().UTC().Format("2006-01-02")
	job, created, err := o.db.CreateOrFindJob(ctx, jobDate)
	if err != nil {
		return fmt.Errorf("opening job for %s: %w", jobDate, err)
	}

	if created {
		o.logger.Info("starting new harvest cycle",
			zap.Int64("job_id", job.ID),
			zap.String("date", jobDate),
			zap.Strings("sources", sources),
		)
		err = o.startSources(ctx, job.ID, sources)
	} else {
		o.logger.Info("resubmitting harvest cycle",
			zap.Int64("job_id", job.ID),
			zap.String("date", jobDate),
			zap.Strings("sources", sources),
			zap.Bool("force_restart", forceRestart),
		)
		err = o.resubmitSources(ctx, job.ID, sources, forceRestart)
	}
	if err != nil {
		return err
	}

	if err := o.awaitCompletion(ctx, job.ID); err != nil {
		return err
	}

	if err := o.db.MarkJobCompleted(ctx, job.ID); err != nil {
		return fmt.Errorf("completing job %d: %w", job.ID, err)
	}
	o.logger.Info("harvest cycle completed", zap.Int64("job_id", job.ID))
	return nil
}

// resolveSources expands an empty request to every registered source and
// rejects unknown ones.
func (o *Orchestrator) resolveSources(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return o.registry.Sources(), nil
	}
	for _, source := range requested {
		if !o.registry.HasSource(source) {
			return nil, harvest.Validationf("unknown source %q", source)
		}
	}
	return requested, nil
}

// startSources upserts the starter task for each source and enqueues the
// returned rows.
func (o *Orchestrator) startSources(ctx context.Context, jobID int64, sources []string) error {
	specs := make([]harvest.TaskSpec, 0, len(sources))
	for _, source := range sources {
		stage, err := o.registry.Starter(source)
		if err != nil {
			return err
		}
		specs = append(specs, harvest.TaskSpec{
			JobID:        jobID,
			Source:       source,
			WorkflowType: stage,
		})
	}

	tasks, err := o.db.BulkUpsertTasks(ctx, specs)
	if err != nil {
		return fmt.Errorf("creating starter tasks for job %d: %w", jobID, err)
	}
	return o.enqueue(ctx, tasks)
}

// resubmitSources cancels whatever the caller did not ask for, resets the
// requested sources, and re-enqueues the reset tasks at their original
// stage.
func (o *Orchestrator) resubmitSources(ctx context.Context, jobID int64, sources []string, forceRestart bool) error {
	if err := o.db.CancelOutstandingTasks(ctx, jobID, sources); err != nil {
		return fmt.Errorf("cancelling tasks outside requested sources for job %d: %w", jobID, err)
	}

	tasks, err := o.db.ResetTasks(ctx, jobID, sources, forceRestart)
	if err != nil {
		return fmt.Errorf("resetting tasks for job %d: %w", jobID, err)
	}
	o.logger.Info("reset tasks for resubmission",
		zap.Int64("job_id", jobID),
		zap.Int("count", len(tasks)),
	)
	return o.enqueue(ctx, tasks)
}

func (o *Orchestrator) enqueue(ctx context.Context, tasks []harvest.Task) error {
	for _, task := range tasks {
		msg := queue.TaskMessage{
			ID:           task.ID,
			JobID:        task.JobID,
			Source:       task.Source,
			WorkflowType: task.WorkflowType,
			URL:          task.URL,
		}
		if err := o.queue.Publish(ctx, task.Source, msg); err != nil {
			return fmt.Errorf("enqueueing task %d: %w", task.ID, err)
		}
	}
	return nil
}

// awaitCompletion polls the outstanding-task count until it reaches zero or
// the wait ceiling passes.
func (o *Orchestrator) awaitCompletion(ctx context.Context, jobID int64) error {
	start := o.clock.Now()
	for {
		count, err := o.db.CountOutstandingTasks(ctx, jobID)
		if err != nil {
			return fmt.Errorf("counting outstanding tasks for job %d: %w", jobID, err)
		}
		if count == 0 {
			return nil
		}

		elapsed := o.clock.Now().Sub(start)
		if elapsed >= o.maxWait {
			return &harvest.TimeoutError{Limit: o.maxWait, Elapsed: elapsed}
		}

		o.logger.Info("waiting for outstanding tasks",
			zap.Int64("job_id", jobID),
			zap.Int("outstanding", count),
			zap.Duration("elapsed", elapsed),
		)
		if err := o.clock.Sleep(ctx, o.pollInterval); err != nil {
			return err
		}
	}
}
