// Package workflows implements the stage state machine that drives each
// source through its retrieval pipeline. Every stage variant shares one
// execute envelope: mark the task pending, run the source's hooks, then mark
// success or failure. Failures propagate to the dispatch endpoint so the
// queue's redelivery policy governs retries.
package workflows

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/opendevdata/harvester/internal/archive"
	"github.com/opendevdata/harvester/internal/database"
	"github.com/opendevdata/harvester/internal/fetch"
	"github.com/opendevdata/harvester/internal/harvest"
	"github.com/opendevdata/harvester/internal/queue"
)

// Delivery is one queue delivery of one task, decoded by the dispatch
// endpoint. Attempt counts from 1, as reported by the queue.
type Delivery struct {
	MessageID string
	Attempt   int
	JobID     int64
	TaskID    int64
	Source    string
	URL       string
}

// Deps carries the shared collaborators handed to every workflow instance.
// Terminal stages simply never touch the queue.
type Deps struct {
	DB      database.Client
	Queue   queue.Client
	Fetch   *fetch.Client
	Archive archive.Store
	Logger  *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Workflow is one stage of one source's pipeline.
type Workflow interface {
	// Execute processes a single delivery end to end.
	Execute(ctx context.Context, d Delivery) error

	// NextWorkflow names the successor stage, or "" for terminal stages.
	NextWorkflow() string
}

// execute is the shared envelope around a stage's work function. The retry
// count recorded on the task is zero-based, derived from the queue's
// one-based attempt counter.
func execute(ctx context.Context, deps Deps, d Delivery, stage string, work func(context.Context) error) error {
	retry := d.Attempt - 1
	if retry < 0 {
		retry = 0
	}
	log := deps.logger().With(
		zap.Int64("job_id", d.JobID),
		zap.Int64("task_id", d.TaskID),
		zap.String("source", d.Source),
		zap.String("workflow_type", stage),
		zap.String("delivery_id", d.MessageID),
		zap.Int("attempt", d.Attempt),
	)

	if err := deps.DB.MarkTaskPending(ctx, d.TaskID); err != nil {
		log.Error("mark task pending failed", zap.Error(err))
		return fmt.Errorf("mark task %d pending: %w", d.TaskID, err)
	}

	if err := work(ctx); err != nil {
		log.Error("workflow failed", zap.Error(err))
		if markErr := deps.DB.MarkTaskFailure(ctx, d.TaskID, err.Error(), retry); markErr != nil {
			log.Error("mark task failure failed", zap.Error(markErr))
		}
		return fmt.Errorf("%s workflow for task %d: %w", stage, d.TaskID, err)
	}

	if err := deps.DB.MarkTaskSuccess(ctx, d.TaskID, retry); err != nil {
		log.Error("mark task success failed", zap.Error(err))
		return fmt.Errorf("mark task %d success: %w", d.TaskID, err)
	}
	log.Info("workflow completed")
	return nil
}

// fanOut upserts one next-stage task per locator and enqueues every row the
// upsert returns, pre-existing ones included. Zero locators is a valid
// outcome and a no-op.
func fanOut(ctx context.Context, deps Deps, d Delivery, next string, urls []string) error {
	if next == "" || len(urls) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(urls))
	specs := make([]harvest.TaskSpec, 0, len(urls))
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		specs = append(specs, harvest.TaskSpec{
			JobID:        d.JobID,
			Source:       d.Source,
			WorkflowType: next,
			URL:          u,
		})
	}

	tasks, err := deps.DB.BulkUpsertTasks(ctx, specs)
	if err != nil {
		return fmt.Errorf("upsert %d next-stage tasks: %w", len(specs), err)
	}
	for _, task := range tasks {
		msg := queue.TaskMessage{
			ID:           task.ID,
			JobID:        task.JobID,
			Source:       task.Source,
			WorkflowType: task.WorkflowType,
			URL:          task.URL,
		}
		if err := deps.Queue.Publish(ctx, task.Source, msg); err != nil {
			return fmt.Errorf("enqueue task %d: %w", task.ID, err)
		}
	}
	return nil
}

// stampProjects fills in the originating task and source on specs a hook
// returned without them.
func stampProjects(d Delivery, specs []harvest.ProjectSpec) []harvest.ProjectSpec {
	for i := range specs {
		if specs[i].TaskID == 0 {
			specs[i].TaskID = d.TaskID
		}
		if specs[i].Source == "" {
			specs[i].Source = d.Source
		}
	}
	return specs
}

// archivePayload snapshots raw bytes best-effort. Archive failures are
// logged, never fatal to the task.
func archivePayload(ctx context.Context, deps Deps, d Delivery, stage, contentType string, data []byte) {
	if deps.Archive == nil || len(data) == 0 {
		return
	}
	key := archive.Key(fmt.Sprintf("job-%d", d.JobID), d.Source, stage, d.TaskID)
	if _, err := deps.Archive.Put(ctx, key, contentType, data); err != nil {
		deps.logger().Warn("archive payload failed",
			zap.String("key", key), zap.Error(err))
	}
}
