// Package database owns all read/write access to job, task, and project
// storage. Workflows and the orchestrator never touch the store directly;
// they go through the Client contract, which relies on the database's own
// unique constraints for correctness under concurrent writers.
package database

import (
	"context"

	"github.com/opendevdata/harvester/internal/harvest"
)

// Client is the persistence contract for the harvesting pipeline.
//
// All bulk operations are idempotent: re-deriving the same task tuple or
// project key never duplicates a row, which is what makes the queue's
// at-least-once delivery safe.
type Client interface {
	// CreateOrFindJob returns the job for the given cycle date ("YYYY-MM-DD"),
	// creating it if absent. The boolean reports whether the job was created.
	// Returns a ValidationError for malformed or future dates.
	CreateOrFindJob(ctx context.Context, date string) (harvest.Job, bool, error)

	// MarkJobCompleted stamps the job's completion time.
	MarkJobCompleted(ctx context.Context, jobID int64) error

	// BulkUpsertTasks inserts the given specs, updating only the status of
	// rows whose (job, source, workflow type, url) tuple already exists. It
	// returns every resulting row, pre-existing ones included, so callers can
	// enqueue exactly the rows that exist.
	BulkUpsertTasks(ctx context.Context, specs []harvest.TaskSpec) ([]harvest.Task, error)

	// BulkUpsertProjects inserts the given specs, overwriting all non-key
	// fields of rows whose (source, url) key already exists. Timestamps are
	// assigned server-side.
	BulkUpsertProjects(ctx context.Context, specs []harvest.ProjectSpec) ([]harvest.Project, error)

	// MarkTaskPending transitions the task to InProgress and stamps its
	// start time. Returns a NotFoundError if the task does not exist.
	MarkTaskPending(ctx context.Context, taskID int64) error

	// MarkTaskSuccess transitions the task to Completed. A task already in a
	// terminal state (cancelled by a concurrent resubmission, say) is left
	// untouched and no error is returned.
	MarkTaskSuccess(ctx context.Context, taskID int64, retryCount int) error

	// MarkTaskFailure transitions the task to Error, recording the message
	// and retry count. Terminal tasks are left untouched, as with success.
	MarkTaskFailure(ctx context.Context, taskID int64, errMsg string, retryCount int) error

	// PatchProject merges the non-nil fields of the patch into the project
	// identified by (source, url). Returns a NotFoundError if no such
	// project exists and a ConflictError if the key matches more than one.
	PatchProject(ctx context.Context, patch harvest.ProjectPatch) (harvest.Project, error)

	// CancelOutstandingTasks cancels every NotStarted or InProgress task of
	// the job whose source is not in keepSources.
	CancelOutstandingTasks(ctx context.Context, jobID int64, keepSources []string) error

	// CountOutstandingTasks counts the job's tasks that are NotStarted,
	// InProgress, or Error with retry count below the configured maximum.
	CountOutstandingTasks(ctx context.Context, jobID int64) (int, error)

	// ResetTasks returns the matching tasks to NotStarted and reports the
	// rows reset. With force, every task of the given sources is reset,
	// terminal ones included; otherwise only NotStarted, InProgress, and
	// Error tasks are.
	ResetTasks(ctx context.Context, jobID int64, sources []string, force bool) ([]harvest.Task, error)

	// Close releases the underlying pool resources.
	Close()
}
