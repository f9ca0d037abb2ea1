package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opendevdata/harvester/internal/harvest"
)

// Config controls the Postgres connection pool and retry accounting.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxTaskRetries  int
}

// pgxPool is the narrow slice of pgxpool.Pool the client needs, satisfied by
// pgxmock in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresClient implements Client against Postgres. Bulk upserts use native
// multi-row INSERT ... ON CONFLICT DO UPDATE so each batch is one atomic
// statement regardless of size.
type PostgresClient struct {
	pool       pgxPool
	maxRetries int
}

// NewPostgresClient connects a pool and returns a client.
func NewPostgresClient(ctx context.Context, cfg Config) (*PostgresClient, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresClient{pool: pool, maxRetries: cfg.MaxTaskRetries}, nil
}

// NewPostgresClientWithPool constructs a client from an existing pool
// (primarily for testing).
func NewPostgresClientWithPool(pool pgxPool, maxTaskRetries int) (*PostgresClient, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresClient{pool: pool, maxRetries: maxTaskRetries}, nil
}

// Close releases the underlying pool resources.
func (c *PostgresClient) Close() {
	if c == nil || c.pool == nil {
		return
	}
	c.pool.Close()
}

const jobColumns = "id, date, started_at_utc, completed_at_utc"

const taskColumns = "id, job_id, source, workflow_type, url, status, " +
	"created_at_utc, started_at_utc, completed_at_utc, failed_at_utc, " +
	"last_error, retry_count"

// projectDataColumns are every project column except the identity, key, and
// timestamp columns. Order matters: insert values and the conflict update
// set are generated from this list.
var projectDataColumns = []string{
	"task_id",
	"name",
	"number",
	"status",
	"affiliates",
	"countries",
	"sectors",
	"finance_types",
	"fiscal_year_effective",
	"date_approved",
	"date_disclosed",
	"date_effective",
	"date_last_updated",
	"date_actual_close",
	"date_planned_close",
	"date_planned_effective",
	"date_revised_close",
	"date_signed",
	"date_under_appraisal",
	"total_amount",
	"total_amount_currency",
	"total_amount_usd",
}

const projectColumns = "id, task_id, source, url, name, number, status, " +
	"affiliates, countries, sectors, finance_types, fiscal_year_effective, " +
	"date_approved, date_disclosed, date_effective, date_last_updated, " +
	"date_actual_close, date_planned_close, date_planned_effective, " +
	"date_revised_close, date_signed, date_under_appraisal, total_amount, " +
	"total_amount_currency, total_amount_usd, created_at_utc, last_updated_at_utc"

// CreateOrFindJob returns the job for the given cycle date, creating it
// if absent.
func (c *PostgresClient) CreateOrFindJob(ctx context.Context, date string) (harvest.Job, bool, error) {
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return harvest.Job{}, false, harvest.Validationf("invalid job date %q: expected YYYY-MM-DD", date)
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if parsed.After(today) {
		return harvest.Job{}, false, harvest.Validationf("cannot create job for future date %q", date)
	}

	insert := `INSERT INTO extraction_job (date) VALUES ($1)
ON CONFLICT (date) DO NOTHING
RETURNING ` + jobColumns

	var job harvest.Job
	err = c.pool.QueryRow(ctx, insert, date).Scan(&job.ID, &job.Date, &job.StartedAt, &job.CompletedAt)
	if err == nil {
		return job, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return harvest.Job{}, false, fmt.Errorf("insert job for date %q: %w", date, err)
	}

	// The row already existed; fetch it.
	find := `SELECT ` + jobColumns + ` FROM extraction_job WHERE date = $1`
	err = c.pool.QueryRow(ctx, find, date).Scan(&job.ID, &job.Date, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		return harvest.Job{}, false, fmt.Errorf("find job for date %q: %w", date, err)
	}
	return job, false, nil
}

// MarkJobCompleted stamps the job's completion time.
func (c *PostgresClient) MarkJobCompleted(ctx context.Context, jobID int64) error {
	tag, err := c.pool.Exec(ctx,
		`UPDATE extraction_job SET completed_at_utc = NOW() WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("mark job %d completed: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return &harvest.NotFoundError{Entity: "job", Key: fmt.Sprintf("%d", jobID)}
	}
	return nil
}

// BulkUpsertTasks upserts the specs in one atomic statement and returns
// every resulting row, conflicting ones included.
func (c *PostgresClient) BulkUpsertTasks(ctx context.Context, specs []harvest.TaskSpec) ([]harvest.Task, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO extraction_task (job_id, source, workflow_type, url, status) VALUES `)
	args := make([]any, 0, len(specs)*5)
	for i, spec := range specs {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 5
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, spec.JobID, spec.Source, spec.WorkflowType, spec.URL, string(harvest.StatusNotStarted))
	}
	sb.WriteString(` ON CONFLICT (job_id, source, workflow_type, url)
DO UPDATE SET status = EXCLUDED.status
RETURNING ` + taskColumns)

	rows, err := c.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("bulk upsert %d tasks: %w", len(specs), err)
	}
	defer rows.Close()

	tasks := make([]harvest.Task, 0, len(specs))
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upserted task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read upserted tasks: %w", err)
	}
	return tasks, nil
}

// BulkUpsertProjects upserts full project rows in one atomic statement,
// keyed on (source, url). Timestamps are assigned server-side.
func (c *PostgresClient) BulkUpsertProjects(ctx context.Context, specs []harvest.ProjectSpec) ([]harvest.Project, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	width := 2 + len(projectDataColumns)
	var sb strings.Builder
	sb.WriteString(`INSERT INTO extracted_project (source, url, `)
	sb.WriteString(strings.Join(projectDataColumns, ", "))
	sb.WriteString(`) VALUES `)
	args := make([]any, 0, len(specs)*width)
	for i, spec := range specs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 0; j < width; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*width+j+1)
		}
		sb.WriteString(")")
		args = append(args,
			spec.Source, spec.URL, spec.TaskID,
			spec.Name, spec.Number, spec.Status,
			spec.Affiliates, spec.Countries, spec.Sectors,
			spec.FinanceTypes, spec.FiscalYearEffective,
			spec.DateApproved, spec.DateDisclosed, spec.DateEffective,
			spec.DateLastUpdated, spec.DateActualClose, spec.DatePlannedClose,
			spec.DatePlannedEffective, spec.DateRevisedClose, spec.DateSigned,
			spec.DateUnderAppraisal,
			spec.TotalAmount, spec.TotalAmountCurrency, spec.TotalAmountUSD,
		)
	}
	sb.WriteString(` ON CONFLICT (source, url) DO UPDATE SET `)
	for i, col := range projectDataColumns {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = EXCLUDED.%s", col, col)
	}
	sb.WriteString(", last_updated_at_utc = NOW() RETURNING " + projectColumns)

	rows, err := c.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("bulk upsert %d projects: %w", len(specs), err)
	}
	defer rows.Close()

	projects := make([]harvest.Project, 0, len(specs))
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upserted project: %w", err)
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read upserted projects: %w", err)
	}
	return projects, nil
}

// MarkTaskPending transitions the task to InProgress and stamps its
// start time.
func (c *PostgresClient) MarkTaskPending(ctx context.Context, taskID int64) error {
	return c.transitionTask(ctx, taskID,
		`UPDATE extraction_task
SET status = $2, started_at_utc = NOW()
WHERE id = $1 AND status NOT IN ($3, $4)`,
		taskID, string(harvest.StatusInProgress),
		string(harvest.StatusCompleted), string(harvest.StatusCancelled))
}

// MarkTaskSuccess transitions the task to Completed. Tasks already in a
// terminal state are left untouched: a worker that finishes a task cancelled
// by a concurrent resubmission gets a no-op, not an error.
func (c *PostgresClient) MarkTaskSuccess(ctx context.Context, taskID int64, retryCount int) error {
	return c.transitionTask(ctx, taskID,
		`UPDATE extraction_task
SET status = $2, retry_count = $3, completed_at_utc = NOW()
WHERE id = $1 AND status IN ($4, $5)`,
		taskID, string(harvest.StatusCompleted), retryCount,
		string(harvest.StatusNotStarted), string(harvest.StatusInProgress))
}

// MarkTaskFailure transitions the task to Error, recording the message and
// retry count. Terminal tasks are left untouched, as with success.
func (c *PostgresClient) MarkTaskFailure(ctx context.Context, taskID int64, errMsg string, retryCount int) error {
	return c.transitionTask(ctx, taskID,
		`UPDATE extraction_task
SET status = $2, last_error = $3, retry_count = $4, failed_at_utc = NOW()
WHERE id = $1 AND status IN ($5, $6)`,
		taskID, string(harvest.StatusError), errMsg, retryCount,
		string(harvest.StatusNotStarted), string(harvest.StatusInProgress))
}

// transitionTask runs a guarded status update. Zero rows updated means the
// task either does not exist (NotFoundError) or already reached a terminal
// state (no-op).
func (c *PostgresClient) transitionTask(ctx context.Context, taskID int64, sql string, args ...any) error {
	tag, err := c.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update task %d: %w", taskID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = c.pool.QueryRow(ctx,
		`SELECT status FROM extraction_task WHERE id = $1`, taskID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return &harvest.NotFoundError{Entity: "task", Key: fmt.Sprintf("%d", taskID)}
	}
	if err != nil {
		return fmt.Errorf("check task %d status: %w", taskID, err)
	}
	// Terminal row; the transition is a deliberate no-op.
	return nil
}

// PatchProject merges the non-nil patch fields into the project identified
// by (source, url).
func (c *PostgresClient) PatchProject(ctx context.Context, patch harvest.ProjectPatch) (harvest.Project, error) {
	key := fmt.Sprintf("%s:%s", patch.Source, patch.URL)

	rows, err := c.pool.Query(ctx,
		`SELECT id FROM extracted_project WHERE source = $1 AND url = $2`,
		patch.Source, patch.URL)
	if err != nil {
		return harvest.Project{}, fmt.Errorf("find project %s: %w", key, err)
	}
	ids := make([]int64, 0, 1)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return harvest.Project{}, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return harvest.Project{}, fmt.Errorf("find project %s: %w", key, err)
	}
	switch {
	case len(ids) == 0:
		return harvest.Project{}, &harvest.NotFoundError{Entity: "project", Key: key}
	case len(ids) > 1:
		return harvest.Project{}, &harvest.ConflictError{Entity: "project", Key: key}
	}

	sets, args := patchAssignments(patch)
	args = append(args, ids[0])

	update := fmt.Sprintf(
		`UPDATE extracted_project SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), projectColumns)

	row := c.pool.QueryRow(ctx, update, args...)
	project, err := scanProjectRow(row)
	if err != nil {
		return harvest.Project{}, fmt.Errorf("patch project %s: %w", key, err)
	}
	return project, nil
}

// patchAssignments builds the SET clauses for the patch's populated fields.
func patchAssignments(patch harvest.ProjectPatch) ([]string, []any) {
	sets := []string{"last_updated_at_utc = NOW()"}
	var args []any

	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.TaskID != 0 {
		add("task_id", patch.TaskID)
	}
	strFields := []struct {
		col string
		val *string
	}{
		{"name", patch.Name},
		{"number", patch.Number},
		{"status", patch.Status},
		{"affiliates", patch.Affiliates},
		{"countries", patch.Countries},
		{"sectors", patch.Sectors},
		{"finance_types", patch.FinanceTypes},
		{"fiscal_year_effective", patch.FiscalYearEffective},
		{"date_approved", patch.DateApproved},
		{"date_disclosed", patch.DateDisclosed},
		{"date_effective", patch.DateEffective},
		{"date_last_updated", patch.DateLastUpdated},
		{"date_actual_close", patch.DateActualClose},
		{"date_planned_close", patch.DatePlannedClose},
		{"date_planned_effective", patch.DatePlannedEffective},
		{"date_revised_close", patch.DateRevisedClose},
		{"date_signed", patch.DateSigned},
		{"date_under_appraisal", patch.DateUnderAppraisal},
		{"total_amount_currency", patch.TotalAmountCurrency},
	}
	for _, f := range strFields {
		if f.val != nil {
			add(f.col, *f.val)
		}
	}
	if patch.TotalAmount != nil {
		add("total_amount", *patch.TotalAmount)
	}
	if patch.TotalAmountUSD != nil {
		add("total_amount_usd", *patch.TotalAmountUSD)
	}
	return sets, args
}

// CancelOutstandingTasks cancels every non-terminal task of the job whose
// source is not in keepSources.
func (c *PostgresClient) CancelOutstandingTasks(ctx context.Context, jobID int64, keepSources []string) error {
	if keepSources == nil {
		keepSources = []string{}
	}
	_, err := c.pool.Exec(ctx,
		`UPDATE extraction_task
SET status = $2
WHERE job_id = $1 AND status IN ($3, $4) AND NOT (source = ANY($5))`,
		jobID, string(harvest.StatusCancelled),
		string(harvest.StatusNotStarted), string(harvest.StatusInProgress),
		keepSources)
	if err != nil {
		return fmt.Errorf("cancel outstanding tasks for job %d: %w", jobID, err)
	}
	return nil
}

// CountOutstandingTasks counts the job's tasks still eligible to run or be
// retried.
func (c *PostgresClient) CountOutstandingTasks(ctx context.Context, jobID int64) (int, error) {
	var count int
	err := c.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM extraction_task
WHERE job_id = $1
  AND (status IN ($2, $3) OR (status = $4 AND retry_count < $5))`,
		jobID,
		string(harvest.StatusNotStarted), string(harvest.StatusInProgress),
		string(harvest.StatusError), c.maxRetries).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count outstanding tasks for job %d: %w", jobID, err)
	}
	return count, nil
}

// ResetTasks returns the matching tasks to NotStarted and reports the
// rows reset.
func (c *PostgresClient) ResetTasks(ctx context.Context, jobID int64, sources []string, force bool) ([]harvest.Task, error) {
	if sources == nil {
		sources = []string{}
	}
	sql := `UPDATE extraction_task
SET status = $2
WHERE job_id = $1 AND source = ANY($3)`
	args := []any{jobID, string(harvest.StatusNotStarted), sources}
	if !force {
		sql += ` AND status IN ($4, $5, $6)`
		args = append(args,
			string(harvest.StatusNotStarted),
			string(harvest.StatusInProgress),
			string(harvest.StatusError))
	}
	sql += ` RETURNING ` + taskColumns

	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("reset tasks for job %d: %w", jobID, err)
	}
	defer rows.Close()

	var tasks []harvest.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reset task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read reset tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(rows pgx.Rows) (harvest.Task, error) {
	var t harvest.Task
	err := rows.Scan(
		&t.ID, &t.JobID, &t.Source, &t.WorkflowType, &t.URL, &t.Status,
		&t.CreatedAt, &t.StartedAt, &t.CompletedAt, &t.FailedAt,
		&t.LastError, &t.RetryCount,
	)
	return t, err
}

func scanProject(rows pgx.Rows) (harvest.Project, error) {
	return scanProjectRow(rows)
}

func scanProjectRow(row pgx.Row) (harvest.Project, error) {
	var p harvest.Project
	err := row.Scan(
		&p.ID, &p.TaskID, &p.Source, &p.URL, &p.Name, &p.Number, &p.Status,
		&p.Affiliates, &p.Countries, &p.Sectors, &p.FinanceTypes,
		&p.FiscalYearEffective, &p.DateApproved, &p.DateDisclosed,
		&p.DateEffective, &p.DateLastUpdated, &p.DateActualClose,
		&p.DatePlannedClose, &p.DatePlannedEffective, &p.DateRevisedClose,
		&p.DateSigned, &p.DateUnderAppraisal, &p.TotalAmount,
		&p.TotalAmountCurrency, &p.TotalAmountUSD,
		&p.CreatedAt, &p.LastUpdatedAt,
	)
	return p, err
}
