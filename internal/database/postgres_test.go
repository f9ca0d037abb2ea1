package database

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/opendevdata/harvester/internal/harvest"
)

func newMockClient(t *testing.T) (*PostgresClient, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	client, err := NewPostgresClientWithPool(mock, 2)
	require.NoError(t, err)
	return client, mock
}

func taskRows(now time.Time, ids ...int64) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{
		"id", "job_id", "source", "workflow_type", "url", "status",
		"created_at_utc", "started_at_utc", "completed_at_utc", "failed_at_utc",
		"last_error", "retry_count",
	})
	for _, id := range ids {
		rows.AddRow(id, int64(7), "adb", harvest.WorkflowSeedURLs, "",
			harvest.StatusNotStarted, &now, nil, nil, nil, "", 0)
	}
	return rows
}

func projectRow(now time.Time, id int64) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "task_id", "source", "url", "name", "number", "status",
		"affiliates", "countries", "sectors", "finance_types",
		"fiscal_year_effective", "date_approved", "date_disclosed",
		"date_effective", "date_last_updated", "date_actual_close",
		"date_planned_close", "date_planned_effective", "date_revised_close",
		"date_signed", "date_under_appraisal", "total_amount",
		"total_amount_currency", "total_amount_usd",
		"created_at_utc", "last_updated_at_utc",
	}).AddRow(id, int64(3), "adb", "https://example.org/p/1",
		"Rural Roads", "P-001", "Active",
		"", "Nepal", "Transport", "Loan", "2024",
		"2024-01-10", "", "", "", "", "", "", "", "", "",
		harvest.Float64(1_000_000), "USD", harvest.Float64(1_000_000),
		now, now)
}

func TestCreateOrFindJobCreatesNewJob(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("INSERT INTO extraction_job").
		WithArgs("2026-01-15").
		WillReturnRows(pgxmock.NewRows([]string{"id", "date", "started_at_utc", "completed_at_utc"}).
			AddRow(int64(7), "2026-01-15", &now, nil))

	job, created, err := client.CreateOrFindJob(context.Background(), "2026-01-15")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(7), job.ID)
	require.Equal(t, "2026-01-15", job.Date)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrFindJobFindsExistingJob(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("INSERT INTO extraction_job").
		WithArgs("2026-01-15").
		WillReturnRows(pgxmock.NewRows([]string{"id", "date", "started_at_utc", "completed_at_utc"}))
	mock.ExpectQuery("SELECT (.+) FROM extraction_job").
		WithArgs("2026-01-15").
		WillReturnRows(pgxmock.NewRows([]string{"id", "date", "started_at_utc", "completed_at_utc"}).
			AddRow(int64(7), "2026-01-15", &now, nil))

	job, created, err := client.CreateOrFindJob(context.Background(), "2026-01-15")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, int64(7), job.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrFindJobRejectsFutureDate(t *testing.T) {
	t.Parallel()

	client, _ := newMockClient(t)

	_, _, err := client.CreateOrFindJob(context.Background(), "2999-01-01")
	var verr *harvest.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCreateOrFindJobRejectsMalformedDate(t *testing.T) {
	t.Parallel()

	client, _ := newMockClient(t)

	_, _, err := client.CreateOrFindJob(context.Background(), "15/01/2026")
	var verr *harvest.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestBulkUpsertTasksEmptyBatch(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t)

	tasks, err := client.BulkUpsertTasks(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, tasks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertTasksReturnsAllRows(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("INSERT INTO extraction_task").
		WithArgs(
			int64(7), "adb", harvest.WorkflowSeedURLs, "", string(harvest.StatusNotStarted),
			int64(7), "kfw", harvest.WorkflowSeedURLs, "", string(harvest.StatusNotStarted),
		).
		WillReturnRows(taskRows(now, 1, 2))

	tasks, err := client.BulkUpsertTasks(context.Background(), []harvest.TaskSpec{
		{JobID: 7, Source: "adb", WorkflowType: harvest.WorkflowSeedURLs},
		{JobID: 7, Source: "kfw", WorkflowType: harvest.WorkflowSeedURLs},
	})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, int64(1), tasks[0].ID)
	require.Equal(t, harvest.StatusNotStarted, tasks[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertProjectsEmptyBatch(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t)

	projects, err := client.BulkUpsertProjects(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, projects)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertProjectsUpserts(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("INSERT INTO extracted_project").
		WillReturnRows(projectRow(now, 11))

	projects, err := client.BulkUpsertProjects(context.Background(), []harvest.ProjectSpec{
		{
			TaskID:              3,
			Source:              "adb",
			URL:                 "https://example.org/p/1",
			Name:                "Rural Roads",
			Number:              "P-001",
			Status:              "Active",
			Countries:           "Nepal",
			Sectors:             "Transport",
			FinanceTypes:        "Loan",
			FiscalYearEffective: "2024",
			DateApproved:        "2024-01-10",
			TotalAmount:         harvest.Float64(1_000_000),
			TotalAmountCurrency: "USD",
			TotalAmountUSD:      harvest.Float64(1_000_000),
		},
	})
	require.NoError(t, err)
	require.Len(t, projects, 1)
	require.Equal(t, int64(11), projects[0].ID)
	require.Equal(t, "Rural Roads", projects[0].Name)
	require.NotNil(t, projects[0].TotalAmount)
	require.Equal(t, float64(1_000_000), *projects[0].TotalAmount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTaskSuccessUpdatesRow(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t)

	mock.ExpectExec("UPDATE extraction_task").
		WithArgs(int64(5), string(harvest.StatusCompleted), 1,
			string(harvest.StatusNotStarted), string(harvest.StatusInProgress)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, client.MarkTaskSuccess(context.Background(), 5, 1))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTaskSuccessAfterCancelIsNoOp(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t)

	mock.ExpectExec("UPDATE extraction_task").
		WithArgs(int64(5), string(harvest.StatusCompleted), 0,
			string(harvest.StatusNotStarted), string(harvest.StatusInProgress)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM extraction_task").
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).
			AddRow(string(harvest.StatusCancelled)))

	require.NoError(t, client.MarkTaskSuccess(context.Background(), 5, 0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTaskSuccessMissingTask(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t)

	mock.ExpectExec("UPDATE extraction_task").
		WithArgs(int64(99), string(harvest.StatusCompleted), 0,
			string(harvest.StatusNotStarted), string(harvest.StatusInProgress)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM extraction_task").
		WithArgs(int64(99)).
		WillReturnRows(pgxmock.NewRows([]string{"status"}))

	err := client.MarkTaskSuccess(context.Background(), 99, 0)
	var nferr *harvest.NotFoundError
	require.ErrorAs(t, err, &nferr)
	require.Equal(t, "task", nferr.Entity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTaskFailureRecordsError(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t)

	mock.ExpectExec("UPDATE extraction_task").
		WithArgs(int64(5), string(harvest.StatusError), "fetch timed out", 2,
			string(harvest.StatusNotStarted), string(harvest.StatusInProgress)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, client.MarkTaskFailure(context.Background(), 5, "fetch timed out", 2))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTaskPendingStartsTask(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t)

	mock.ExpectExec("UPDATE extraction_task").
		WithArgs(int64(5), string(harvest.StatusInProgress),
			string(harvest.StatusCompleted), string(harvest.StatusCancelled)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, client.MarkTaskPending(context.Background(), 5))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountOutstandingTasksUsesRetryBudget(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(int64(7),
			string(harvest.StatusNotStarted), string(harvest.StatusInProgress),
			string(harvest.StatusError), 2).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	count, err := client.CountOutstandingTasks(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelOutstandingTasksKeepsSources(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t)

	mock.ExpectExec("UPDATE extraction_task").
		WithArgs(int64(7), string(harvest.StatusCancelled),
			string(harvest.StatusNotStarted), string(harvest.StatusInProgress),
			[]string{"adb"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	require.NoError(t, client.CancelOutstandingTasks(context.Background(), 7, []string{"adb"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetTasksGuardsTerminalStates(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("UPDATE extraction_task").
		WithArgs(int64(7), string(harvest.StatusNotStarted), []string{"adb"},
			string(harvest.StatusNotStarted), string(harvest.StatusInProgress),
			string(harvest.StatusError)).
		WillReturnRows(taskRows(now, 1))

	tasks, err := client.ResetTasks(context.Background(), 7, []string{"adb"}, false)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetTasksForceIncludesTerminalStates(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("UPDATE extraction_task").
		WithArgs(int64(7), string(harvest.StatusNotStarted), []string{"adb"}).
		WillReturnRows(taskRows(now, 1, 2))

	tasks, err := client.ResetTasks(context.Background(), 7, []string{"adb"}, true)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPatchProjectNotFound(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t)

	mock.ExpectQuery("SELECT id FROM extracted_project").
		WithArgs("adb", "https://example.org/p/404").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := client.PatchProject(context.Background(), harvest.ProjectPatch{
		Source: "adb",
		URL:    "https://example.org/p/404",
	})
	var nferr *harvest.NotFoundError
	require.ErrorAs(t, err, &nferr)
	require.Equal(t, "project", nferr.Entity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPatchProjectDuplicateKey(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t)

	mock.ExpectQuery("SELECT id FROM extracted_project").
		WithArgs("adb", "https://example.org/p/1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).
			AddRow(int64(11)).AddRow(int64(12)))

	_, err := client.PatchProject(context.Background(), harvest.ProjectPatch{
		Source: "adb",
		URL:    "https://example.org/p/1",
	})
	var cerr *harvest.ConflictError
	require.ErrorAs(t, err, &cerr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPatchProjectUpdatesPopulatedFieldsOnly(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT id FROM extracted_project").
		WithArgs("adb", "https://example.org/p/1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectQuery("UPDATE extracted_project").
		WithArgs(int64(9), "Active", float64(2_000_000), int64(11)).
		WillReturnRows(projectRow(now, 11))

	project, err := client.PatchProject(context.Background(), harvest.ProjectPatch{
		TaskID:      9,
		Source:      "adb",
		URL:         "https://example.org/p/1",
		Status:      harvest.String("Active"),
		TotalAmount: harvest.Float64(2_000_000),
	})
	require.NoError(t, err)
	require.Equal(t, int64(11), project.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresClientWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresClientWithPool(nil, 2)
	require.Error(t, err)
}
