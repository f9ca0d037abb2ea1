// Package harvest defines the domain entities shared across the service:
// jobs, tasks, the task status machine, harvested project records, and the
// error taxonomy used at the HTTP and CLI boundaries.
package harvest

import "time"

// TaskStatus enumerates the lifecycle states of an extraction task.
// The string values are stored verbatim in the database.
type TaskStatus string

// Task statuses. Completed and Cancelled are terminal; only an explicit
// force-reset returns a terminal task to NotStarted.
const (
	StatusNotStarted TaskStatus = "Not Started"
	StatusInProgress TaskStatus = "In Progress"
	StatusCompleted  TaskStatus = "Completed"
	StatusCancelled  TaskStatus = "Cancelled"
	StatusError      TaskStatus = "Error"
)

// Terminal reports whether the status ends a task's lifecycle under normal
// operation.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Workflow type names. Each names one stage in a source's retrieval pipeline
// and keys the workflow registry together with the source.
const (
	WorkflowSeedURLs               = "seed-urls"
	WorkflowResultsScrape          = "results-scrape"
	WorkflowResultsMultiScrape     = "results-multiscrape"
	WorkflowProjectDownload        = "project-download"
	WorkflowProjectPartialDownload = "project-partial-download"
	WorkflowProjectScrape          = "project-scrape"
	WorkflowProjectPartialScrape   = "project-partial-scrape"
)

// Job is one processing cycle, keyed by a UTC date ("YYYY-MM-DD").
type Job struct {
	ID          int64
	Date        string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Task is one unit of retrieval work scoped to a single
// (job, source, workflow type, URL) tuple, which is unique in storage.
type Task struct {
	ID           int64
	JobID        int64
	Source       string
	WorkflowType string
	URL          string
	Status       TaskStatus
	CreatedAt    *time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	FailedAt     *time.Time
	LastError    string
	RetryCount   int
}

// TaskSpec describes a task to upsert. Status defaults to NotStarted.
type TaskSpec struct {
	JobID        int64
	Source       string
	WorkflowType string
	URL          string
}

// Project is a harvested development project record, unique on (source, url).
// Date fields are formatted as YYYY, YYYY-MM, or YYYY-MM-DD; list fields are
// pipe-delimited.
type Project struct {
	ID                   int64
	TaskID               int64
	Source               string
	URL                  string
	Name                 string
	Number               string
	Status               string
	Affiliates           string
	Countries            string
	Sectors              string
	FinanceTypes         string
	FiscalYearEffective  string
	DateApproved         string
	DateDisclosed        string
	DateEffective        string
	DateLastUpdated      string
	DateActualClose      string
	DatePlannedClose     string
	DatePlannedEffective string
	DateRevisedClose     string
	DateSigned           string
	DateUnderAppraisal   string
	TotalAmount          *float64
	TotalAmountCurrency  string
	TotalAmountUSD       *float64
	CreatedAt            time.Time
	LastUpdatedAt        time.Time
}

// ProjectSpec describes a full project row to upsert. Repeated upserts of the
// same (source, url) key overwrite the non-key fields; timestamps are
// assigned by the database.
type ProjectSpec struct {
	TaskID               int64
	Source               string
	URL                  string
	Name                 string
	Number               string
	Status               string
	Affiliates           string
	Countries            string
	Sectors              string
	FinanceTypes         string
	FiscalYearEffective  string
	DateApproved         string
	DateDisclosed        string
	DateEffective        string
	DateLastUpdated      string
	DateActualClose      string
	DatePlannedClose     string
	DatePlannedEffective string
	DateRevisedClose     string
	DateSigned           string
	DateUnderAppraisal   string
	TotalAmount          *float64
	TotalAmountCurrency  string
	TotalAmountUSD       *float64
}

// ProjectPatch is a partial update to an existing project, located by its
// (source, url) natural key. Nil fields are left untouched, so a later stage
// can enrich a record without clobbering what an earlier stage wrote.
type ProjectPatch struct {
	TaskID int64
	Source string
	URL    string

	Name                 *string
	Number               *string
	Status               *string
	Affiliates           *string
	Countries            *string
	Sectors              *string
	FinanceTypes         *string
	FiscalYearEffective  *string
	DateApproved         *string
	DateDisclosed        *string
	DateEffective        *string
	DateLastUpdated      *string
	DateActualClose      *string
	DatePlannedClose     *string
	DatePlannedEffective *string
	DateRevisedClose     *string
	DateSigned           *string
	DateUnderAppraisal   *string
	TotalAmount          *float64
	TotalAmountCurrency  *string
	TotalAmountUSD       *float64
}

// String returns a pointer to s, for populating ProjectPatch fields.
func String(s string) *string { return &s }

// Float64 returns a pointer to f, for populating amount fields.
func Float64(f float64) *float64 { return &f }
