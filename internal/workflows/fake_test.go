package workflows

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opendevdata/harvester/internal/harvest"
	"github.com/opendevdata/harvester/internal/queue"
)

// fakeDB is an in-memory database.Client with the same transition guards as
// the real store.
type fakeDB struct {
	mu       sync.Mutex
	nextID   int64
	tasks    []*harvest.Task
	projects map[string]*harvest.Project

	pendingErr error
	upsertErr  error
}

func newFakeDB() *fakeDB {
	return &fakeDB{projects: make(map[string]*harvest.Project)}
}

func (f *fakeDB) addTask(t harvest.Task) *harvest.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t.ID = f.nextID
	if t.Status == "" {
		t.Status = harvest.StatusNotStarted
	}
	stored := t
	f.tasks = append(f.tasks, &stored)
	return &stored
}

func (f *fakeDB) task(id int64) *harvest.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (f *fakeDB) addProject(p harvest.Project) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := p
	f.projects[p.Source+":"+p.URL] = &stored
}

func (f *fakeDB) project(source, url string) *harvest.Project {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.projects[source+":"+url]
}

func (f *fakeDB) CreateOrFindJob(_ context.Context, date string) (harvest.Job, bool, error) {
	return harvest.Job{ID: 1, Date: date}, true, nil
}

func (f *fakeDB) MarkJobCompleted(context.Context, int64) error { return nil }

func (f *fakeDB) BulkUpsertTasks(_ context.Context, specs []harvest.TaskSpec) ([]harvest.Task, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]harvest.Task, 0, len(specs))
	for _, spec := range specs {
		var row *harvest.Task
		for _, t := range f.tasks {
			if t.JobID == spec.JobID && t.Source == spec.Source &&
				t.WorkflowType == spec.WorkflowType && t.URL == spec.URL {
				row = t
				break
			}
		}
		if row == nil {
			f.nextID++
			row = &harvest.Task{
				ID:           f.nextID,
				JobID:        spec.JobID,
				Source:       spec.Source,
				WorkflowType: spec.WorkflowType,
				URL:          spec.URL,
			}
			f.tasks = append(f.tasks, row)
		}
		row.Status = harvest.StatusNotStarted
		out = append(out, *row)
	}
	return out, nil
}

func (f *fakeDB) BulkUpsertProjects(_ context.Context, specs []harvest.ProjectSpec) ([]harvest.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]harvest.Project, 0, len(specs))
	for _, spec := range specs {
		key := spec.Source + ":" + spec.URL
		row, ok := f.projects[key]
		if !ok {
			f.nextID++
			row = &harvest.Project{ID: f.nextID}
			f.projects[key] = row
		}
		row.TaskID = spec.TaskID
		row.Source = spec.Source
		row.URL = spec.URL
		row.Name = spec.Name
		row.Number = spec.Number
		row.Status = spec.Status
		row.Countries = spec.Countries
		row.Sectors = spec.Sectors
		row.TotalAmount = spec.TotalAmount
		row.TotalAmountCurrency = spec.TotalAmountCurrency
		out = append(out, *row)
	}
	return out, nil
}

func (f *fakeDB) MarkTaskPending(_ context.Context, taskID int64) error {
	if f.pendingErr != nil {
		return f.pendingErr
	}
	t := f.task(taskID)
	if t == nil {
		return &harvest.NotFoundError{Entity: "task", Key: fmt.Sprintf("%d", taskID)}
	}
	if !t.Status.Terminal() {
		t.Status = harvest.StatusInProgress
	}
	return nil
}

func (f *fakeDB) MarkTaskSuccess(_ context.Context, taskID int64, retryCount int) error {
	t := f.task(taskID)
	if t == nil {
		return &harvest.NotFoundError{Entity: "task", Key: fmt.Sprintf("%d", taskID)}
	}
	if t.Status == harvest.StatusNotStarted || t.Status == harvest.StatusInProgress {
		t.Status = harvest.StatusCompleted
		t.RetryCount = retryCount
	}
	return nil
}

func (f *fakeDB) MarkTaskFailure(_ context.Context, taskID int64, errMsg string, retryCount int) error {
	t := f.task(taskID)
	if t == nil {
		return &harvest.NotFoundError{Entity: "task", Key: fmt.Sprintf("%d", taskID)}
	}
	if t.Status == harvest.StatusNotStarted || t.Status == harvest.StatusInProgress {
		t.Status = harvest.StatusError
		t.LastError = errMsg
		t.RetryCount = retryCount
	}
	return nil
}

func (f *fakeDB) PatchProject(_ context.Context, patch harvest.ProjectPatch) (harvest.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.projects[patch.Source+":"+patch.URL]
	if !ok {
		return harvest.Project{}, &harvest.NotFoundError{
			Entity: "project",
			Key:    patch.Source + ":" + patch.URL,
		}
	}
	if patch.TaskID != 0 {
		row.TaskID = patch.TaskID
	}
	if patch.Name != nil {
		row.Name = *patch.Name
	}
	if patch.Status != nil {
		row.Status = *patch.Status
	}
	if patch.TotalAmount != nil {
		row.TotalAmount = patch.TotalAmount
	}
	return *row, nil
}

func (f *fakeDB) CancelOutstandingTasks(_ context.Context, jobID int64, keepSources []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	keep := make(map[string]struct{}, len(keepSources))
	for _, s := range keepSources {
		keep[s] = struct{}{}
	}
	for _, t := range f.tasks {
		if t.JobID != jobID || t.Status.Terminal() || t.Status == harvest.StatusError {
			continue
		}
		if _, ok := keep[t.Source]; !ok {
			t.Status = harvest.StatusCancelled
		}
	}
	return nil
}

func (f *fakeDB) CountOutstandingTasks(_ context.Context, jobID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, t := range f.tasks {
		if t.JobID != jobID {
			continue
		}
		switch t.Status {
		case harvest.StatusNotStarted, harvest.StatusInProgress:
			count++
		case harvest.StatusError:
			if t.RetryCount < 2 {
				count++
			}
		}
	}
	return count, nil
}

func (f *fakeDB) ResetTasks(_ context.Context, jobID int64, sources []string, force bool) ([]harvest.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		want[s] = struct{}{}
	}
	var out []harvest.Task
	for _, t := range f.tasks {
		if t.JobID != jobID {
			continue
		}
		if _, ok := want[t.Source]; !ok {
			continue
		}
		if !force && t.Status.Terminal() {
			continue
		}
		t.Status = harvest.StatusNotStarted
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeDB) Close() {}

// failingQueue rejects every publish.
type failingQueue struct{}

var errQueueDown = errors.New("queue unavailable")

func (failingQueue) Publish(context.Context, string, queue.TaskMessage) error { return errQueueDown }

func (failingQueue) Purge(context.Context, string) error { return nil }

func (failingQueue) Close() error { return nil }

// fakeArchive records what was archived.
type fakeArchive struct {
	mu          sync.Mutex
	keys        []string
	contentType string
	data        []byte
}

func (a *fakeArchive) Put(_ context.Context, key, contentType string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	a.contentType = contentType
	a.data = append([]byte(nil), data...)
	return "mem://" + key, nil
}

func (a *fakeArchive) Close() error { return nil }
