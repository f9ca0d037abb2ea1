package workflows

import (
	"context"
	"fmt"

	"github.com/opendevdata/harvester/internal/harvest"
)

// DownloadHooks pulls a source's bulk export and cleans it into project
// rows.
type DownloadHooks interface {
	DownloadProjects(ctx context.Context) ([]byte, string, error)
	CleanProjects(ctx context.Context, raw []byte) ([]harvest.ProjectSpec, error)
}

// ProjectDownload ingests a whole source in one bulk file. Terminal.
type ProjectDownload struct {
	deps  Deps
	hooks DownloadHooks
}

func NewProjectDownload(deps Deps, hooks DownloadHooks) *ProjectDownload {
	return &ProjectDownload{deps: deps, hooks: hooks}
}

func (w *ProjectDownload) NextWorkflow() string { return "" }

func (w *ProjectDownload) Execute(ctx context.Context, d Delivery) error {
	return execute(ctx, w.deps, d, harvest.WorkflowProjectDownload, func(ctx context.Context) error {
		raw, contentType, err := w.hooks.DownloadProjects(ctx)
		if err != nil {
			return err
		}
		archivePayload(ctx, w.deps, d, harvest.WorkflowProjectDownload, contentType, raw)

		specs, err := w.hooks.CleanProjects(ctx, raw)
		if err != nil {
			return err
		}
		if _, err := w.deps.DB.BulkUpsertProjects(ctx, stampProjects(d, specs)); err != nil {
			return fmt.Errorf("upsert %d projects: %w", len(specs), err)
		}
		return nil
	})
}

// PartialDownloadHooks is DownloadHooks for two-phase sources: the cleaned
// bulk file also yields per-record locators that a later stage enriches.
type PartialDownloadHooks interface {
	DownloadProjects(ctx context.Context) ([]byte, string, error)
	CleanProjects(ctx context.Context, raw []byte) ([]harvest.ProjectSpec, []string, error)
}

// ProjectPartialDownload ingests a bulk file and fans out one enrichment
// task per returned locator.
type ProjectPartialDownload struct {
	deps  Deps
	next  string
	hooks PartialDownloadHooks
}

func NewProjectPartialDownload(deps Deps, next string, hooks PartialDownloadHooks) *ProjectPartialDownload {
	return &ProjectPartialDownload{deps: deps, next: next, hooks: hooks}
}

func (w *ProjectPartialDownload) NextWorkflow() string { return w.next }

func (w *ProjectPartialDownload) Execute(ctx context.Context, d Delivery) error {
	return execute(ctx, w.deps, d, harvest.WorkflowProjectPartialDownload, func(ctx context.Context) error {
		raw, contentType, err := w.hooks.DownloadProjects(ctx)
		if err != nil {
			return err
		}
		archivePayload(ctx, w.deps, d, harvest.WorkflowProjectPartialDownload, contentType, raw)

		specs, urls, err := w.hooks.CleanProjects(ctx, raw)
		if err != nil {
			return err
		}
		if _, err := w.deps.DB.BulkUpsertProjects(ctx, stampProjects(d, specs)); err != nil {
			return fmt.Errorf("upsert %d projects: %w", len(specs), err)
		}
		return fanOut(ctx, w.deps, d, w.next, urls)
	})
}
