package workflows

import (
	"context"
	"fmt"

	"github.com/opendevdata/harvester/internal/harvest"
)

// ScrapeHooks extracts full project records from one detail page.
type ScrapeHooks interface {
	ScrapeProject(ctx context.Context, url string) ([]harvest.ProjectSpec, error)
}

// ProjectScrape harvests one detail page into complete project rows.
// Terminal.
type ProjectScrape struct {
	deps  Deps
	hooks ScrapeHooks
}

func NewProjectScrape(deps Deps, hooks ScrapeHooks) *ProjectScrape {
	return &ProjectScrape{deps: deps, hooks: hooks}
}

func (w *ProjectScrape) NextWorkflow() string { return "" }

func (w *ProjectScrape) Execute(ctx context.Context, d Delivery) error {
	return execute(ctx, w.deps, d, harvest.WorkflowProjectScrape, func(ctx context.Context) error {
		specs, err := w.hooks.ScrapeProject(ctx, d.URL)
		if err != nil {
			return err
		}
		if _, err := w.deps.DB.BulkUpsertProjects(ctx, stampProjects(d, specs)); err != nil {
			return fmt.Errorf("upsert %d projects: %w", len(specs), err)
		}
		return nil
	})
}

// PartialScrapeHooks extracts field patches for records an earlier stage
// already created.
type PartialScrapeHooks interface {
	ScrapeProjectPartial(ctx context.Context, url string) ([]harvest.ProjectPatch, error)
}

// ProjectPartialScrape enriches existing project rows from one detail page.
// Patches merge into the row located by (source, url); fields the patch
// leaves nil keep their earlier values. Terminal.
type ProjectPartialScrape struct {
	deps  Deps
	hooks PartialScrapeHooks
}

func NewProjectPartialScrape(deps Deps, hooks PartialScrapeHooks) *ProjectPartialScrape {
	return &ProjectPartialScrape{deps: deps, hooks: hooks}
}

func (w *ProjectPartialScrape) NextWorkflow() string { return "" }

func (w *ProjectPartialScrape) Execute(ctx context.Context, d Delivery) error {
	return execute(ctx, w.deps, d, harvest.WorkflowProjectPartialScrape, func(ctx context.Context) error {
		patches, err := w.hooks.ScrapeProjectPartial(ctx, d.URL)
		if err != nil {
			return err
		}
		for _, patch := range patches {
			if patch.TaskID == 0 {
				patch.TaskID = d.TaskID
			}
			if patch.Source == "" {
				patch.Source = d.Source
			}
			if _, err := w.deps.DB.PatchProject(ctx, patch); err != nil {
				return fmt.Errorf("patch project %s:%s: %w", patch.Source, patch.URL, err)
			}
		}
		return nil
	})
}
