package workflows

import (
	"context"
	"fmt"

	"github.com/opendevdata/harvester/internal/harvest"
)

// ResultsHooks extracts detail-page locators from one results listing.
type ResultsHooks interface {
	ScrapeResultsPage(ctx context.Context, url string) ([]string, error)
}

// ResultsScrape walks one page of a source's search results and fans the
// detail links out to the successor stage. It writes no project records.
type ResultsScrape struct {
	deps  Deps
	next  string
	hooks ResultsHooks
}

func NewResultsScrape(deps Deps, next string, hooks ResultsHooks) *ResultsScrape {
	return &ResultsScrape{deps: deps, next: next, hooks: hooks}
}

func (w *ResultsScrape) NextWorkflow() string { return w.next }

func (w *ResultsScrape) Execute(ctx context.Context, d Delivery) error {
	return execute(ctx, w.deps, d, harvest.WorkflowResultsScrape, func(ctx context.Context) error {
		urls, err := w.hooks.ScrapeResultsPage(ctx, d.URL)
		if err != nil {
			return err
		}
		return fanOut(ctx, w.deps, d, w.next, urls)
	})
}

// MultiScrapeHooks extracts both detail locators and the partial records a
// listing page already carries.
type MultiScrapeHooks interface {
	ScrapeResultsPage(ctx context.Context, url string) ([]string, []harvest.ProjectSpec, error)
}

// ResultsMultiScrape handles listing pages that carry data the detail pages
// lack. It writes partial project rows and fans out the detail links in the
// same pass; a later stage enriches the rows by locator.
type ResultsMultiScrape struct {
	deps  Deps
	next  string
	hooks MultiScrapeHooks
}

func NewResultsMultiScrape(deps Deps, next string, hooks MultiScrapeHooks) *ResultsMultiScrape {
	return &ResultsMultiScrape{deps: deps, next: next, hooks: hooks}
}

func (w *ResultsMultiScrape) NextWorkflow() string { return w.next }

func (w *ResultsMultiScrape) Execute(ctx context.Context, d Delivery) error {
	return execute(ctx, w.deps, d, harvest.WorkflowResultsMultiScrape, func(ctx context.Context) error {
		urls, specs, err := w.hooks.ScrapeResultsPage(ctx, d.URL)
		if err != nil {
			return err
		}
		if _, err := w.deps.DB.BulkUpsertProjects(ctx, stampProjects(d, specs)); err != nil {
			return fmt.Errorf("upsert %d partial projects: %w", len(specs), err)
		}
		return fanOut(ctx, w.deps, d, w.next, urls)
	})
}
