package workflows

import (
	"context"

	"github.com/opendevdata/harvester/internal/harvest"
)

// SeedHooks produces a source's initial set of resource locators.
type SeedHooks interface {
	GenerateSeedURLs(ctx context.Context) ([]string, error)
}

// SeedURLs is the bootstrap stage of a pipeline. It has no input locator;
// it derives the first generation of locators and fans them out to the
// successor stage.
type SeedURLs struct {
	deps  Deps
	next  string
	hooks SeedHooks
}

// NewSeedURLs builds the stage. next names the successor workflow type.
func NewSeedURLs(deps Deps, next string, hooks SeedHooks) *SeedURLs {
	return &SeedURLs{deps: deps, next: next, hooks: hooks}
}

func (w *SeedURLs) NextWorkflow() string { return w.next }

func (w *SeedURLs) Execute(ctx context.Context, d Delivery) error {
	return execute(ctx, w.deps, d, harvest.WorkflowSeedURLs, func(ctx context.Context) error {
		urls, err := w.hooks.GenerateSeedURLs(ctx)
		if err != nil {
			return err
		}
		return fanOut(ctx, w.deps, d, w.next, urls)
	})
}
