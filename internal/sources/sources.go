// Package sources holds the per-bank adapters. Each adapter implements the
// retrieval hooks for its pipeline stages; the stage envelope, task
// bookkeeping, and fan-out live in the workflows package. Register is the
// single place a new bank gets wired in.
package sources

import (
	"github.com/opendevdata/harvester/internal/harvest"
	"github.com/opendevdata/harvester/internal/workflows"
)

// Source names, used as registry keys, queue topic suffixes, and the
// source column of tasks and projects.
const (
	SourceADB  = "adb"
	SourceBIO  = "bio"
	SourceEBRD = "ebrd"
	SourceKFW  = "kfw"
)

// Register wires every built-in source into the registry.
func Register(reg *workflows.Registry) {
	// ADB: paginated search results, then one scrape per project page.
	reg.RegisterStarter(SourceADB, harvest.WorkflowSeedURLs)
	reg.Register(SourceADB, harvest.WorkflowSeedURLs, func(deps workflows.Deps) workflows.Workflow {
		return workflows.NewSeedURLs(deps, harvest.WorkflowResultsScrape, newADB(deps))
	})
	reg.Register(SourceADB, harvest.WorkflowResultsScrape, func(deps workflows.Deps) workflows.Workflow {
		return workflows.NewResultsScrape(deps, harvest.WorkflowProjectScrape, newADB(deps))
	})
	reg.Register(SourceADB, harvest.WorkflowProjectScrape, func(deps workflows.Deps) workflows.Workflow {
		return workflows.NewProjectScrape(deps, newADB(deps))
	})

	// BIO: listing cards carry data the detail pages lack, so the results
	// stage writes partial rows and the detail stage patches them.
	reg.RegisterStarter(SourceBIO, harvest.WorkflowSeedURLs)
	reg.Register(SourceBIO, harvest.WorkflowSeedURLs, func(deps workflows.Deps) workflows.Workflow {
		return workflows.NewSeedURLs(deps, harvest.WorkflowResultsMultiScrape, newBIO(deps))
	})
	reg.Register(SourceBIO, harvest.WorkflowResultsMultiScrape, func(deps workflows.Deps) workflows.Workflow {
		return workflows.NewResultsMultiScrape(deps, harvest.WorkflowProjectPartialScrape, newBIO(deps))
	})
	reg.Register(SourceBIO, harvest.WorkflowProjectPartialScrape, func(deps workflows.Deps) workflows.Workflow {
		return workflows.NewProjectPartialScrape(deps, newBIO(deps))
	})

	// EBRD: one CSV export with partial rows plus per-project enrichment.
	reg.RegisterStarter(SourceEBRD, harvest.WorkflowProjectPartialDownload)
	reg.Register(SourceEBRD, harvest.WorkflowProjectPartialDownload, func(deps workflows.Deps) workflows.Workflow {
		return workflows.NewProjectPartialDownload(deps, harvest.WorkflowProjectPartialScrape, newEBRD(deps))
	})
	reg.Register(SourceEBRD, harvest.WorkflowProjectPartialScrape, func(deps workflows.Deps) workflows.Workflow {
		return workflows.NewProjectPartialScrape(deps, newEBRD(deps))
	})

	// KfW: single bulk JSON download, no successor stages.
	reg.RegisterStarter(SourceKFW, harvest.WorkflowProjectDownload)
	reg.Register(SourceKFW, harvest.WorkflowProjectDownload, func(deps workflows.Deps) workflows.Workflow {
		return workflows.NewProjectDownload(deps, newKFW(deps))
	})
}
