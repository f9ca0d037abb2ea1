package workflows

import (
	"sort"

	"github.com/opendevdata/harvester/internal/harvest"
)

// Factory constructs one workflow instance with its collaborators wired in.
type Factory func(deps Deps) Workflow

type registryKey struct {
	source       string
	workflowType string
}

// Registry maps (source, workflow type) pairs to factories and each source
// to its starter stage. It is built once at process start and passed
// explicitly to the dispatch endpoint and the orchestrator; it holds no
// other state and performs no business logic.
type Registry struct {
	starters  map[string]string
	factories map[registryKey]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		starters:  make(map[string]string),
		factories: make(map[registryKey]Factory),
	}
}

// RegisterStarter records the stage that bootstraps the source's pipeline.
func (r *Registry) RegisterStarter(source, workflowType string) {
	r.starters[source] = workflowType
}

// Register wires a factory for one (source, workflow type) pair.
func (r *Registry) Register(source, workflowType string, f Factory) {
	r.factories[registryKey{source: source, workflowType: workflowType}] = f
}

// Get constructs the workflow for the pair, or returns ConfigurationError
// if it was never registered.
func (r *Registry) Get(source, workflowType string, deps Deps) (Workflow, error) {
	f, ok := r.factories[registryKey{source: source, workflowType: workflowType}]
	if !ok {
		return nil, &harvest.ConfigurationError{Source: source, WorkflowType: workflowType}
	}
	return f(deps), nil
}

// Starter returns the source's bootstrap stage name.
func (r *Registry) Starter(source string) (string, error) {
	stage, ok := r.starters[source]
	if !ok {
		return "", &harvest.ConfigurationError{Source: source}
	}
	return stage, nil
}

// HasSource reports whether the source has a registered starter stage.
func (r *Registry) HasSource(source string) bool {
	_, ok := r.starters[source]
	return ok
}

// Sources lists every registered source in sorted order.
func (r *Registry) Sources() []string {
	out := make([]string, 0, len(r.starters))
	for s := range r.starters {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
