package pipelines

import (
	"fmt"
	"sort"
	"strings"

	"trtbuild/pkg/types"
)

// Task is a pipeline task name, matching the hub convention.
type Task string

const (
	TaskTextGeneration Task = "text-generation"
)

// registration couples a pipeline constructor with the loader that knows how
// to open the engine layout that pipeline expects.
type registration struct {
	newPipeline func(eng *Engine, tok Tokenizer, run Runner) Pipeline
	loader      EngineLoader
}

// Registry maps (architecture, task) to a pipeline implementation. It is
// constructed once; callers hold a reference rather than reaching for a
// package-level table.
type Registry struct {
	entries map[types.Architecture]map[Task]registration
}

// NewRegistry builds the default registry. Gemma engines can be built but do
// not yet have a pipeline, so resolving them reports not-implemented.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[types.Architecture]map[Task]registration)}
	causal := registration{
		newPipeline: newTextGenerationPipeline,
		loader:      causalLMLoader{},
	}
	r.register(types.ArchLlama, TaskTextGeneration, causal)
	r.register(types.ArchMistral, TaskTextGeneration, causal)
	return r
}

// register adds or replaces an entry.
func (r *Registry) register(arch types.Architecture, task Task, reg registration) {
	m, ok := r.entries[arch]
	if !ok {
		m = make(map[Task]registration)
		r.entries[arch] = m
	}
	m[task] = reg
}

// Resolve returns the registration for the pair, or a not-implemented error
// naming what is supported.
func (r *Registry) Resolve(arch types.Architecture, task Task) (registration, error) {
	m, ok := r.entries[arch]
	if !ok {
		return registration{}, ErrNotImplemented(fmt.Sprintf(
			"model type %q is not supported; supported: %s", arch, r.supportedArchs()))
	}
	reg, ok := m[task]
	if !ok {
		return registration{}, ErrNotImplemented(fmt.Sprintf(
			"task %q is not supported for %q; supported tasks: %s", task, arch, r.supportedTasks(arch)))
	}
	return reg, nil
}

func (r *Registry) supportedArchs() string {
	names := make([]string, 0, len(r.entries))
	for arch := range r.entries {
		names = append(names, arch.String())
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func (r *Registry) supportedTasks(arch types.Architecture) string {
	names := make([]string, 0, len(r.entries[arch]))
	for task := range r.entries[arch] {
		names = append(names, string(task))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
