package pipelines

import (
	"context"

	"trtbuild/pkg/types"
)

// Pipeline is a runnable, task-specific wrapper around a built engine.
type Pipeline interface {
	Task() Task
	Engine() *Engine
	Generate(ctx context.Context, prompt string, params GenerationParams) (*Generation, error)
	Close() error
}

// Option customizes factory construction, mainly for tests and embedders that
// already hold a tokenizer, engine or runner.
type Option func(*factoryOptions)

type factoryOptions struct {
	tokenizer Tokenizer
	engine    *Engine
	runner    Runner
}

// WithTokenizer supplies a tokenizer instead of loading tokenizer.json.
func WithTokenizer(tok Tokenizer) Option {
	return func(o *factoryOptions) { o.tokenizer = tok }
}

// WithEngine supplies an already-loaded engine instead of reading modelDir.
func WithEngine(eng *Engine) Option {
	return func(o *factoryOptions) { o.engine = eng }
}

// WithRunner supplies a runner instead of the subprocess executor.
func WithRunner(run Runner) Option {
	return func(o *factoryOptions) { o.runner = run }
}

// New resolves the model type in modelDir against the registry and assembles
// a pipeline for the task: engine, tokenizer, runner.
func (r *Registry) New(task Task, modelDir string, opts ...Option) (Pipeline, error) {
	var o factoryOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := types.LoadModelConfig(modelDir)
	if o.engine != nil {
		cfg = o.engine.Config
	} else if err != nil {
		return nil, err
	}

	arch, err := types.ParseArchitecture(cfg.ModelType)
	if err != nil {
		return nil, ErrNotImplemented(err.Error())
	}
	reg, err := r.Resolve(arch, task)
	if err != nil {
		return nil, err
	}

	eng := o.engine
	if eng == nil {
		eng, err = reg.loader.Load(modelDir)
		if err != nil {
			return nil, err
		}
	}

	tok := o.tokenizer
	if tok == nil {
		tok, err = LoadTokenizer(eng.Dir)
		if err != nil {
			return nil, err
		}
	}

	run := o.runner
	if run == nil {
		run = newDefaultRunner(eng.Dir)
	}

	return reg.newPipeline(eng, tok, run), nil
}
