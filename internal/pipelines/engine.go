package pipelines

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"trtbuild/pkg/types"
)

// Engine is a built engine directory: per-rank engine files plus the shared
// config written by the builder.
type Engine struct {
	Dir    string
	Config types.ModelConfig
	Files  []types.Engine
}

var engineNameRe = regexp.MustCompile(`^(.+)_([a-z0-9]+)_tp(\d+)_rank(\d+)\.engine$`)

// LoadEngine validates and indexes a built engine directory.
func LoadEngine(dir string) (*Engine, error) {
	cfg, err := types.LoadModelConfig(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read engine dir: %w", err)
	}
	var files []types.Engine
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := engineNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		tp, _ := strconv.Atoi(m[3])
		rank, _ := strconv.Atoi(m[4])
		files = append(files, types.Engine{
			ModelType: m[1],
			Dtype:     m[2],
			TPDegree:  tp,
			Rank:      rank,
			Path:      filepath.Join(dir, e.Name()),
		})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no engine files in %s; run the build first", dir)
	}
	return &Engine{Dir: dir, Config: cfg, Files: files}, nil
}

// EngineLoader loads an engine directory for a pipeline.
type EngineLoader interface {
	Load(dir string) (*Engine, error)
}

// causalLMLoader is the default loader for decoder-only engines.
type causalLMLoader struct{}

func (causalLMLoader) Load(dir string) (*Engine, error) { return LoadEngine(dir) }

// GenerationParams tune one generation call.
type GenerationParams struct {
	MaxNewTokens int
	Temperature  float32
	TopP         float32
	TopK         int
	Seed         int
}

// Runner executes a loaded engine. Infer returns the newly generated token
// ids for one prompt.
type Runner interface {
	Infer(ctx context.Context, inputIDs []int, params GenerationParams) ([]int, error)
	Close() error
}

// unavailableRunner is installed when no executor binary is configured; it
// keeps pipeline construction working (metadata, tokenizer) while generation
// fails with a clear error.
type unavailableRunner struct{}

func (unavailableRunner) Infer(context.Context, []int, GenerationParams) ([]int, error) {
	return nil, ErrDependencyUnavailable("engine executor not configured (set " + envExecutorBin + ")")
}

func (unavailableRunner) Close() error { return nil }
