// Package serve adapts a loaded pipeline to the HTTP API surface.
package serve

import (
	"context"
	"sync"

	"trtbuild/internal/pipelines"
	"trtbuild/pkg/types"
)

const defaultMaxNewTokens = 128

// Service owns one pipeline for the lifetime of the serve process.
type Service struct {
	mu   sync.RWMutex
	pipe pipelines.Pipeline
}

// New assembles a pipeline for the engine directory and wraps it for serving.
func New(reg *pipelines.Registry, task pipelines.Task, engineDir string, opts ...pipelines.Option) (*Service, error) {
	pipe, err := reg.New(task, engineDir, opts...)
	if err != nil {
		return nil, err
	}
	return &Service{pipe: pipe}, nil
}

// Generate runs one completion. A missing max_new_tokens falls back to a
// small default rather than failing the request.
func (s *Service) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error) {
	s.mu.RLock()
	pipe := s.pipe
	s.mu.RUnlock()

	params := pipelines.GenerationParams{
		MaxNewTokens: req.MaxNewTokens,
		Temperature:  req.Temperature,
		TopP:         req.TopP,
		TopK:         req.TopK,
		Seed:         req.Seed,
	}
	if params.MaxNewTokens <= 0 {
		params.MaxNewTokens = defaultMaxNewTokens
	}
	gen, err := pipe.Generate(ctx, req.Prompt, params)
	if err != nil {
		return types.GenerateResponse{}, err
	}
	return types.GenerateResponse{
		Text:         gen.Text,
		PromptTokens: gen.PromptTokens,
		NewTokens:    gen.NewTokens,
		FinishReason: gen.FinishReason,
	}, nil
}

// Status reports the loaded engine and its per-rank files.
func (s *Service) Status() types.StatusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eng := s.pipe.Engine()
	return types.StatusResponse{
		ModelType: eng.Config.ModelType,
		Task:      string(s.pipe.Task()),
		EngineDir: eng.Dir,
		Engines:   eng.Files,
		Ready:     true,
	}
}

// Ready reports whether the pipeline is loaded.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pipe != nil
}

// Close releases the pipeline.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipe.Close()
}
