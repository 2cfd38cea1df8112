package serve

import (
	"context"
	"testing"

	"trtbuild/internal/pipelines"
	"trtbuild/pkg/types"
)

type stubPipeline struct {
	engine    *pipelines.Engine
	gotParams pipelines.GenerationParams
	closed    bool
}

func (p *stubPipeline) Task() pipelines.Task        { return pipelines.TaskTextGeneration }
func (p *stubPipeline) Engine() *pipelines.Engine   { return p.engine }
func (p *stubPipeline) Close() error                { p.closed = true; return nil }
func (p *stubPipeline) Generate(_ context.Context, prompt string, params pipelines.GenerationParams) (*pipelines.Generation, error) {
	p.gotParams = params
	return &pipelines.Generation{Text: "out:" + prompt, PromptTokens: 1, NewTokens: 2, FinishReason: "stop"}, nil
}

func newStubService() (*Service, *stubPipeline) {
	pipe := &stubPipeline{engine: &pipelines.Engine{
		Dir:    "/engines/llama",
		Config: types.ModelConfig{ModelType: "llama"},
		Files: []types.Engine{
			{ModelType: "llama", Dtype: "float16", TPDegree: 1, Rank: 0},
		},
	}}
	return &Service{pipe: pipe}, pipe
}

func TestGenerateDefaultsMaxNewTokens(t *testing.T) {
	svc, pipe := newStubService()

	resp, err := svc.Generate(context.Background(), types.GenerateRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if pipe.gotParams.MaxNewTokens != defaultMaxNewTokens {
		t.Fatalf("expected default budget, got %d", pipe.gotParams.MaxNewTokens)
	}
	if resp.Text != "out:hi" || resp.FinishReason != "stop" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGenerateForwardsSampling(t *testing.T) {
	svc, pipe := newStubService()

	_, err := svc.Generate(context.Background(), types.GenerateRequest{
		Prompt: "hi", MaxNewTokens: 32, Temperature: 0.7, TopP: 0.9, TopK: 40, Seed: 7,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	p := pipe.gotParams
	if p.MaxNewTokens != 32 || p.Temperature != 0.7 || p.TopP != 0.9 || p.TopK != 40 || p.Seed != 7 {
		t.Fatalf("params not forwarded: %+v", p)
	}
}

func TestStatusReportsEngine(t *testing.T) {
	svc, _ := newStubService()

	st := svc.Status()
	if st.ModelType != "llama" || st.Task != "text-generation" || !st.Ready {
		t.Fatalf("unexpected status: %+v", st)
	}
	if len(st.Engines) != 1 || st.EngineDir != "/engines/llama" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestCloseReleasesPipeline(t *testing.T) {
	svc, pipe := newStubService()
	if err := svc.Close(); err != nil || !pipe.closed {
		t.Fatalf("Close: err=%v closed=%v", err, pipe.closed)
	}
}
