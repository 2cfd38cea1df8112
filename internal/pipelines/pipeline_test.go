package pipelines

import (
	"context"
	"strings"
	"testing"
)

// stubTokenizer maps each whitespace word to a fixed id and back.
type stubTokenizer struct{}

func (stubTokenizer) Encode(text string) ([]int, error) {
	words := strings.Fields(text)
	ids := make([]int, len(words))
	for i := range words {
		ids[i] = 100 + i
	}
	return ids, nil
}

func (stubTokenizer) Decode(ids []int) (string, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = "tok" + string(rune('a'+id%26))
	}
	return strings.Join(parts, " "), nil
}

// stubRunner returns a canned id sequence and records the request.
type stubRunner struct {
	out       []int
	gotInput  []int
	gotParams GenerationParams
	closed    bool
}

func (r *stubRunner) Infer(_ context.Context, inputIDs []int, params GenerationParams) ([]int, error) {
	r.gotInput = inputIDs
	r.gotParams = params
	return r.out, nil
}

func (r *stubRunner) Close() error {
	r.closed = true
	return nil
}

func TestFactoryAssemblesTextGenerationPipeline(t *testing.T) {
	dir := writeEngineDir(t, "llama", 2)
	run := &stubRunner{out: []int{7, 8, 9}}

	p, err := NewRegistry().New(TaskTextGeneration, dir,
		WithTokenizer(stubTokenizer{}), WithRunner(run))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Task() != TaskTextGeneration {
		t.Fatalf("unexpected task %q", p.Task())
	}
	if got := len(p.Engine().Files); got != 2 {
		t.Fatalf("expected 2 engine files, got %d", got)
	}
	if err := p.Close(); err != nil || !run.closed {
		t.Fatalf("Close: err=%v closed=%v", err, run.closed)
	}
}

func TestFactoryRejectsUnsupportedModelType(t *testing.T) {
	dir := writeEngineDir(t, "gemma", 1)

	_, err := NewRegistry().New(TaskTextGeneration, dir,
		WithTokenizer(stubTokenizer{}), WithRunner(&stubRunner{}))
	if err == nil || !IsNotImplemented(err) {
		t.Fatalf("expected not-implemented error, got %v", err)
	}
}

func TestFactoryRejectsUnknownModelType(t *testing.T) {
	dir := writeEngineDir(t, "gpt_bigcode", 1)

	_, err := NewRegistry().New(TaskTextGeneration, dir,
		WithTokenizer(stubTokenizer{}), WithRunner(&stubRunner{}))
	if err == nil || !IsNotImplemented(err) {
		t.Fatalf("expected not-implemented error, got %v", err)
	}
}

func TestGenerateStopsOnEOS(t *testing.T) {
	dir := writeEngineDir(t, "llama", 1)
	// eos_token_id in the fixture config is 2.
	run := &stubRunner{out: []int{11, 12, 2}}

	p, err := NewRegistry().New(TaskTextGeneration, dir,
		WithTokenizer(stubTokenizer{}), WithRunner(run))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	gen, err := p.Generate(context.Background(), "hello world", GenerationParams{MaxNewTokens: 10})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.FinishReason != "stop" {
		t.Fatalf("expected finish_reason stop, got %q", gen.FinishReason)
	}
	if gen.NewTokens != 2 {
		t.Fatalf("eos must be trimmed from the output, got %d new tokens", gen.NewTokens)
	}
	if gen.PromptTokens != 2 {
		t.Fatalf("expected 2 prompt tokens, got %d", gen.PromptTokens)
	}
	if len(run.gotInput) != 2 || run.gotParams.MaxNewTokens != 10 {
		t.Fatalf("runner saw input=%v params=%+v", run.gotInput, run.gotParams)
	}
}

func TestGenerateReportsLengthWhenBudgetExhausted(t *testing.T) {
	dir := writeEngineDir(t, "llama", 1)
	run := &stubRunner{out: []int{11, 12, 13}}

	p, err := NewRegistry().New(TaskTextGeneration, dir,
		WithTokenizer(stubTokenizer{}), WithRunner(run))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	gen, err := p.Generate(context.Background(), "hi", GenerationParams{MaxNewTokens: 3})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.FinishReason != "length" {
		t.Fatalf("expected finish_reason length, got %q", gen.FinishReason)
	}
	if gen.NewTokens != 3 {
		t.Fatalf("expected 3 new tokens, got %d", gen.NewTokens)
	}
}

func TestGenerateRejectsNonPositiveBudget(t *testing.T) {
	dir := writeEngineDir(t, "llama", 1)

	p, err := NewRegistry().New(TaskTextGeneration, dir,
		WithTokenizer(stubTokenizer{}), WithRunner(&stubRunner{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Generate(context.Background(), "hi", GenerationParams{}); err == nil {
		t.Fatalf("expected error for zero max_new_tokens")
	}
}

func TestGenerateWithoutExecutorReportsDependency(t *testing.T) {
	dir := writeEngineDir(t, "llama", 1)
	t.Setenv(envExecutorBin, "")

	p, err := NewRegistry().New(TaskTextGeneration, dir, WithTokenizer(stubTokenizer{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Generate(context.Background(), "hi", GenerationParams{MaxNewTokens: 4})
	if err == nil || !IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency-unavailable error, got %v", err)
	}
}
