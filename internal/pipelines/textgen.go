package pipelines

import (
	"context"
	"fmt"
)

// Generation is the result of one text-generation call.
type Generation struct {
	Text         string `json:"text"`
	PromptTokens int    `json:"prompt_tokens"`
	NewTokens    int    `json:"new_tokens"`
	FinishReason string `json:"finish_reason"`
}

// TextGenerationPipeline runs decoder-only engines: encode the prompt, hand
// the ids to the runner, decode what comes back.
type TextGenerationPipeline struct {
	engine *Engine
	tok    Tokenizer
	runner Runner
}

func newTextGenerationPipeline(eng *Engine, tok Tokenizer, run Runner) Pipeline {
	return &TextGenerationPipeline{engine: eng, tok: tok, runner: run}
}

// Task reports the task this pipeline serves.
func (p *TextGenerationPipeline) Task() Task { return TaskTextGeneration }

// Engine exposes the loaded engine metadata.
func (p *TextGenerationPipeline) Engine() *Engine { return p.engine }

// Generate completes one prompt. A generation that hits max_new_tokens
// finishes with reason "length", one that produced the eos token with "stop".
func (p *TextGenerationPipeline) Generate(ctx context.Context, prompt string, params GenerationParams) (*Generation, error) {
	if params.MaxNewTokens <= 0 {
		return nil, fmt.Errorf("max_new_tokens must be positive, got %d", params.MaxNewTokens)
	}
	inputIDs, err := p.tok.Encode(prompt)
	if err != nil {
		return nil, err
	}
	outputIDs, err := p.runner.Infer(ctx, inputIDs, params)
	if err != nil {
		return nil, err
	}

	finish := "length"
	eos := p.engine.Config.EOSTokenID
	if n := len(outputIDs); n > 0 && eos > 0 && outputIDs[n-1] == eos {
		outputIDs = outputIDs[:n-1]
		finish = "stop"
	} else if len(outputIDs) < params.MaxNewTokens {
		finish = "stop"
	}

	text, err := p.tok.Decode(outputIDs)
	if err != nil {
		return nil, err
	}
	return &Generation{
		Text:         text,
		PromptTokens: len(inputIDs),
		NewTokens:    len(outputIDs),
		FinishReason: finish,
	}, nil
}

// Close releases the runner.
func (p *TextGenerationPipeline) Close() error { return p.runner.Close() }
