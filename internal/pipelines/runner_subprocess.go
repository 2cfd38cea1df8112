package pipelines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
)

// envExecutorBin points at the external engine executor. When unset the
// pipeline still loads but generation reports a missing dependency.
const envExecutorBin = "TRTBUILD_EXECUTOR_BIN"

// newDefaultRunner picks the subprocess executor when one is configured.
func newDefaultRunner(engineDir string) Runner {
	bin := os.Getenv(envExecutorBin)
	if bin == "" {
		return unavailableRunner{}
	}
	return &subprocessRunner{bin: bin, engineDir: engineDir}
}

// subprocessRunner drives the external engine executor, one invocation per
// generation call. Token ids travel as JSON over stdin/stdout.
type subprocessRunner struct {
	bin       string
	engineDir string
}

type executorRequest struct {
	InputIDs     []int   `json:"input_ids"`
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float32 `json:"temperature,omitempty"`
	TopP         float32 `json:"top_p,omitempty"`
	TopK         int     `json:"top_k,omitempty"`
	Seed         int     `json:"seed,omitempty"`
}

type executorResponse struct {
	OutputIDs []int  `json:"output_ids"`
	Error     string `json:"error,omitempty"`
}

func (r *subprocessRunner) Infer(ctx context.Context, inputIDs []int, params GenerationParams) ([]int, error) {
	payload, err := json.Marshal(executorRequest{
		InputIDs:     inputIDs,
		MaxNewTokens: params.MaxNewTokens,
		Temperature:  params.Temperature,
		TopP:         params.TopP,
		TopK:         params.TopK,
		Seed:         params.Seed,
	})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, r.bin, "--engine-dir", r.engineDir)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		tail := stderr.String()
		if len(tail) > 4096 {
			tail = tail[len(tail)-4096:]
		}
		return nil, fmt.Errorf("%s: %w; stderr tail: %s", r.bin, err, tail)
	}

	var resp executorResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("parse executor output: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("executor: %s", resp.Error)
	}
	return resp.OutputIDs, nil
}

func (r *subprocessRunner) Close() error { return nil }
