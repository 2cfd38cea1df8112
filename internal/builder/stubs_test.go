package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"trtbuild/pkg/types"
)

// testModelConfig returns a small llama-shaped config used across tests.
func testModelConfig() types.ModelConfig {
	return types.ModelConfig{
		ModelType:             "llama",
		TorchDtype:            "float16",
		HiddenSize:            64,
		NumHiddenLayers:       2,
		NumAttentionHeads:     4,
		MaxPositionEmbeddings: 2048,
		VocabSize:             32000,
		HiddenAct:             "silu",
	}
}

// stubNetwork records what the builder did to it.
type stubNetwork struct {
	name     string
	plugins  PluginConfig
	params   []NamedTensor
	inputs   []NamedTensor
	outputs  []NamedTensor
	exported bool
}

func (n *stubNetwork) Name() string                       { return n.name }
func (n *stubNetwork) EnablePlugins(p PluginConfig)       { n.plugins = p }
func (n *stubNetwork) SetNamedParameters(p []NamedTensor) { n.params = p }
func (n *stubNetwork) DeclareInput(t NamedTensor)         { n.inputs = append(n.inputs, t) }
func (n *stubNetwork) MarkOutput(t NamedTensor)           { n.outputs = append(n.outputs, t) }
func (n *stubNetwork) ExportONNX(path string) error {
	n.exported = true
	return os.WriteFile(path, []byte("onnx"), 0o644)
}

// stubGraph is a deterministic external builder: engine bytes depend only on
// the network name and shard-independent config, so serial and parallel runs
// produce identical artifacts.
type stubGraph struct {
	mu        sync.Mutex
	networks  []*stubNetwork
	built     []string
	optimized int
	// returnNil simulates the toolchain exiting zero without an engine.
	returnNil bool
}

func (g *stubGraph) CreateNetwork(name string) (Network, error) {
	n := &stubNetwork{name: name}
	g.mu.Lock()
	g.networks = append(g.networks, n)
	g.mu.Unlock()
	return n, nil
}

func (g *stubGraph) Optimize(Network) error {
	g.mu.Lock()
	g.optimized++
	g.mu.Unlock()
	return nil
}

func (g *stubGraph) BuildEngine(_ context.Context, n Network, cfg BuildConfig) ([]byte, error) {
	g.mu.Lock()
	g.built = append(g.built, n.Name())
	g.mu.Unlock()
	if g.returnNil {
		return nil, nil
	}
	return []byte(fmt.Sprintf("engine:%s:%s:%d", n.Name(), cfg.Precision, cfg.TensorParallel)), nil
}

func (g *stubGraph) SaveTimingCache(path string) error {
	return os.WriteFile(path, []byte("timings"), 0o644)
}

func (g *stubGraph) SaveConfig(cfg BuildConfig, path string) error {
	return os.WriteFile(path, []byte("config:"+cfg.Name), 0o644)
}

// stubArchLoader counts which load path the builder took.
type stubArchLoader struct {
	mu            sync.Mutex
	fromHF        int
	fromQuantized int
}

func (l *stubArchLoader) FromHuggingFace(_ context.Context, dir string, dtype DType, shard Shard, mode QuantMode) (ArchModel, error) {
	l.mu.Lock()
	l.fromHF++
	l.mu.Unlock()
	return &stubArchModel{}, nil
}

func (l *stubArchLoader) FromQuantizedCheckpoint(_ context.Context, dir string, shard Shard) (ArchModel, error) {
	l.mu.Lock()
	l.fromQuantized++
	l.mu.Unlock()
	return &stubArchModel{}, nil
}

type stubArchModel struct{}

func (stubArchModel) NamedParameters() []NamedTensor {
	return []NamedTensor{{Name: "model.embed_tokens.weight"}}
}

func (stubArchModel) NamedOutputs() []NamedTensor {
	return []NamedTensor{{Name: "model.layers.0.hidden_states"}, {Name: "model.layers.1.hidden_states"}}
}

func (stubArchModel) DeclareInputs(n Network, spec InputSpec) error {
	n.DeclareInput(NamedTensor{Name: "input_ids"})
	n.MarkOutput(NamedTensor{Name: "logits"})
	return nil
}

// stubModelLoader tracks loads and releases for the calibration path.
type stubModelLoader struct {
	loads    int
	released int
}

func (l *stubModelLoader) Load(_ context.Context, dir string, _ DType, _ MemoryBudget) (LoadedModel, error) {
	l.loads++
	return &stubLoadedModel{loader: l, dir: dir}, nil
}

type stubLoadedModel struct {
	loader *stubModelLoader
	dir    string
}

func (m *stubLoadedModel) Config() types.ModelConfig { return testModelConfig() }
func (m *stubLoadedModel) Path() string              { return m.dir }
func (m *stubLoadedModel) Release()                  { m.loader.released++ }

// stubCalibrator writes a well-formed calibration cache on Save.
type stubCalibrator struct {
	calibrated int
	saved      int
}

func (c *stubCalibrator) Calibrate(context.Context, LoadedModel, Calibration) error {
	c.calibrated++
	return nil
}

func (c *stubCalibrator) Save(dir string) error {
	c.saved++
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "scales.json"), []byte("{}"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "weights.safetensors"), []byte("w"), 0o644)
}

// stubProber reports a fixed inventory.
type stubProber struct {
	count  int
	freeMB uint64
	fp8    bool
}

func (p stubProber) DeviceCount() (int, error) { return p.count, nil }
func (p stubProber) DeviceFreeMemory(device int) (uint64, error) {
	return p.freeMB << 20, nil
}
func (p stubProber) HasFloat8Support() (bool, error) { return p.fp8, nil }

// recordingPublisher captures events in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingPublisher) Publish(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingPublisher) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

// testBuilder wires a builder with stub collaborators.
func testBuilder(cfg types.ModelConfig, deps Deps) *EngineBuilder {
	if deps.Graph == nil {
		deps.Graph = &stubGraph{}
	}
	if deps.Loaders == nil {
		l := &stubArchLoader{}
		deps.Loaders = map[types.Architecture]ArchLoader{
			types.ArchLlama:   l,
			types.ArchMistral: l,
			types.ArchGemma:   l,
		}
	}
	if deps.ModelLoader == nil {
		deps.ModelLoader = &stubModelLoader{}
	}
	if deps.NewCalibrator == nil {
		calib := &stubCalibrator{}
		deps.NewCalibrator = func(QuantMode, DType, int) Calibrator { return calib }
	}
	if deps.Prober == nil {
		deps.Prober = stubProber{count: 1, freeMB: 1024}
	}
	return NewWithDeps("/nonexistent/model", cfg, deps)
}
