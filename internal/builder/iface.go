package builder

import (
	"context"

	"trtbuild/pkg/types"
)

// The builder drives the external TensorRT-LLM toolchain through the
// interfaces below. Production implementations shell out to the toolchain
// binaries; tests substitute deterministic stubs.

// NamedTensor identifies a parameter or output tensor by name.
type NamedTensor struct {
	Name  string
	Shape []int64
	DType DType
}

// PluginConfig selects the fused-kernel plugins enabled on a network.
type PluginConfig struct {
	DType              DType
	GPTAttention       bool
	BERTAttention      bool
	ContextFMHA        bool
	RemoveInputPadding bool
	GEMM               bool
	NCCL               bool
}

// Network is one model graph under construction.
type Network interface {
	Name() string
	EnablePlugins(PluginConfig)
	SetNamedParameters([]NamedTensor)
	DeclareInput(NamedTensor)
	MarkOutput(NamedTensor)
	ExportONNX(path string) error
}

// BuildConfig is the flattened configuration handed to the external builder
// for one shard.
type BuildConfig struct {
	Name                  string
	Precision             DType
	FP8                   bool
	StronglyTyped         bool
	QuantMode             QuantMode
	HiddenSize            int
	NumLayers             int
	NumHeads              int
	NumKVHeads            int
	VocabSize             int
	HiddenAct             string
	MaxPositionEmbeddings int
	MaxBatchSize          int
	MaxInputLen           int
	MaxOutputLen          int
	MaxBeamWidth          int
	TensorParallel        int
	PipelineParallel      int
	ParallelBuild         bool
	OptLevel              int // 0 = toolchain default
	HuggingFace           types.ModelConfig
}

// GraphBuilder is the external engine builder.
type GraphBuilder interface {
	CreateNetwork(name string) (Network, error)
	// Optimize runs the graph rewriter over the network in place.
	Optimize(Network) error
	// BuildEngine returns the serialized engine bytes, or nil when the
	// toolchain failed without a hard error.
	BuildEngine(ctx context.Context, n Network, cfg BuildConfig) ([]byte, error)
	SaveTimingCache(path string) error
	SaveConfig(cfg BuildConfig, path string) error
}

// InputSpec feeds the model's declared inputs for graph tracing.
type InputSpec struct {
	MaxBatchSize int
	MaxInputLen  int
	MaxSeqLen    int
	MaxNumTokens int
	MaxBeamWidth int
	UseCache     bool
}

// ArchModel is one architecture adapter instantiated for a shard.
type ArchModel interface {
	NamedParameters() []NamedTensor
	// NamedOutputs lists intermediate tensors, used when debug output dumping
	// is enabled.
	NamedOutputs() []NamedTensor
	// DeclareInputs traces the forward pass over the network with the given
	// shape bounds.
	DeclareInputs(n Network, spec InputSpec) error
}

// ArchLoader constructs an ArchModel either from source weights or from a
// quantized checkpoint produced by calibration.
type ArchLoader interface {
	FromHuggingFace(ctx context.Context, dir string, dtype DType, shard Shard, mode QuantMode) (ArchModel, error)
	FromQuantizedCheckpoint(ctx context.Context, dir string, shard Shard) (ArchModel, error)
}

// MemoryBudget caps how much memory model loading may claim during
// calibration, per device and on the host.
type MemoryBudget struct {
	Devices map[int]uint64 // free bytes per accelerator, already discounted
	Host    uint64
}

// LoadedModel is a source model held for calibration. Path reports where the
// checkpoint lives so subprocess calibrators can reach it.
type LoadedModel interface {
	Config() types.ModelConfig
	Path() string
	Release()
}

// ModelLoader loads source weights balanced across the budgeted devices.
type ModelLoader interface {
	Load(ctx context.Context, dir string, dtype DType, budget MemoryBudget) (LoadedModel, error)
}

// Calibrator runs representative data through a loaded model to compute
// per-tensor scale factors, then persists them.
type Calibrator interface {
	Calibrate(ctx context.Context, model LoadedModel, data Calibration) error
	Save(dir string) error
}

// CalibratorFactory constructs a Calibrator for the given quantization setup.
type CalibratorFactory func(mode QuantMode, dtype DType, tpDegree int) Calibrator

// DeviceProber reports accelerator inventory and capabilities.
type DeviceProber interface {
	DeviceCount() (int, error)
	// DeviceFreeMemory returns free bytes on the given device.
	DeviceFreeMemory(device int) (uint64, error)
	HasFloat8Support() (bool, error)
}
