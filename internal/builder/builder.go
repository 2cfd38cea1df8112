package builder

import (
	"fmt"

	"trtbuild/pkg/types"
)

// EngineBuilder accumulates build configuration for one source checkpoint and
// produces, on disk, one serialized engine per shard plus shared metadata.
// It is configured through chained calls and consumed by Build.
type EngineBuilder struct {
	modelDir string
	cfg      types.ModelConfig

	dtype        DType
	buildInfo    BuildInfo
	shardingInfo ShardingInfo
	profile      *OptimizationProfile
	// outputDefaulted records that MaxOutputLength was computed from
	// prompt+new, so Validate may recompute it after clamping.
	outputDefaulted bool

	qmode       QuantMode
	qmodeSet    bool
	calibration *Calibration

	beamWidth int

	consumed bool
	deps     Deps
}

// Deps are the external collaborators. Zero fields are replaced with the
// production (subprocess-backed) implementations.
type Deps struct {
	Graph         GraphBuilder
	Loaders       map[types.Architecture]ArchLoader
	ModelLoader   ModelLoader
	NewCalibrator CalibratorFactory
	Prober        DeviceProber
	Publisher     EventPublisher
}

// New constructs a builder for the checkpoint in modelDir using the
// production toolchain collaborators.
func New(modelDir string, cfg types.ModelConfig) *EngineBuilder {
	return NewWithDeps(modelDir, cfg, Deps{})
}

// NewWithDeps constructs a builder with explicit collaborators; nil fields
// fall back to production defaults.
func NewWithDeps(modelDir string, cfg types.ModelConfig, deps Deps) *EngineBuilder {
	if deps.Graph == nil {
		deps.Graph = newTRTLLMBuilder(defaultToolchain())
	}
	if deps.Loaders == nil {
		deps.Loaders = defaultArchLoaders(defaultToolchain())
	}
	if deps.ModelLoader == nil {
		deps.ModelLoader = newCheckpointLoader()
	}
	if deps.NewCalibrator == nil {
		deps.NewCalibrator = newSubprocessCalibratorFactory(defaultToolchain())
	}
	if deps.Prober == nil {
		deps.Prober = newSMIProber()
	}
	if deps.Publisher == nil {
		deps.Publisher = noopPublisher{}
	}
	// The checkpoint's torch_dtype is the default precision; To overrides it.
	// Checkpoints without one get float16.
	dtype := Float16
	if cfg.TorchDtype != "" {
		d, err := ParseDType(cfg.TorchDtype)
		if err != nil {
			logWarnf("checkpoint torch_dtype %q not recognized, defaulting to %s", cfg.TorchDtype, Float16)
		} else {
			dtype = d
		}
	}
	return &EngineBuilder{
		modelDir:     modelDir,
		cfg:          cfg,
		dtype:        dtype,
		buildInfo:    SerialBuild,
		shardingInfo: NoSharding,
		beamWidth:    -1,
		deps:         deps,
	}
}

// EnableParallelBuild fans shard builds out over a worker pool. numJobs <= 1
// means "use the CPU count".
func (b *EngineBuilder) EnableParallelBuild(numJobs int) *EngineBuilder {
	logDebugf("parallel build enabled, max %d jobs", numJobs)
	b.buildInfo = BuildInfo{Parallel: true, NumParallelJobs: numJobs, QuantizedPath: b.buildInfo.QuantizedPath}
	return b
}

// To overrides the target numeric precision.
func (b *EngineBuilder) To(dtype DType) *EngineBuilder {
	if dtype != b.dtype {
		logDebugf("target dtype set to %s", dtype)
		b.dtype = dtype
	}
	return b
}

// Shard stores the partitioning of the graph across devices. Consistency of
// tp*pp against worldSize is not checked here; the external builder rejects
// impossible mappings.
func (b *EngineBuilder) Shard(tpDegree, ppDegree, worldSize, gpusPerNode int) *EngineBuilder {
	logDebugf("sharding set to world_size=%d gpus_per_node=%d", worldSize, gpusPerNode)
	b.shardingInfo = ShardingInfo{
		TPDegree:       tpDegree,
		PPDegree:       ppDegree,
		WorldSize:      worldSize,
		NumGPUsPerNode: gpusPerNode,
	}
	return b
}

// WithQuantizationProfile stores the quantization mode and optional
// calibration dataset. Float8 modes are rejected up front when the hardware
// cannot execute them, before any model loading.
func (b *EngineBuilder) WithQuantizationProfile(mode QuantMode, calib *Calibration) (*EngineBuilder, error) {
	if mode.HasAnyFP8() {
		ok, err := b.deps.Prober.HasFloat8Support()
		if err != nil {
			return nil, fmt.Errorf("probe float8 support: %w", err)
		}
		if !ok {
			return nil, ErrUnsupportedHardwareFeature("float8")
		}
	}
	b.qmode = mode
	b.qmodeSet = true
	b.calibration = calib
	return b, nil
}

// WithGenerationProfile stores the shape bounds the engine is specialized
// for. maxOutputLength 0 defaults to maxPromptLength+maxNewTokens when both
// are given.
func (b *EngineBuilder) WithGenerationProfile(maxBatchSize, maxPromptLength, maxNewTokens, maxOutputLength int) *EngineBuilder {
	b.outputDefaulted = false
	if maxOutputLength == 0 && maxPromptLength > 0 && maxNewTokens > 0 {
		maxOutputLength = maxPromptLength + maxNewTokens
		b.outputDefaulted = true
	}
	logDebugf("generation profile: batch=%d prompt=%d new=%d output=%d",
		maxBatchSize, maxPromptLength, maxNewTokens, maxOutputLength)
	b.profile = &OptimizationProfile{
		MaxBatchSize:    maxBatchSize,
		MaxPromptLength: maxPromptLength,
		MaxNewTokens:    maxNewTokens,
		MaxOutputLength: maxOutputLength,
	}
	return b
}

// WithSamplingStrategy stores the beam width (1 = greedy).
func (b *EngineBuilder) WithSamplingStrategy(numBeams int) *EngineBuilder {
	logDebugf("sampling strategy: num_beams=%d", numBeams)
	b.beamWidth = numBeams
	return b
}

// Profile returns the configured optimization profile, nil when unset.
func (b *EngineBuilder) Profile() *OptimizationProfile { return b.profile }

// Validate checks the accumulated configuration against the model's bounds.
// Unset quantization and sampling fall back to "none" and greedy with a
// warning; every hard failure names the offending field.
func (b *EngineBuilder) Validate() error {
	if !b.qmodeSet {
		logWarnf("quantization descriptor unset, assuming no quantization; use WithQuantizationProfile to change this")
		b.qmode = QuantModeNone
		b.qmodeSet = true
	}

	if b.shardingInfo.WorldSize < 1 {
		return errValidation("world_size", "got %d, needs to be >= 1", b.shardingInfo.WorldSize)
	}

	if b.profile == nil {
		return errValidation("optimization_profile",
			"no generation profile set; call WithGenerationProfile before Build")
	}

	maxSeq := b.cfg.MaxPositionEmbeddings
	p := b.profile
	if p.MaxBatchSize < 1 {
		return errValidation("max_batch_size", "got %d, needs to be >= 1", p.MaxBatchSize)
	}
	if p.MaxPromptLength < 1 {
		return errValidation("max_prompt_length", "got %d, needs to be >= 1", p.MaxPromptLength)
	}
	if p.MaxPromptLength > maxSeq-1 {
		return errValidation("max_prompt_length", "got %d, needs to be <= %d", p.MaxPromptLength, maxSeq-1)
	}
	if p.MaxNewTokens < 1 {
		return errValidation("max_new_tokens", "got %d, needs to be >= 1", p.MaxNewTokens)
	}
	if p.MaxNewTokens > maxSeq-1 {
		return errValidation("max_new_tokens", "got %d, needs to be <= %d", p.MaxNewTokens, maxSeq-1)
	}

	if p.MaxPromptLength+p.MaxNewTokens > maxSeq {
		clamped := maxSeq - p.MaxPromptLength
		logWarnf("max_prompt_length (%d) + max_new_tokens (%d) exceeds the model's maximum sequence length (%d); truncating max_new_tokens to %d",
			p.MaxPromptLength, p.MaxNewTokens, maxSeq, clamped)
		p.MaxNewTokens = clamped
		if b.outputDefaulted {
			p.MaxOutputLength = p.MaxPromptLength + p.MaxNewTokens
		}
	}

	if p.MaxOutputLength < p.MaxPromptLength+p.MaxNewTokens {
		return errValidation("max_output_length", "got %d, needs to be >= %d",
			p.MaxOutputLength, p.MaxPromptLength+p.MaxNewTokens)
	}
	if p.MaxOutputLength > maxSeq {
		return errValidation("max_output_length", "got %d, needs to be <= %d", p.MaxOutputLength, maxSeq)
	}

	if b.beamWidth < 1 {
		logWarnf("sampling strategy unset, defaulting to greedy search; use WithSamplingStrategy to change this")
		b.beamWidth = 1
	}
	return nil
}

// createBuildConfig flattens the aggregate state into the external builder's
// configuration for one shard.
func (b *EngineBuilder) createBuildConfig(shard Shard, isParallel bool, optLevel int) BuildConfig {
	return BuildConfig{
		Name:                  b.cfg.ModelType,
		Precision:             b.dtype,
		FP8:                   b.qmode.HasFP8QDQ(),
		StronglyTyped:         b.qmode.HasFP8QDQ(),
		QuantMode:             b.qmode,
		HiddenSize:            b.cfg.HiddenSize,
		NumLayers:             b.cfg.NumHiddenLayers,
		NumHeads:              b.cfg.NumAttentionHeads,
		NumKVHeads:            b.cfg.KVHeads(),
		VocabSize:             b.cfg.VocabSize,
		HiddenAct:             b.cfg.HiddenAct,
		MaxPositionEmbeddings: b.cfg.MaxPositionEmbeddings,
		MaxBatchSize:          b.profile.MaxBatchSize,
		MaxInputLen:           b.profile.MaxPromptLength,
		MaxOutputLen:          b.profile.MaxOutputLength,
		MaxBeamWidth:          b.beamWidth,
		TensorParallel:        shard.TPDegree,
		PipelineParallel:      shard.PPDegree,
		ParallelBuild:         isParallel,
		OptLevel:              optLevel,
		HuggingFace:           b.cfg,
	}
}

// loaderFor resolves the architecture adapter for the configured model type.
func (b *EngineBuilder) loaderFor() (ArchLoader, error) {
	arch, err := types.ParseArchitecture(b.cfg.ModelType)
	if err != nil {
		return nil, err
	}
	l, ok := b.deps.Loaders[arch]
	if !ok {
		return nil, fmt.Errorf("no engine adapter registered for architecture %s", arch)
	}
	return l, nil
}
