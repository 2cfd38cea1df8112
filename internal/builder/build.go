package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"trtbuild/internal/common/fsutil"
)

// Build validates the accumulated configuration, runs calibration when a
// quantization mode is set, and produces one engine per shard under
// outputPath. The builder is consumed; a second call fails.
func (b *EngineBuilder) Build(ctx context.Context, outputPath string, optLevel int) (string, error) {
	if b.consumed {
		return "", errors.New("builder already consumed; construct a new one per build")
	}
	b.consumed = true

	shards := b.shardingInfo.Shards()

	if err := fsutil.EnsureDir(outputPath); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	if b.qmodeSet && !b.qmode.IsNone() {
		if err := b.Quantize(ctx, outputPath); err != nil {
			return "", err
		}
	}

	if err := b.Validate(); err != nil {
		return "", err
	}

	b.deps.Publisher.Publish(Event{Name: "build_start", ModelType: b.cfg.ModelType,
		Fields: map[string]any{"world_size": len(shards), "parallel": b.buildInfo.Parallel}})

	var err error
	if b.buildInfo.Parallel {
		err = b.buildParallel(ctx, shards, outputPath, optLevel)
	} else {
		err = b.buildSerial(ctx, shards, outputPath, optLevel)
	}
	if err != nil {
		return "", err
	}

	// Shared metadata is written once, after every shard joined, so no rank
	// can observe a partially written config next to a finished engine.
	if err := b.writeSharedArtifacts(shards[0], outputPath, optLevel); err != nil {
		return "", err
	}

	b.deps.Publisher.Publish(Event{Name: "build_done", ModelType: b.cfg.ModelType,
		Fields: map[string]any{"output": outputPath}})
	return outputPath, nil
}

func (b *EngineBuilder) buildSerial(ctx context.Context, shards []Shard, outputPath string, optLevel int) error {
	logDebugf("building engines sequentially")
	for _, shard := range shards {
		if err := b.buildEngineForRank(ctx, shard, outputPath, optLevel, false); err != nil {
			return err
		}
	}
	return nil
}

// buildParallel fans one build task per shard out over a bounded pool. The
// first worker error cancels the rest; there is no retry and no partial
// artifact cleanup.
func (b *EngineBuilder) buildParallel(ctx context.Context, shards []Shard, outputPath string, optLevel int) error {
	jobs := b.buildInfo.NumParallelJobs
	if jobs <= 1 {
		jobs = runtime.NumCPU()
	}
	if jobs > len(shards) {
		jobs = len(shards)
	}
	logDebugf("building engines in parallel (%d workers)", jobs)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for _, shard := range shards {
		shard := shard
		g.Go(func() error {
			return b.buildEngineForRank(ctx, shard, outputPath, optLevel, true)
		})
	}
	return g.Wait()
}

// buildEngineForRank drives the external builder for one shard and
// serializes the resulting engine.
func (b *EngineBuilder) buildEngineForRank(ctx context.Context, shard Shard, outputPath string, optLevel int, isParallel bool) error {
	logDebugf("building engine rank=%d (world_size=%d)", shard.Rank, shard.WorldSize)

	engineName := EngineFileName(b.cfg.ModelType, b.dtype, shard.Rank, shard.TPDegree)
	buildCfg := b.createBuildConfig(shard, isParallel, optLevel)

	network, err := b.deps.Graph.CreateNetwork(engineName)
	if err != nil {
		return fmt.Errorf("create network: %w", err)
	}

	plugins := PluginConfig{
		DType:              b.dtype,
		GPTAttention:       true,
		BERTAttention:      true,
		ContextFMHA:        true,
		RemoveInputPadding: true,
		// The GEMM plugin has no float8 kernels.
		GEMM: !buildCfg.FP8,
	}
	if shard.WorldSize > 1 {
		logDebugf("enabling NCCL plugin (world_size=%d)", shard.WorldSize)
		plugins.NCCL = true
	}
	network.EnablePlugins(plugins)

	loader, err := b.loaderFor()
	if err != nil {
		return err
	}
	var model ArchModel
	if buildCfg.FP8 && b.buildInfo.QuantizedPath != "" && hasCalibrationCache(b.buildInfo.QuantizedPath) {
		model, err = loader.FromQuantizedCheckpoint(ctx, b.buildInfo.QuantizedPath, shard)
	} else {
		model, err = loader.FromHuggingFace(ctx, b.modelDir, b.dtype, shard, b.qmode)
	}
	if err != nil {
		return fmt.Errorf("load architecture adapter: %w", err)
	}

	network.SetNamedParameters(model.NamedParameters())
	if err := model.DeclareInputs(network, InputSpec{
		MaxBatchSize: b.profile.MaxBatchSize,
		MaxInputLen:  b.profile.MaxPromptLength,
		MaxSeqLen:    b.cfg.MaxPositionEmbeddings,
		MaxNumTokens: b.profile.MaxNewTokens,
		MaxBeamWidth: b.beamWidth,
		UseCache:     true,
	}); err != nil {
		return fmt.Errorf("declare inputs: %w", err)
	}

	if flagFromEnv(EnvDebugOutputs) {
		logInfof("debug mode: marking hidden tensor outputs")
		for _, out := range model.NamedOutputs() {
			network.MarkOutput(out)
		}
	}
	// Rank 0 exports alone; the export path is shared across ranks and
	// parallel workers must not write it concurrently.
	if flagFromEnv(EnvExportONNX) && shard.Rank == 0 {
		if err := network.ExportONNX(filepath.Join(outputPath, "model.onnx")); err != nil {
			return fmt.Errorf("export onnx: %w", err)
		}
	}

	logDebugf("optimizing network...")
	if err := b.deps.Graph.Optimize(network); err != nil {
		return fmt.Errorf("optimize network: %w", err)
	}

	engine, err := b.deps.Graph.BuildEngine(ctx, network, buildCfg)
	if err != nil {
		return fmt.Errorf("build engine rank %d: %w", shard.Rank, err)
	}
	if len(engine) == 0 {
		return buildFailedError{rank: shard.Rank}
	}

	if err := b.serializeEngine(engine, filepath.Join(outputPath, engineName)); err != nil {
		return err
	}
	b.deps.Publisher.Publish(Event{Name: "shard_built", ModelType: b.cfg.ModelType,
		Fields: map[string]any{"rank": shard.Rank, "engine": engineName}})
	return nil
}

func (b *EngineBuilder) serializeEngine(engine []byte, path string) error {
	logInfof("saving engine to %s", path)
	if err := os.WriteFile(path, engine, 0o644); err != nil {
		return fmt.Errorf("write engine: %w", err)
	}
	return nil
}

// writeSharedArtifacts persists the HF config, the timing cache and the
// builder config once per build (rank-0 metadata in the original layout).
func (b *EngineBuilder) writeSharedArtifacts(rankZero Shard, outputPath string, optLevel int) error {
	hfConfigPath := filepath.Join(outputPath, HFConfigFile)
	raw, err := json.Marshal(b.cfg)
	if err != nil {
		return fmt.Errorf("marshal model config: %w", err)
	}
	if err := os.WriteFile(hfConfigPath, raw, 0o644); err != nil {
		return fmt.Errorf("write model config: %w", err)
	}
	logDebugf("saved model config at %s", hfConfigPath)

	timingsPath := filepath.Join(outputPath, TimingCacheFile)
	if err := b.deps.Graph.SaveTimingCache(timingsPath); err != nil {
		return fmt.Errorf("save timing cache: %w", err)
	}
	logDebugf("saved timings at %s", timingsPath)

	buildCfgPath := filepath.Join(outputPath, BuilderConfigFile)
	if err := b.deps.Graph.SaveConfig(b.createBuildConfig(rankZero, b.buildInfo.Parallel, optLevel), buildCfgPath); err != nil {
		return fmt.Errorf("save builder config: %w", err)
	}
	logDebugf("saved builder config at %s", buildCfgPath)
	return nil
}
