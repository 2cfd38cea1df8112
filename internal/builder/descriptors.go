package builder

import "fmt"

// BuildInfo captures how the build is dispatched and where quantized
// checkpoints live once calibration ran.
type BuildInfo struct {
	Parallel        bool
	NumParallelJobs int
	QuantizedPath   string
}

// SerialBuild is the default dispatch mode: one shard at a time, in order.
var SerialBuild = BuildInfo{Parallel: false, NumParallelJobs: 1}

// OptimizationProfile bounds the shapes an engine is specialized for.
// MaxOutputLength defaults to MaxPromptLength+MaxNewTokens when zero.
type OptimizationProfile struct {
	MaxBatchSize    int
	MaxPromptLength int
	MaxNewTokens    int
	MaxOutputLength int
}

// ShardingInfo describes how the model graph is partitioned across devices.
type ShardingInfo struct {
	TPDegree       int
	PPDegree       int
	WorldSize      int
	NumGPUsPerNode int
}

// NoSharding keeps the whole graph on a single device.
var NoSharding = ShardingInfo{TPDegree: 1, PPDegree: 1, WorldSize: 1, NumGPUsPerNode: 1}

// Shard identifies one rank within a sharded build.
type Shard struct {
	WorldSize   int
	Rank        int
	GPUsPerNode int
	TPDegree    int
	PPDegree    int
}

// Shards expands the sharding info into one Shard per rank.
func (s ShardingInfo) Shards() []Shard {
	out := make([]Shard, 0, s.WorldSize)
	for rank := 0; rank < s.WorldSize; rank++ {
		out = append(out, Shard{
			WorldSize:   s.WorldSize,
			Rank:        rank,
			GPUsPerNode: s.NumGPUsPerNode,
			TPDegree:    s.TPDegree,
			PPDegree:    s.PPDegree,
		})
	}
	return out
}

// EngineFileName returns the canonical per-rank engine file name,
// e.g. "llama_float16_tp2_rank0.engine".
func EngineFileName(modelType string, dtype DType, rank, tpDegree int) string {
	return fmt.Sprintf("%s_%s_tp%d_rank%d.engine", modelType, dtype, tpDegree, rank)
}

// Artifact file names written next to the engines by rank 0.
const (
	HFConfigFile      = "config.json"
	TimingCacheFile   = "timings.cache"
	BuilderConfigFile = "trtbuild_config.json"
	CalibrationDir    = "calibration"
)
