// Package builder accumulates engine build configuration through a fluent API
// and drives the external TensorRT-LLM toolchain to produce one serialized
// engine per shard, plus shared rank-0 metadata (HF config, timing cache,
// builder config).
//
// The calibration cache under <output>/calibration is trusted purely by a
// presence heuristic (exactly one .json and one .safetensors file); there is
// no content fingerprint, so a stale directory with the right shape is reused.
package builder
