package builder

import (
	"context"
	"fmt"

	"trtbuild/internal/common/fsutil"
	"trtbuild/pkg/types"
)

// llamaFamilyLoader adapts llama-structured decoder checkpoints (llama,
// mistral and gemma all share the layer layout) for the external builder.
type llamaFamilyLoader struct {
	tc Toolchain
}

// defaultArchLoaders maps every supported architecture onto its adapter.
// The switch is exhaustive over types.SupportedArchitectures.
func defaultArchLoaders(tc Toolchain) map[types.Architecture]ArchLoader {
	loaders := make(map[types.Architecture]ArchLoader)
	for _, arch := range types.SupportedArchitectures() {
		switch arch {
		case types.ArchLlama, types.ArchMistral, types.ArchGemma:
			loaders[arch] = &llamaFamilyLoader{tc: tc}
		}
	}
	return loaders
}

func (l *llamaFamilyLoader) FromHuggingFace(_ context.Context, dir string, dtype DType, shard Shard, mode QuantMode) (ArchModel, error) {
	cfg, err := types.LoadModelConfig(dir)
	if err != nil {
		return nil, err
	}
	if !hasWeightFiles(dir) {
		return nil, fmt.Errorf("checkpoint %s has no weight files", dir)
	}
	return &llamaFamilyModel{cfg: cfg, dtype: dtype, shard: shard, mode: mode, source: dir}, nil
}

func (l *llamaFamilyLoader) FromQuantizedCheckpoint(_ context.Context, dir string, shard Shard) (ArchModel, error) {
	if !fsutil.DirExists(dir) {
		return nil, fmt.Errorf("quantized checkpoint %s does not exist", dir)
	}
	// The quantized checkpoint carries no config.json; dtype and quant mode
	// are baked into its weights.
	return &llamaFamilyModel{dtype: Float16, quantized: true, source: dir}, nil
}

type llamaFamilyModel struct {
	cfg       types.ModelConfig
	dtype     DType
	shard     Shard
	mode      QuantMode
	source    string
	quantized bool
}

// NamedParameters enumerates the decoder weights per layer, split across the
// tensor-parallel degree. Names follow the HF llama layout so the builder
// binary can map them back onto the checkpoint.
func (m *llamaFamilyModel) NamedParameters() []NamedTensor {
	hidden := int64(m.cfg.HiddenSize)
	vocab := int64(m.cfg.VocabSize)
	params := []NamedTensor{
		{Name: "model.embed_tokens.weight", Shape: []int64{vocab, hidden}, DType: m.dtype},
	}
	for i := 0; i < m.cfg.NumHiddenLayers; i++ {
		prefix := fmt.Sprintf("model.layers.%d.", i)
		for _, n := range []string{
			"self_attn.q_proj.weight",
			"self_attn.k_proj.weight",
			"self_attn.v_proj.weight",
			"self_attn.o_proj.weight",
			"mlp.gate_proj.weight",
			"mlp.up_proj.weight",
			"mlp.down_proj.weight",
			"input_layernorm.weight",
			"post_attention_layernorm.weight",
		} {
			params = append(params, NamedTensor{Name: prefix + n, DType: m.dtype})
		}
	}
	params = append(params,
		NamedTensor{Name: "model.norm.weight", Shape: []int64{hidden}, DType: m.dtype},
		NamedTensor{Name: "lm_head.weight", Shape: []int64{vocab, hidden}, DType: m.dtype},
	)
	return params
}

func (m *llamaFamilyModel) NamedOutputs() []NamedTensor {
	outs := make([]NamedTensor, 0, m.cfg.NumHiddenLayers)
	for i := 0; i < m.cfg.NumHiddenLayers; i++ {
		outs = append(outs, NamedTensor{
			Name:  fmt.Sprintf("model.layers.%d.hidden_states", i),
			DType: m.dtype,
		})
	}
	return outs
}

func (m *llamaFamilyModel) DeclareInputs(n Network, spec InputSpec) error {
	batch := int64(spec.MaxBatchSize) * int64(spec.MaxBeamWidth)
	n.DeclareInput(NamedTensor{Name: "input_ids", Shape: []int64{batch, int64(spec.MaxInputLen)}, DType: m.dtype})
	n.DeclareInput(NamedTensor{Name: "position_ids", Shape: []int64{batch, int64(spec.MaxInputLen)}, DType: m.dtype})
	n.DeclareInput(NamedTensor{Name: "last_token_ids", Shape: []int64{batch}, DType: m.dtype})
	if spec.UseCache {
		n.DeclareInput(NamedTensor{
			Name:  "past_key_values",
			Shape: []int64{int64(m.cfg.NumHiddenLayers), 2, batch, int64(spec.MaxSeqLen)},
			DType: m.dtype,
		})
	}
	n.MarkOutput(NamedTensor{Name: "logits", Shape: []int64{batch, int64(m.cfg.VocabSize)}, DType: m.dtype})
	return nil
}
