package types

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ModelConfig mirrors the subset of a HuggingFace config.json the builder and
// the pipeline factory care about. Unknown fields are ignored on load.
type ModelConfig struct {
	ModelType             string `json:"model_type"`
	TorchDtype            string `json:"torch_dtype"`
	HiddenSize            int    `json:"hidden_size"`
	NumHiddenLayers       int    `json:"num_hidden_layers"`
	NumAttentionHeads     int    `json:"num_attention_heads"`
	NumKeyValueHeads      int    `json:"num_key_value_heads,omitempty"`
	MaxPositionEmbeddings int    `json:"max_position_embeddings"`
	VocabSize             int    `json:"vocab_size"`
	HiddenAct             string `json:"hidden_act"`
	EOSTokenID            int    `json:"eos_token_id,omitempty"`
}

// KVHeads returns num_key_value_heads, falling back to num_attention_heads
// when the checkpoint predates grouped-query attention.
func (c ModelConfig) KVHeads() int {
	if c.NumKeyValueHeads > 0 {
		return c.NumKeyValueHeads
	}
	return c.NumAttentionHeads
}

// LoadModelConfig reads config.json from a checkpoint or engine directory.
func LoadModelConfig(dir string) (ModelConfig, error) {
	var cfg ModelConfig
	b, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return cfg, fmt.Errorf("read model config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse model config: %w", err)
	}
	if cfg.ModelType == "" {
		return cfg, fmt.Errorf("model config in %s has no model_type", dir)
	}
	return cfg, nil
}

// Engine describes one built engine artifact on disk.
type Engine struct {
	ModelType string `json:"model_type"`
	Dtype     string `json:"dtype"`
	Rank      int    `json:"rank"`
	TPDegree  int    `json:"tp_degree"`
	Path      string `json:"path"`
}
