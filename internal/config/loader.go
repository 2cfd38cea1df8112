package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds build and serve parameters read from a config file.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	ModelDir  string `json:"model_dir" yaml:"model_dir" toml:"model_dir"`
	OutputDir string `json:"output_dir" yaml:"output_dir" toml:"output_dir"`

	Dtype            string `json:"dtype" yaml:"dtype" toml:"dtype"`
	OptimizationLvl  int    `json:"optimization_level" yaml:"optimization_level" toml:"optimization_level"`
	ParallelBuild    bool   `json:"parallel_build" yaml:"parallel_build" toml:"parallel_build"`
	NumParallelJobs  int    `json:"num_parallel_jobs" yaml:"num_parallel_jobs" toml:"num_parallel_jobs"`

	MaxBatchSize    int `json:"max_batch_size" yaml:"max_batch_size" toml:"max_batch_size"`
	MaxPromptLength int `json:"max_prompt_length" yaml:"max_prompt_length" toml:"max_prompt_length"`
	MaxNewTokens    int `json:"max_new_tokens" yaml:"max_new_tokens" toml:"max_new_tokens"`
	MaxBeamWidth    int `json:"max_beam_width" yaml:"max_beam_width" toml:"max_beam_width"`

	TPDegree       int `json:"tp_degree" yaml:"tp_degree" toml:"tp_degree"`
	PPDegree       int `json:"pp_degree" yaml:"pp_degree" toml:"pp_degree"`
	WorldSize      int `json:"world_size" yaml:"world_size" toml:"world_size"`
	NumGPUsPerNode int `json:"num_gpus_per_node" yaml:"num_gpus_per_node" toml:"num_gpus_per_node"`

	QuantMode           string `json:"quant_mode" yaml:"quant_mode" toml:"quant_mode"`
	CalibrationDataset  string `json:"calibration_dataset" yaml:"calibration_dataset" toml:"calibration_dataset"`
	CalibrationNSamples int    `json:"calibration_samples" yaml:"calibration_samples" toml:"calibration_samples"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
