package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"trtbuild/internal/config"
)

func TestMergeConfigFlagWins(t *testing.T) {
	cmd := buildBuildCmd()
	if err := cmd.Flags().Set("dtype", "bfloat16"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	cfg := config.Config{Dtype: "bfloat16", OutputDir: "engines"}
	mergeConfig(cmd, &cfg, config.Config{Dtype: "float32", OutputDir: "/from-file"})
	if cfg.Dtype != "bfloat16" {
		t.Fatalf("explicit flag must win, got %q", cfg.Dtype)
	}
	if cfg.OutputDir != "/from-file" {
		t.Fatalf("unset flag must take the file value, got %q", cfg.OutputDir)
	}
}

func TestModelsCmdListsArchitectures(t *testing.T) {
	cmd := buildModelsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := cmd.RunE(cmd, nil); err != nil {
		t.Fatalf("models: %v", err)
	}
	s := out.String()
	if !strings.Contains(s, "llama") || !strings.Contains(s, "mistral") {
		t.Fatalf("expected llama and mistral in output: %q", s)
	}
	if !strings.Contains(s, "gemma\tbuild only") {
		t.Fatalf("gemma must be listed as build only: %q", s)
	}
}

func TestModelsCmdScansCheckpointDir(t *testing.T) {
	base := t.TempDir()
	write := func(name, modelType string) {
		dir := filepath.Join(base, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		cfg := `{"model_type":"` + modelType + `","max_position_embeddings":2048}`
		if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(cfg), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write("llama-7b", "llama")
	write("starcoder", "gpt_bigcode")

	cmd := buildModelsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := cmd.RunE(cmd, []string{base}); err != nil {
		t.Fatalf("models: %v", err)
	}
	s := out.String()
	if !strings.Contains(s, "llama-7b\tllama\tbuildable") {
		t.Fatalf("expected llama checkpoint listed as buildable: %q", s)
	}
	if !strings.Contains(s, "starcoder\tgpt_bigcode\tunsupported") {
		t.Fatalf("expected unknown model type listed as unsupported: %q", s)
	}
}
