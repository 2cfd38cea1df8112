package pipelines

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeEngineDir(t *testing.T, modelType string, ranks int) string {
	t.Helper()
	dir := t.TempDir()
	cfg := `{"model_type":"` + modelType + `","torch_dtype":"float16","hidden_size":64,` +
		`"num_hidden_layers":2,"num_attention_heads":4,"max_position_embeddings":2048,` +
		`"vocab_size":32000,"hidden_act":"silu","eos_token_id":2}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	for r := 0; r < ranks; r++ {
		name := fmt.Sprintf("%s_float16_tp%d_rank%d.engine", modelType, ranks, r)
		if err := os.WriteFile(filepath.Join(dir, name), []byte("engine"), 0o644); err != nil {
			t.Fatalf("write engine: %v", err)
		}
	}
	return dir
}

func TestLoadEngineIndexesRankFiles(t *testing.T) {
	dir := writeEngineDir(t, "llama", 2)

	eng, err := LoadEngine(dir)
	if err != nil {
		t.Fatalf("LoadEngine: %v", err)
	}
	if eng.Config.ModelType != "llama" {
		t.Fatalf("unexpected model type %q", eng.Config.ModelType)
	}
	if len(eng.Files) != 2 {
		t.Fatalf("expected 2 engine files, got %d", len(eng.Files))
	}
	for _, f := range eng.Files {
		if f.ModelType != "llama" || f.Dtype != "float16" || f.TPDegree != 2 {
			t.Fatalf("bad parsed engine: %+v", f)
		}
	}
}

func TestLoadEngineRejectsDirWithoutEngines(t *testing.T) {
	dir := writeEngineDir(t, "llama", 0)

	if _, err := LoadEngine(dir); err == nil {
		t.Fatalf("expected error for directory without engine files")
	}
}

func TestLoadEngineRejectsDirWithoutConfig(t *testing.T) {
	if _, err := LoadEngine(t.TempDir()); err == nil {
		t.Fatalf("expected error for directory without config.json")
	}
}
