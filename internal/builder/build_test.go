package builder

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"trtbuild/pkg/types"
)

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func TestBuildSerialProducesEnginesAndMetadata(t *testing.T) {
	out := t.TempDir()
	pub := &recordingPublisher{}
	b := testBuilder(testModelConfig(), Deps{Publisher: pub})
	b.Shard(2, 1, 2, 2).WithGenerationProfile(4, 128, 128, 0)

	got, err := b.Build(context.Background(), out, 3)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got != out {
		t.Fatalf("expected output path returned, got %q", got)
	}

	want := []string{
		BuilderConfigFile,
		HFConfigFile,
		"llama_float16_tp2_rank0.engine",
		"llama_float16_tp2_rank1.engine",
		TimingCacheFile,
	}
	sort.Strings(want)
	files := listDir(t, out)
	if len(files) != len(want) {
		t.Fatalf("expected files %v, got %v", want, files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("expected files %v, got %v", want, files)
		}
	}

	names := pub.names()
	if names[0] != "build_start" || names[len(names)-1] != "build_done" {
		t.Fatalf("unexpected event order: %v", names)
	}
}

func TestSerialAndParallelProduceIdenticalArtifacts(t *testing.T) {
	serialOut := t.TempDir()
	parallelOut := t.TempDir()

	serial := testBuilder(testModelConfig(), Deps{})
	serial.Shard(4, 1, 4, 4).WithGenerationProfile(1, 64, 64, 0)
	if _, err := serial.Build(context.Background(), serialOut, 0); err != nil {
		t.Fatalf("serial build: %v", err)
	}

	parallel := testBuilder(testModelConfig(), Deps{})
	parallel.Shard(4, 1, 4, 4).WithGenerationProfile(1, 64, 64, 0).EnableParallelBuild(2)
	if _, err := parallel.Build(context.Background(), parallelOut, 0); err != nil {
		t.Fatalf("parallel build: %v", err)
	}

	sf, pf := listDir(t, serialOut), listDir(t, parallelOut)
	if len(sf) != len(pf) {
		t.Fatalf("file sets differ: %v vs %v", sf, pf)
	}
	for i := range sf {
		if sf[i] != pf[i] {
			t.Fatalf("file sets differ: %v vs %v", sf, pf)
		}
		sb, err := os.ReadFile(filepath.Join(serialOut, sf[i]))
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		pb, err := os.ReadFile(filepath.Join(parallelOut, pf[i]))
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(sb) != string(pb) {
			t.Fatalf("artifact %s differs between serial and parallel builds", sf[i])
		}
	}
}

func TestBuildIsConsumedOnce(t *testing.T) {
	b := testBuilder(testModelConfig(), Deps{})
	b.WithGenerationProfile(1, 16, 16, 0)
	if _, err := b.Build(context.Background(), t.TempDir(), 0); err != nil {
		t.Fatalf("first build: %v", err)
	}
	if _, err := b.Build(context.Background(), t.TempDir(), 0); err == nil {
		t.Fatalf("expected second build to fail")
	}
}

func TestBuildFailsWhenBuilderReturnsNoEngine(t *testing.T) {
	b := testBuilder(testModelConfig(), Deps{Graph: &stubGraph{returnNil: true}})
	b.WithGenerationProfile(1, 16, 16, 0)
	_, err := b.Build(context.Background(), t.TempDir(), 0)
	if err == nil || !IsBuildFailed(err) {
		t.Fatalf("expected build failed error, got %v", err)
	}
}

func TestBuildRejectsMissingProfileBeforeDispatch(t *testing.T) {
	g := &stubGraph{}
	b := testBuilder(testModelConfig(), Deps{Graph: g})
	_, err := b.Build(context.Background(), t.TempDir(), 0)
	if err == nil || !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(g.built) != 0 {
		t.Fatalf("expected no engine built, got %d", len(g.built))
	}
}

func TestBuildRejectsZeroWorldSize(t *testing.T) {
	g := &stubGraph{}
	b := testBuilder(testModelConfig(), Deps{Graph: g})
	b.Shard(1, 1, 0, 1).WithGenerationProfile(1, 16, 16, 0)
	_, err := b.Build(context.Background(), t.TempDir(), 0)
	if err == nil || !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f := ValidationField(err); f != "world_size" {
		t.Fatalf("expected world_size field, got %q", f)
	}
	if len(g.built) != 0 {
		t.Fatalf("expected no engine built, got %d", len(g.built))
	}
}

func TestFP8BuildLoadsQuantizedCheckpoint(t *testing.T) {
	out := t.TempDir()
	loader := &stubArchLoader{}
	b := testBuilder(testModelConfig(), Deps{
		Loaders: map[types.Architecture]ArchLoader{types.ArchLlama: loader},
		Prober:  stubProber{count: 1, freeMB: 1024, fp8: true},
	})
	if _, err := b.WithQuantizationProfile(QuantFP8QDQ, &Calibration{Dataset: "wikitext"}); err != nil {
		t.Fatalf("quantization profile: %v", err)
	}
	b.WithGenerationProfile(1, 16, 16, 0)

	if _, err := b.Build(context.Background(), out, 0); err != nil {
		t.Fatalf("build: %v", err)
	}
	if loader.fromQuantized != 1 || loader.fromHF != 0 {
		t.Fatalf("expected quantized checkpoint load, got quantized=%d hf=%d", loader.fromQuantized, loader.fromHF)
	}
}

func TestDebugOutputsEnvMarksHiddenTensors(t *testing.T) {
	t.Setenv(EnvDebugOutputs, "1")
	g := &stubGraph{}
	b := testBuilder(testModelConfig(), Deps{Graph: g})
	b.WithGenerationProfile(1, 16, 16, 0)
	if _, err := b.Build(context.Background(), t.TempDir(), 0); err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(g.networks) != 1 {
		t.Fatalf("expected one network, got %d", len(g.networks))
	}
	// logits plus the two stub hidden-state tensors
	if got := len(g.networks[0].outputs); got != 3 {
		t.Fatalf("expected 3 marked outputs, got %d", got)
	}
}

func TestExportONNXEnvWritesExport(t *testing.T) {
	t.Setenv(EnvExportONNX, "true")
	out := t.TempDir()
	b := testBuilder(testModelConfig(), Deps{})
	b.WithGenerationProfile(1, 16, 16, 0)
	if _, err := b.Build(context.Background(), out, 0); err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "model.onnx")); err != nil {
		t.Fatalf("expected onnx export: %v", err)
	}
}

func TestExportONNXWritesFromRankZeroOnly(t *testing.T) {
	t.Setenv(EnvExportONNX, "1")
	out := t.TempDir()
	g := &stubGraph{}
	b := testBuilder(testModelConfig(), Deps{Graph: g})
	b.Shard(2, 1, 2, 2).WithGenerationProfile(1, 16, 16, 0).EnableParallelBuild(2)
	if _, err := b.Build(context.Background(), out, 0); err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "model.onnx")); err != nil {
		t.Fatalf("expected onnx export: %v", err)
	}
	exports := 0
	for _, n := range g.networks {
		if n.exported {
			exports++
		}
	}
	if exports != 1 {
		t.Fatalf("expected exactly one rank to export, got %d", exports)
	}
}
