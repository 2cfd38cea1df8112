package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/mem"
)

// Fractions of free memory the calibration load may claim.
const (
	deviceMemoryFraction = 0.7
	hostMemoryFraction   = 0.8
)

// hasCalibrationCache reports whether dir looks like a complete calibration
// artifact: exactly two files, one .json and one .safetensors. Contents are
// not fingerprinted.
func hasCalibrationCache(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 2 {
		return false
	}
	var hasJSON, hasWeights bool
	for _, e := range entries {
		if e.IsDir() {
			return false
		}
		switch {
		case strings.HasSuffix(e.Name(), ".json"):
			hasJSON = true
		case strings.HasSuffix(e.Name(), ".safetensors"):
			hasWeights = true
		}
	}
	return hasJSON && hasWeights
}

// calibrationBudget derives the per-device and host memory caps for loading
// the source model.
func (b *EngineBuilder) calibrationBudget() (MemoryBudget, error) {
	budget := MemoryBudget{Devices: make(map[int]uint64)}
	count, err := b.deps.Prober.DeviceCount()
	if err != nil {
		return budget, fmt.Errorf("device count: %w", err)
	}
	for id := 0; id < count; id++ {
		free, err := b.deps.Prober.DeviceFreeMemory(id)
		if err != nil {
			return budget, fmt.Errorf("device %d memory: %w", id, err)
		}
		budget.Devices[id] = uint64(float64(free) * deviceMemoryFraction)
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return budget, fmt.Errorf("host memory: %w", err)
	}
	budget.Host = uint64(float64(vm.Available) * hostMemoryFraction)
	return budget, nil
}

// Quantize computes (or reuses) calibration artifacts under
// outputPath/calibration and records their location in the build info.
// A well-formed cache directory short-circuits to reuse; there is no
// invalidation beyond the presence heuristic.
func (b *EngineBuilder) Quantize(ctx context.Context, outputPath string) error {
	logDebugf("model requires quantization (mode: %s)", b.qmode)
	calibPath := filepath.Join(outputPath, CalibrationDir)

	if b.calibration != nil {
		if hasCalibrationCache(calibPath) {
			logInfof("reusing precomputed calibration data at %s", calibPath)
			b.deps.Publisher.Publish(Event{Name: "calibration_reuse", ModelType: b.cfg.ModelType,
				Fields: map[string]any{"path": calibPath}})
		} else {
			logInfof("calibrating model...")
			b.deps.Publisher.Publish(Event{Name: "calibration_start", ModelType: b.cfg.ModelType,
				Fields: map[string]any{"dataset": b.calibration.Dataset}})

			budget, err := b.calibrationBudget()
			if err != nil {
				return err
			}
			model, err := b.deps.ModelLoader.Load(ctx, b.modelDir, b.dtype, budget)
			if err != nil {
				return fmt.Errorf("load model for calibration: %w", err)
			}
			quantizer := b.deps.NewCalibrator(b.qmode, b.dtype, b.shardingInfo.TPDegree)
			if err := quantizer.Calibrate(ctx, model, *b.calibration); err != nil {
				model.Release()
				return fmt.Errorf("calibrate: %w", err)
			}
			if err := quantizer.Save(calibPath); err != nil {
				model.Release()
				return fmt.Errorf("save calibration: %w", err)
			}
			model.Release()
		}
	}

	b.buildInfo.QuantizedPath = calibPath
	return nil
}
