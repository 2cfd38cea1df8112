package builder

import (
	"fmt"
	"strings"
)

// QuantMode is a bitmask of enabled quantization features, mirroring the
// external toolchain's quantization descriptor.
type QuantMode uint32

const (
	QuantModeNone QuantMode = 0

	QuantInt8Weights QuantMode = 1 << iota
	QuantInt4Weights
	QuantInt8KVCache
	QuantFP8QDQ
	QuantFP8KVCache
)

// HasFP8QDQ reports whether float8 quantize/dequantize is enabled.
func (m QuantMode) HasFP8QDQ() bool { return m&QuantFP8QDQ != 0 }

// HasFP8KVCache reports whether the KV cache is stored in float8.
func (m QuantMode) HasFP8KVCache() bool { return m&QuantFP8KVCache != 0 }

// HasAnyFP8 reports whether any float8 feature is requested.
func (m QuantMode) HasAnyFP8() bool { return m.HasFP8QDQ() || m.HasFP8KVCache() }

// IsNone reports whether no quantization is requested.
func (m QuantMode) IsNone() bool { return m == QuantModeNone }

func (m QuantMode) String() string {
	if m.IsNone() {
		return "none"
	}
	var parts []string
	if m&QuantInt8Weights != 0 {
		parts = append(parts, "int8-weights")
	}
	if m&QuantInt4Weights != 0 {
		parts = append(parts, "int4-weights")
	}
	if m&QuantInt8KVCache != 0 {
		parts = append(parts, "int8-kv")
	}
	if m&QuantFP8QDQ != 0 {
		parts = append(parts, "fp8")
	}
	if m&QuantFP8KVCache != 0 {
		parts = append(parts, "fp8-kv")
	}
	return strings.Join(parts, "+")
}

// ParseQuantMode maps the CLI/config spelling onto a bitmask.
func ParseQuantMode(s string) (QuantMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return QuantModeNone, nil
	case "int8":
		return QuantInt8Weights, nil
	case "int4":
		return QuantInt4Weights, nil
	case "int8-kv":
		return QuantInt8Weights | QuantInt8KVCache, nil
	case "fp8":
		return QuantFP8QDQ, nil
	case "fp8-kv":
		return QuantFP8QDQ | QuantFP8KVCache, nil
	default:
		return QuantModeNone, fmt.Errorf("unsupported quantization mode %q", s)
	}
}

// Calibration points the quantizer at a representative dataset.
type Calibration struct {
	// Dataset is a path to calibration samples (one prompt per line) or a
	// dataset identifier understood by the external quantizer.
	Dataset    string
	NumSamples int
}
