package builder

import (
	"os"
	"strings"
)

// Environment switches, both default off.
const (
	// EnvDebugOutputs enables marking every intermediate tensor as a network
	// output so the engine dumps hidden activations.
	EnvDebugOutputs = "TRTBUILD_DEBUG_OUTPUTS"
	// EnvExportONNX writes an ONNX interchange export of the network next to
	// the engines.
	EnvExportONNX = "TRTBUILD_EXPORT_ONNX"
)

// flagFromEnv interprets common truthy spellings; unset or anything else is false.
func flagFromEnv(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
