package types

import "fmt"

// Architecture enumerates the model families the toolchain can convert.
// Unknown model types fail at parse time instead of at lookup time.
type Architecture int

const (
	ArchUnknown Architecture = iota
	ArchLlama
	ArchMistral
	ArchGemma
)

var archNames = map[Architecture]string{
	ArchLlama:   "llama",
	ArchMistral: "mistral",
	ArchGemma:   "gemma",
}

func (a Architecture) String() string {
	if n, ok := archNames[a]; ok {
		return n
	}
	return "unknown"
}

// ParseArchitecture maps a HuggingFace model_type onto the enum.
func ParseArchitecture(modelType string) (Architecture, error) {
	for a, n := range archNames {
		if n == modelType {
			return a, nil
		}
	}
	return ArchUnknown, fmt.Errorf("model type %q is not supported", modelType)
}

// SupportedArchitectures lists the convertible model families in a stable order.
func SupportedArchitectures() []Architecture {
	return []Architecture{ArchLlama, ArchMistral, ArchGemma}
}
