package builder

import "fmt"

// DType is the numeric precision an engine is built for. Values follow the
// torch_dtype spelling used in HuggingFace configs.
type DType string

const (
	Float32  DType = "float32"
	Float16  DType = "float16"
	BFloat16 DType = "bfloat16"
)

// ParseDType validates a dtype string from config or flags. The empty string
// is an error; "unset" is for the caller to decide, not a float16 alias.
func ParseDType(s string) (DType, error) {
	switch DType(s) {
	case Float32, Float16, BFloat16:
		return DType(s), nil
	default:
		return "", fmt.Errorf("unsupported dtype %q (want float32, float16 or bfloat16)", s)
	}
}

func (d DType) String() string { return string(d) }
