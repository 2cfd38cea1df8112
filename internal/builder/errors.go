package builder

import "fmt"

// unsupportedHardwareFeatureError signals a quantization mode the local
// hardware cannot execute, detected at configuration time.
type unsupportedHardwareFeatureError struct{ feature string }

func (e unsupportedHardwareFeatureError) Error() string {
	return "hardware does not support " + e.feature +
		"; pick another quantization mode or build on supported hardware"
}

// ErrUnsupportedHardwareFeature constructs the hardware-capability error.
func ErrUnsupportedHardwareFeature(feature string) error {
	return unsupportedHardwareFeatureError{feature: feature}
}

// IsUnsupportedHardwareFeature reports whether err is a hardware-capability error.
func IsUnsupportedHardwareFeature(err error) bool {
	_, ok := err.(unsupportedHardwareFeatureError)
	return ok
}

// validationError names the offending profile field so callers can fix the
// configuration before any device work starts.
type validationError struct {
	field string
	msg   string
}

func (e validationError) Error() string { return "invalid " + e.field + ": " + e.msg }

func errValidation(field, format string, args ...any) error {
	return validationError{field: field, msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a configuration validation error.
func IsValidation(err error) bool {
	_, ok := err.(validationError)
	return ok
}

// ValidationField returns the offending field name, or "" if err is not a
// validation error.
func ValidationField(err error) string {
	if v, ok := err.(validationError); ok {
		return v.field
	}
	return ""
}

// buildFailedError is raised when the external builder returns no engine.
type buildFailedError struct{ rank int }

func (e buildFailedError) Error() string {
	return fmt.Sprintf("engine build failed for rank %d; check the builder logs and retry", e.rank)
}

// IsBuildFailed reports whether err indicates the external builder produced no engine.
func IsBuildFailed(err error) bool {
	_, ok := err.(buildFailedError)
	return ok
}
