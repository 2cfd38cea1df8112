package pipelines

// notImplementedError signals an unsupported (architecture, task) pair.
type notImplementedError struct{ msg string }

func (e notImplementedError) Error() string { return e.msg }

// ErrNotImplemented constructs a not-implemented error.
func ErrNotImplemented(msg string) error { return notImplementedError{msg: msg} }

// IsNotImplemented reports whether err indicates an unsupported model type or task.
func IsNotImplemented(err error) bool {
	_, ok := err.(notImplementedError)
	return ok
}

// dependencyUnavailableError signals a missing external runtime (e.g. the
// engine executor binary) so callers can degrade gracefully.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	_, ok := err.(dependencyUnavailableError)
	return ok
}
