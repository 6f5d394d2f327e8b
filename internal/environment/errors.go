package environment

import (
	"errors"
	"fmt"
)

var (
	// ErrNotImplemented is returned by mandatory operations a driver did not provide.
	ErrNotImplemented = errors.New("not implemented in this environment")
	// ErrUnsupported is returned by optional capabilities a driver lacks, such as snapshots.
	ErrUnsupported = errors.New("operation not supported by this environment")
	// ErrTimeout is returned when a wait deadline elapses before a matching event.
	ErrTimeout = errors.New("timed out waiting for environment event")
)

func notImplemented(method string) error {
	return fmt.Errorf("you must redefine %s method in child environment: %w", method, ErrNotImplemented)
}

// SetupError wraps a failure raised while a driver starts its engine.
type SetupError struct {
	Driver string
	Err    error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("environment %s setup failed: %v", e.Driver, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// NewSetupError wraps err as a setup failure of the named driver.
func NewSetupError(driver string, err error) *SetupError {
	return &SetupError{Driver: driver, Err: err}
}

// IsTimeout reports whether err is a wait timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
