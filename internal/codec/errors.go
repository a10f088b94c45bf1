package codec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBackendUnavailable marks a backend that cannot run for the
	// given input in the current environment. The chain recovers from
	// it by falling through to the next backend.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrNotRenderable is returned by the renderer backend when the
	// input cannot be decoded into pixels at all.
	ErrNotRenderable = errors.New("input is not renderable")

	// ErrUnknownFormat is returned when magic-byte sniffing fails.
	ErrUnknownFormat = errors.New("unknown image format")
)

// AttemptError records one failed backend attempt.
type AttemptError struct {
	Backend string
	Err     error
}

func (e AttemptError) Error() string {
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

func (e AttemptError) Unwrap() error { return e.Err }

// ExhaustedError aggregates the causes after every backend in the
// chain failed for one asset.
type ExhaustedError struct {
	Attempts []AttemptError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Error()
	}
	return fmt.Sprintf("all compression backends failed: [%s]", strings.Join(parts, "; "))
}

// Is lets errors.Is match any aggregated cause.
func (e *ExhaustedError) Is(target error) bool {
	for _, a := range e.Attempts {
		if errors.Is(a.Err, target) {
			return true
		}
	}
	return false
}
