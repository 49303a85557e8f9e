package counter

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPath indicates that Open was called without a state file path.
	ErrEmptyPath = errors.New("counter: state file path is empty")

	// ErrPersist indicates that the state could not be written after every retry.
	// The in-memory state is left unchanged when it is returned.
	ErrPersist = errors.New("counter: persist state failed")
)

// CorruptionError describes a state file that exists but cannot be decoded.
//
// Store never returns it from Open; it is logged and the store starts from defaults.
// It is exported so callers inspecting LoadError can report it.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("counter: state file %s is unreadable, using defaults: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }
