package sandbox

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors, matched with errors.Is.
var (
	ErrCommandNotAllowed = errors.New("command not allowed")
	// ErrTimeout matches every limit kill, whether the deadline or the
	// memory ceiling triggered it.
	ErrTimeout = errors.New("sandboxed process killed")
	// ErrMemoryLimit matches only kills caused by the memory ceiling.
	ErrMemoryLimit = errors.New("memory limit exceeded")
)

// CommandNotAllowedError is returned before any process is spawned when the
// command is missing from the allow-list.
type CommandNotAllowedError struct {
	Command string
}

func (e *CommandNotAllowedError) Error() string {
	return fmt.Sprintf("sandbox: command %q is not in the allow-list", e.Command)
}

// Is matches ErrCommandNotAllowed.
func (e *CommandNotAllowedError) Is(target error) bool { return target == ErrCommandNotAllowed }

// LimitCause says which limit killed a process.
type LimitCause string

// Limit causes.
const (
	CauseDeadline LimitCause = "deadline"
	CauseMemory   LimitCause = "memory"
)

// TimeoutError is returned when a process is killed for exceeding its
// deadline or its memory ceiling. Output captured before the kill is
// discarded.
type TimeoutError struct {
	Command     string
	Cause       LimitCause
	Timeout     time.Duration
	MaxMemoryMB int
	PeakRSS     uint64
	Elapsed     time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Cause == CauseMemory {
		return fmt.Sprintf("sandbox: %s killed after %s: resident memory %d MB above limit of %d MB",
			e.Command, e.Elapsed.Round(time.Millisecond), e.PeakRSS>>20, e.MaxMemoryMB)
	}
	return fmt.Sprintf("sandbox: %s killed after %s: exceeded timeout of %s",
		e.Command, e.Elapsed.Round(time.Millisecond), e.Timeout)
}

// Is matches ErrTimeout for every cause and ErrMemoryLimit for memory kills.
func (e *TimeoutError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return true
	case ErrMemoryLimit:
		return e.Cause == CauseMemory
	}
	return false
}
