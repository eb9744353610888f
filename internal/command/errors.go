package command

import (
	"errors"
	"fmt"
)

var (
	ErrCommandExecution     = errors.New("command: execution failed")
	ErrUnsupportedOperation = errors.New("command: unsupported operation")
	ErrPanic                = errors.New("command: panic")
)

// Stage names the lifecycle step a command failed in.
type Stage string

const (
	StageCacheCheck  Stage = "cache_check"
	StagePreProcess  Stage = "pre_process"
	StageExecute     Stage = "execute"
	StagePostProcess Stage = "post_process"
)

// ExecutionError carries the command name and target identity of a failure.
// It matches ErrCommandExecution and unwraps to the cause.
type ExecutionError struct {
	Command string
	Target  string
	Stage   Stage
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("command: %s on %s failed during %s: %v", e.Command, e.Target, e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return target == ErrCommandExecution
}
