package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/arturoeanton/wshbox/emulator"
	"github.com/arturoeanton/wshbox/preprocess"
	"github.com/arturoeanton/wshbox/rewrite"
)

// Errors raised by the collaborators, re-exported so callers only need
// this package to classify a failed run.
type (
	ParseError         = rewrite.ParseError
	RewriteError       = rewrite.RewriteError
	UnknownObjectError = emulator.UnknownObjectError
	MissingToolError   = preprocess.MissingToolError
)

// Watchdog and controller errors
var (
	ErrTimeout     = errors.New("script execution timed out")
	ErrMemoryLimit = errors.New("script exceeded the memory budget")
	ErrAlreadyRan  = errors.New("sandbox has already run")
)

// RuntimeFault is an exception the sample did not catch.
type RuntimeFault struct {
	Message string
	Stack   string
}

func (e *RuntimeFault) Error() string {
	return "runtime fault: " + e.Message
}

// ConfigError reports an unusable configuration or input.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("configuration error: %v", e.Err) }

func (e *ConfigError) Unwrap() error { return e.Err }

// Process exit codes
const (
	ExitOK            = 0
	ExitRuntimeFault  = 1
	ExitUnknownObject = 2
	ExitRewriteError  = 3
	ExitParseError    = 4
	ExitMissingTool   = 5
	ExitTimeout       = 6
	ExitMemoryLimit   = 7
	ExitInputError    = 8
)

// WorkerError is the failure of an analysis that ran in a worker process.
// Code is the exit code the worker assigned to it.
type WorkerError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *WorkerError) Error() string { return e.Message }

// Is matches the watchdog sentinels, so errors.Is(err, ErrTimeout) holds
// for a worker that timed out.
func (e *WorkerError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Code == ExitTimeout
	case ErrMemoryLimit:
		return e.Code == ExitMemoryLimit
	}
	return false
}

// ExitCode maps the outcome of an analysis to the process exit code. A
// cancelled context is a runtime fault; only a deadline counts as a timeout.
func ExitCode(err error) int {
	var (
		parseErr   *ParseError
		rewriteErr *RewriteError
		unknown    *UnknownObjectError
		missing    *MissingToolError
		config     *ConfigError
		worker     *WorkerError
	)
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &worker):
		return worker.Code
	case errors.Is(err, ErrTimeout):
		return ExitTimeout
	case errors.Is(err, ErrMemoryLimit):
		return ExitMemoryLimit
	case errors.As(err, &unknown):
		return ExitUnknownObject
	case errors.As(err, &missing):
		return ExitMissingTool
	case errors.As(err, &parseErr):
		return ExitParseError
	case errors.As(err, &rewriteErr):
		return ExitRewriteError
	case errors.As(err, &config):
		return ExitInputError
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeout
	default:
		return ExitRuntimeFault
	}
}
