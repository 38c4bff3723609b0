package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/s3contents/internal/config"
	"github.com/3leaps/s3contents/pkg/auth"
	"github.com/3leaps/s3contents/pkg/checkpoint"
	"github.com/3leaps/s3contents/pkg/contents"
	"github.com/3leaps/s3contents/pkg/objectstore"
	"github.com/3leaps/s3contents/pkg/pathmap"
)

// Process exit codes.
const (
	ExitSuccess         = 0
	ExitFailure         = 1
	ExitInvalidArgument = 2
	ExitConfig          = 3
	ExitNotFound        = 4
	ExitAccessDenied    = 5
	ExitUnavailable     = 6
	ExitAlreadyExists   = 7
	ExitPartialFailure  = 8
	ExitCanceled        = 130
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// storeError wraps err with the exit code matching its kind.
func storeError(message string, err error) error {
	return exitError(exitCodeFor(err), message, err)
}

// exitCodeFor classifies err.
func exitCodeFor(err error) int {
	var cfgErr *config.ConfigError
	var authErr *auth.ConfigError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, context.Canceled):
		return ExitCanceled
	case errors.As(err, &cfgErr), errors.As(err, &authErr):
		return ExitConfig
	}
	if _, ok := contents.AsBulkError(err); ok {
		return ExitPartialFailure
	}
	switch {
	case contents.IsInvalidArgument(err),
		errors.Is(err, pathmap.ErrInvalidPath),
		errors.Is(err, checkpoint.ErrInvalidID):
		return ExitInvalidArgument
	case contents.IsAlreadyExists(err):
		return ExitAlreadyExists
	case objectstore.IsNotFound(err):
		return ExitNotFound
	case objectstore.IsAccessDenied(err):
		return ExitAccessDenied
	case objectstore.IsCredentialUnavailable(err),
		objectstore.IsTransient(err),
		errors.Is(err, context.DeadlineExceeded):
		return ExitUnavailable
	}
	return ExitFailure
}

// ExitCode returns the process exit code for an error returned by Execute.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}
