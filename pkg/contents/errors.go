package contents

import (
	"errors"
	"fmt"
	"strings"

	"github.com/3leaps/s3contents/pkg/objectstore"
)

// Sentinel errors for contents operations.
var (
	// ErrContentCorrupt indicates stored bytes that cannot be decoded as the
	// requested type or format.
	ErrContentCorrupt = errors.New("content corrupt")

	// ErrAlreadyExists indicates a target path that is already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates a request that can never succeed as given.
	ErrInvalidArgument = errors.New("invalid argument")
)

// IsContentCorrupt returns true if err is ErrContentCorrupt.
func IsContentCorrupt(err error) bool {
	return errors.Is(err, ErrContentCorrupt)
}

// IsAlreadyExists returns true if err is ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsInvalidArgument returns true if err is ErrInvalidArgument.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func alreadyExists(p string) error {
	return fmt.Errorf("%w: %q", ErrAlreadyExists, p)
}

func corrupt(path string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrContentCorrupt, path, fmt.Sprintf(format, args...))
}

// Failure records one key a multi-key operation could not process.
type Failure struct {
	Key  string `json:"key" yaml:"key"`
	Path string `json:"path" yaml:"path"`
	Op   string `json:"op" yaml:"op"`
	Kind string `json:"kind" yaml:"kind"`
	Err  error  `json:"-" yaml:"-"`

	Message string `json:"message" yaml:"message"`
}

// BulkResult reports the keys a recursive delete, rename or copy processed.
type BulkResult struct {
	Succeeded []string  `json:"succeeded" yaml:"succeeded"`
	Failed    []Failure `json:"failed" yaml:"failed"`
}

func (r *BulkResult) succeed(key string) {
	r.Succeeded = append(r.Succeeded, key)
}

func (r *BulkResult) fail(key, path, op string, err error) {
	r.Failed = append(r.Failed, Failure{
		Key:     key,
		Path:    path,
		Op:      op,
		Kind:    objectstore.Kind(err),
		Err:     err,
		Message: err.Error(),
	})
}

// Err returns a *BulkError when any key failed, nil otherwise.
func (r *BulkResult) Err(op, path string) error {
	if r == nil || len(r.Failed) == 0 {
		return nil
	}
	return &BulkError{Op: op, Path: path, Result: r}
}

// BulkError is returned when some keys of a multi-key operation failed.
// Keys listed in Result.Succeeded were processed; nothing is rolled back.
type BulkError struct {
	Op     string
	Path   string
	Result *BulkResult
}

func (e *BulkError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %q: %d of %d keys failed", e.Op, e.Path, len(e.Result.Failed), len(e.Result.Failed)+len(e.Result.Succeeded))
	for i, f := range e.Result.Failed {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(e.Result.Failed)-i)
			break
		}
		fmt.Fprintf(&b, "; %s %s: %s", f.Op, f.Key, f.Kind)
	}
	return b.String()
}

// Unwrap returns every per-key error, so errors.Is matches any of them.
func (e *BulkError) Unwrap() []error {
	errs := make([]error, 0, len(e.Result.Failed))
	for _, f := range e.Result.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

// AsBulkError extracts a *BulkError from err.
func AsBulkError(err error) (*BulkError, bool) {
	var be *BulkError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
