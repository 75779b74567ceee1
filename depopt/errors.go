package depopt

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors, matching the teacher's convention of typed errors in
// cmn (e.g. ErrRemoteBucketDoesNotExist) rather than ad hoc fmt.Errorf
// strings compared by substring.
var (
	// ErrDuplicateID is returned by metaOwner.add when an id already
	// exists in a different sub-map than the one being inserted into
	// (invariant 1, spec.md 3).
	ErrDuplicateID = errors.New("depopt: id already present in another sub-map")

	// ErrScanFailed wraps a Scanner.Discover failure (spec.md 7).
	ErrScanFailed = errors.New("depopt: dependency scan failed")

	// ErrBundlerFailed wraps a Bundler.Run failure (spec.md 7).
	ErrBundlerFailed = errors.New("depopt: bundler run failed")

	// ErrSSRNotIncluded is logged as a user error when an SSR request
	// resolves a missing import that isn't in the manual include list
	// (spec.md 7).
	ErrSSRNotIncluded = errors.New("depopt: dependency must be in the manual include list for SSR")

	// ErrClosed is returned by public methods called after Close.
	ErrClosed = errors.New("depopt: optimizer closed")
)

// collaboratorError lets callers test errors.Is(err, ErrBundlerFailed) /
// ErrScanFailed while still exposing the underlying collaborator error
// via Unwrap/Cause, the way cmn's typed errors wrap an underlying cause.
type collaboratorError struct {
	sentinel error
	cause    error
}

func (e *collaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.sentinel, e.cause)
}

func (e *collaboratorError) Unwrap() error { return e.sentinel }
func (e *collaboratorError) Cause() error  { return e.cause }

func wrapBundlerErr(err error) error {
	if err == nil {
		return nil
	}
	return &collaboratorError{sentinel: ErrBundlerFailed, cause: err}
}

func wrapScanErr(err error) error {
	if err == nil {
		return nil
	}
	return &collaboratorError{sentinel: ErrScanFailed, cause: err}
}
