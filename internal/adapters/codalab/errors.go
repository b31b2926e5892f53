package codalab

import "errors"

var (
	// ErrEvaluateFailed is returned when the competition runner reports an error.
	ErrEvaluateFailed = errors.New("evaluation runner failed")
	// ErrStatusUnavailable is returned when a bundle's run status cannot be read.
	ErrStatusUnavailable = errors.New("job status unavailable")
	// ErrInvalidBundleID is returned for ids cl would read as a flag.
	ErrInvalidBundleID = errors.New("invalid bundle id")
	// ErrReleaseFailed is returned when a bundle could not be removed.
	ErrReleaseFailed = errors.New("release failed")
)
