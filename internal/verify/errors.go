package verify

import "errors"

// Sentinel errors for this package.
var (
	ErrRequest      = errors.New("request failed")
	ErrInconsistent = errors.New("leaderboard inconsistent")
)
