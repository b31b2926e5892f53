package leaderboard

import "errors"

// Sentinel kinds for leaderboard errors.
var (
	ErrNotFound  = errors.New("leaderboard not found")
	ErrMalformed = errors.New("malformed leaderboard")
	ErrWrite     = errors.New("write leaderboard failed")
)
