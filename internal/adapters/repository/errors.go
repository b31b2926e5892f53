package repository

import "errors"

// Sentinel kinds for leaderboard errors.
var (
	ErrNotFound     = errors.New("bundle not found")
	ErrInvalidLimit = errors.New("invalid leaderboard limit")
	ErrWatch        = errors.New("watch leaderboard")
)
