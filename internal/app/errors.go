package service

import "errors"

var (
	// ErrDispatchFailed is returned when the evaluation runner fails.
	ErrDispatchFailed = errors.New("dispatch failed")
	// ErrLeaderboardMissing is returned when cleanup finds no raw leaderboard.
	ErrLeaderboardMissing = errors.New("leaderboard not yet created")
	// ErrNoJobs is returned when the raw leaderboard has no entries.
	ErrNoJobs = errors.New("no jobs found to cleanup")
	// ErrPublishFailed is returned when a publish target fails.
	ErrPublishFailed = errors.New("publish failed")
)
