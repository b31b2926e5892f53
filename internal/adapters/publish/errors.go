package publish

import "errors"

var (
	// ErrUploadFailed is returned when a bucket copy fails.
	ErrUploadFailed = errors.New("bucket upload failed")
	// ErrPushFailed is returned when a git step fails.
	ErrPushFailed = errors.New("git push failed")
)
