package executor

import "errors"

// ErrCommandFailed wraps a command that exited non-zero.
var ErrCommandFailed = errors.New("command failed")
