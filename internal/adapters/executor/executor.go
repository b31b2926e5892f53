// Package executor runs external tools and captures their output.
//
// It is the only place podium starts processes. Commands are argument
// vectors, never shell strings, and a Runner never fails: whatever went
// wrong ends up in Result.Stderr and Result.ExitCode for the caller to
// inspect.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// ExitUnavailable marks a command that produced no exit status, e.g. the
// binary was missing or ctx ended before it ran.
const ExitUnavailable = -1

const redacted = "***"

// Command describes one process invocation.
type Command struct {
	// Binary is the executable, resolved through PATH.
	Binary string
	// Args are passed verbatim.
	Args []string
	// Env entries (KEY=VALUE) are added to the inherited environment of this
	// process only.
	Env []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Secrets are masked wherever they appear in String.
	Secrets []string
}

// String renders the command for logs. Env values are never included.
func (c Command) String() string {
	s := c.Binary
	if len(c.Args) > 0 {
		s += " " + strings.Join(c.Args, " ")
	}
	for _, secret := range c.Secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, redacted)
		}
	}
	return s
}

// Tool is the base name of the binary, used as a metrics label.
func (c Command) Tool() string {
	return filepath.Base(c.Binary)
}

// Result carries the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Failed reports a non-zero or unavailable exit status.
func (r Result) Failed() bool {
	return r.ExitCode != 0
}

// Err turns a failed result into an error carrying the stderr text.
func (r Result) Err(cmd Command) error {
	if !r.Failed() {
		return nil
	}
	msg := strings.TrimSpace(r.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(r.Stdout)
	}
	return fmt.Errorf("%w: %s exited %d: %s", ErrCommandFailed, cmd.Tool(), r.ExitCode, msg)
}

// Runner executes a command synchronously.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger   logger.Logger
	textfile string
}

// Option applies a configuration option to the ExecRunner.
type Option func(*ExecRunner)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *ExecRunner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetricsTextfile dumps the metrics registry to path after every command.
func WithMetricsTextfile(path string) Option {
	return func(r *ExecRunner) {
		r.textfile = path
	}
}

// NewExecRunner creates a runner backed by os/exec.
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{
		logger: logger.Get().Named("executor"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts cmd, waits for it and returns its output. It never panics on
// a failed command; spawn errors are folded into Stderr.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) Result {
	start := time.Now()
	res := Result{ExitCode: ExitUnavailable}

	r.logger.Debug(ctx, "running command", logger.String("cmd", cmd.String()), logger.String("dir", cmd.Dir))

	c := exec.CommandContext(ctx, cmd.Binary, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		// binary not found, ctx cancelled before start, ...
		if res.Stderr != "" && !strings.HasSuffix(res.Stderr, "\n") {
			res.Stderr += "\n"
		}
		res.Stderr += err.Error()
	}

	metrics.RecordCommand(cmd.Tool(), res.ExitCode, res.Duration)
	if err := metrics.WriteTextfile(r.textfile); err != nil {
		r.logger.Warn(ctx, "metrics textfile export failed", logger.Error(err))
	}

	fields := []logger.Field{
		logger.String("cmd", cmd.String()),
		logger.Int("exit_code", res.ExitCode),
		logger.Duration("took", res.Duration),
	}
	if res.Failed() {
		r.logger.Warn(ctx, "command failed", append(fields, logger.String("stderr", strings.TrimSpace(res.Stderr)))...)
	} else {
		r.logger.Debug(ctx, "command finished", fields...)
	}
	return res
}
