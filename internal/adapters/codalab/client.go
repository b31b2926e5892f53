// Package codalab drives the CodaLab command line tools: the competition
// runner that schedules evaluations and the bundle client used to inspect
// and release finished jobs.
package codalab

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/podium/internal/adapters/executor"
	"github.com/okian/podium/pkg/logger"
)

// Mode selects what a runner invocation does.
type Mode int

const (
	// Full schedules pending evaluations and rebuilds the leaderboard.
	Full Mode = iota
	// LeaderboardOnly rebuilds the leaderboard without scheduling.
	LeaderboardOnly
)

func (m Mode) String() string {
	if m == LeaderboardOnly {
		return "leaderboard-only"
	}
	return "full"
}

const (
	statusField    = "run_status"
	statusFinished = "Finished"
)

// Client issues CodaLab commands through a Runner.
type Client struct {
	runner       executor.Runner
	competitiond string
	cl           string
	jobPath      string
	output       string
	env          []string
	logger       logger.Logger
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithBinaries overrides the runner and bundle client executables.
func WithBinaries(competitiond, cl string) Option {
	return func(c *Client) {
		if competitiond != "" {
			c.competitiond = competitiond
		}
		if cl != "" {
			c.cl = cl
		}
	}
}

// WithJob sets the job definition and the raw leaderboard the runner writes.
func WithJob(jobPath, leaderboardPath string) Option {
	return func(c *Client) {
		c.jobPath = jobPath
		c.output = leaderboardPath
	}
}

// WithEnv sets the credential environment passed to every command.
func WithEnv(env []string) Option {
	return func(c *Client) {
		c.env = env
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client running commands with runner.
func New(runner executor.Runner, opts ...Option) *Client {
	c := &Client{
		runner:       runner,
		competitiond: "cl-competitiond",
		cl:           "cl",
		logger:       logger.Get().Named("codalab"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Evaluate runs the competition runner on the job definition, which writes
// the raw leaderboard. Any stderr output counts as a failure, as does a
// non-zero exit.
func (c *Client) Evaluate(ctx context.Context, mode Mode) (executor.Result, error) {
	args := make([]string, 0, 3)
	if mode == LeaderboardOnly {
		args = append(args, "-l")
	}
	args = append(args, c.jobPath, c.output)
	cmd := executor.Command{Binary: c.competitiond, Args: args, Env: c.env}

	res := c.runner.Run(ctx, cmd)
	if res.Failed() {
		return res, fmt.Errorf("%w: %w", ErrEvaluateFailed, res.Err(cmd))
	}
	if msg := strings.TrimSpace(res.Stderr); msg != "" {
		return res, fmt.Errorf("%w: %s", ErrEvaluateFailed, msg)
	}
	c.logger.Info(ctx, "evaluation runner finished",
		logger.String("mode", mode.String()),
		logger.Duration("took", res.Duration),
	)
	return res, nil
}

// JobStatus reports whether the bundle's run has finished, along with the
// raw status text.
func (c *Client) JobStatus(ctx context.Context, bundleID string) (bool, string, error) {
	if err := checkID(bundleID); err != nil {
		return false, "", err
	}
	cmd := executor.Command{Binary: c.cl, Args: []string{"info", bundleID}, Env: c.env}
	res := c.runner.Run(ctx, cmd)
	if res.Failed() {
		return false, "", fmt.Errorf("%w: %s: %w", ErrStatusUnavailable, bundleID, res.Err(cmd))
	}
	status, ok := ParseStatus(res.Stdout)
	if !ok {
		return false, "", fmt.Errorf("%w: %s: no %s in output", ErrStatusUnavailable, bundleID, statusField)
	}
	return status == statusFinished, status, nil
}

// Release deletes a bundle and its dependents.
func (c *Client) Release(ctx context.Context, uuid string) error {
	if err := checkID(uuid); err != nil {
		return fmt.Errorf("%w: %w", ErrReleaseFailed, err)
	}
	cmd := executor.Command{Binary: c.cl, Args: []string{"rm", "-d", uuid, "--force"}, Env: c.env}
	res := c.runner.Run(ctx, cmd)
	if err := res.Err(cmd); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrReleaseFailed, uuid, err)
	}
	return nil
}

// checkID rejects ids read from the leaderboard file that are empty or
// would be parsed as an option.
func checkID(id string) error {
	if id == "" || strings.HasPrefix(id, "-") || strings.ContainsAny(id, " \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidBundleID, id)
	}
	return nil
}

// ParseStatus extracts the run status from `cl info` output. The first line
// mentioning the status field wins; its value follows the last colon.
func ParseStatus(out string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, statusField) {
			continue
		}
		i := strings.LastIndex(line, ":")
		if i < 0 {
			return "", false
		}
		return strings.TrimSpace(line[i+1:]), true
	}
	return "", false
}
