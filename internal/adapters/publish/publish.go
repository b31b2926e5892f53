// Package publish ships leaderboard files to object storage and to the
// git repository serving the leaderboard page.
package publish

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/podium/internal/adapters/executor"
	"github.com/okian/podium/internal/config"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// Publish targets, used in logs and metrics.
const (
	TargetBucket = "bucket"
	TargetGit    = "git"
)

// CommitTimeLayout formats the commit message timestamp, day first.
const CommitTimeLayout = "02/01/2006 15:04:05"

var nothingToCommit = []string{"nothing to commit", "nothing added to commit"}

// Publisher uploads and commits leaderboard files according to config.
type Publisher struct {
	runner executor.Runner
	cfg    *config.Config
	now    func() time.Time
	logger logger.Logger
}

// Option applies a configuration option to the Publisher.
type Option func(*Publisher)

// WithClock replaces the clock used for commit messages.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a publisher issuing commands through runner.
func New(runner executor.Runner, cfg *config.Config, opts ...Option) *Publisher {
	p := &Publisher{
		runner: runner,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.Get().Named("publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Upload copies the raw and the normalized leaderboard into the bucket.
// Both copies are attempted; their failures are joined.
func (p *Publisher) Upload(ctx context.Context) error {
	if !p.cfg.PushToBucket {
		p.logger.Debug(ctx, "bucket upload disabled")
		return nil
	}
	if err := config.CheckBucket(p.cfg.BucketPath); err != nil {
		metrics.RecordPublish(TargetBucket, err)
		return err
	}

	var errs []error
	for _, file := range []string{p.cfg.RawLeaderboardPath, p.cfg.FinalLeaderboardPath} {
		cmd := p.gsutil("-m", "cp", "-r", file, p.cfg.BucketPath)
		if err := p.runner.Run(ctx, cmd).Err(cmd); err != nil {
			errs = append(errs, fmt.Errorf("upload %s: %w", filepath.Base(file), err))
		}
	}
	err := errors.Join(errs...)
	metrics.RecordPublish(TargetBucket, err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	p.logger.Info(ctx, "leaderboards uploaded", logger.String("bucket", p.cfg.BucketPath))
	return nil
}

// gsutil builds a gsutil command carrying the storage credentials as boto
// overrides, when configured.
func (p *Publisher) gsutil(args ...string) executor.Command {
	var full []string
	var secrets []string
	if id, secret := p.cfg.StorageAccessKeyID, p.cfg.StorageSecretAccessKey; id != "" && secret != "" {
		full = append(full,
			"-o", "Credentials:gs_access_key_id="+id,
			"-o", "Credentials:gs_secret_access_key="+secret,
		)
		secrets = append(secrets, secret)
	}
	return executor.Command{
		Binary:  p.cfg.GsutilBin,
		Args:    append(full, args...),
		Secrets: secrets,
	}
}

// Push commits the normalized leaderboard and pushes it. The sequence is
// add, commit, pull, push; the first failing step stops it. A clean tree
// is not an error: the pull and push still run so commits left behind by
// an earlier failed push reach the remote.
func (p *Publisher) Push(ctx context.Context) error {
	if !p.cfg.PushToGit {
		p.logger.Debug(ctx, "git push disabled")
		return nil
	}
	err := p.push(ctx)
	metrics.RecordPublish(TargetGit, err)
	return err
}

func (p *Publisher) push(ctx context.Context) error {
	dir := p.cfg.RepoDir()
	file, err := filepath.Rel(dir, p.cfg.FinalLeaderboardPath)
	if err != nil || strings.HasPrefix(file, "..") {
		file = filepath.Base(p.cfg.FinalLeaderboardPath)
	}
	message := "Update: " + p.now().Format(CommitTimeLayout)

	steps := []struct {
		name string
		args []string
	}{
		{"add", []string{"add", file}},
		{"commit", []string{"commit", "-m", message}},
		{"pull", []string{"pull", "--rebase", "--autostash"}},
		{"push", []string{"push"}},
	}
	committed := true
	for _, step := range steps {
		cmd := p.git(dir, step.args...)
		res := p.runner.Run(ctx, cmd)
		if step.name == "commit" && res.Failed() && cleanTree(res) {
			p.logger.Info(ctx, "leaderboard unchanged, pushing pending commits")
			committed = false
			continue
		}
		if err := res.Err(cmd); err != nil {
			return fmt.Errorf("%w: git %s: %w", ErrPushFailed, step.name, err)
		}
	}
	p.logger.Info(ctx, "leaderboard pushed",
		logger.String("repo", dir),
		logger.String("message", message),
		logger.Bool("committed", committed),
	)
	return nil
}

// git builds a git command in dir. Credentials travel as a one-off
// http.extraHeader through GIT_CONFIG_* so nothing is written to any git
// config file.
func (p *Publisher) git(dir string, args ...string) executor.Command {
	env := []string{"GIT_TERMINAL_PROMPT=0"}
	if user, token := p.cfg.GitUserName, p.cfg.GitToken; user != "" && token != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(user + ":" + token))
		env = append(env,
			"GIT_CONFIG_COUNT=1",
			"GIT_CONFIG_KEY_0=http.extraHeader",
			"GIT_CONFIG_VALUE_0=Authorization: Basic "+auth,
		)
	}
	if name := p.cfg.GitAuthorName; name != "" {
		env = append(env, "GIT_AUTHOR_NAME="+name, "GIT_COMMITTER_NAME="+name)
	}
	if email := p.cfg.GitAuthorEmail; email != "" {
		env = append(env, "GIT_AUTHOR_EMAIL="+email, "GIT_COMMITTER_EMAIL="+email)
	}
	return executor.Command{Binary: p.cfg.GitBin, Args: args, Env: env, Dir: dir}
}

func cleanTree(res executor.Result) bool {
	out := res.Stdout + res.Stderr
	for _, marker := range nothingToCommit {
		if strings.Contains(out, marker) {
			return true
		}
	}
	return false
}
