// Package config defines the pipeline configuration and its loader.
//
// Conventions:
//   - Keys keep the names of the secrets file the pipeline has always read.
//   - Credentials never reach the process environment; callers hand them to
//     the single command that needs them.
//   - Errors are wrapped around this package's sentinels.
package config

import (
	"path/filepath"
	"time"
)

// BucketScheme is the URI prefix every storage destination must carry.
const BucketScheme = "gs://"

// Config contains process configuration.
type Config struct {
	// CompetitionYAMLPath is the evaluation job definition handed to the runner.
	CompetitionYAMLPath string `koanf:"competition_yml_path"`

	// RawLeaderboardPath is written by the evaluation runner.
	RawLeaderboardPath string `koanf:"master_leaderboard_json_path"`

	// FinalLeaderboardPath receives the normalized leaderboard.
	FinalLeaderboardPath string `koanf:"final_leaderboard_json_path"`

	// BucketPath is the storage destination, e.g. gs://bucket/leaderboards.
	BucketPath string `koanf:"bucket_path"`

	PushToBucket bool `koanf:"push_to_gcp_bucket"`
	PushToGit    bool `koanf:"push_to_git"`

	// StrictPublish turns publish failures into cycle failures.
	StrictPublish bool `koanf:"strict_publish"`

	// Evaluation runner credentials.
	CodalabUserName     string `koanf:"codalab_user_name"`
	CodalabUserPassword string `koanf:"codalab_user_password"`

	// Storage HMAC credential pair, handed to gsutil as boto overrides.
	StorageAccessKeyID     string `koanf:"storage_access_key_id"`
	StorageSecretAccessKey string `koanf:"storage_secret_access_key"`

	// Version-control credential pair and commit identity.
	GitUserName    string `koanf:"git_user_name"`
	GitToken       string `koanf:"git_token"`
	GitAuthorName  string `koanf:"git_author_name"`
	GitAuthorEmail string `koanf:"git_author_email"`

	// GitRepoDir defaults to the directory of FinalLeaderboardPath.
	GitRepoDir string `koanf:"git_repo_dir"`

	// EnvFile is an optional dotenv file with credentials.
	EnvFile string `koanf:"env_file"`

	// PollMaxIterations bounds the completion polling loop.
	PollMaxIterations int `koanf:"poll_max_iterations"`
	// PollInterval is the pause between polling iterations.
	PollInterval time.Duration `koanf:"poll_interval"`

	// Tool binaries.
	CompetitiondBin string `koanf:"competitiond_bin"`
	CLBin           string `koanf:"cl_bin"`
	GsutilBin       string `koanf:"gsutil_bin"`
	GitBin          string `koanf:"git_bin"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// MetricsTextfile, when set, receives a metrics dump after each command.
	MetricsTextfile string `koanf:"metrics_textfile"`

	// Addr is the listen address of the serve command.
	Addr string `koanf:"addr"`

	// SiteHost prefixes bundle code links on the leaderboard page.
	SiteHost string `koanf:"site_host"`
}

// New creates a Config holding defaults.
func New() *Config {
	return &Config{
		PollMaxIterations: 150,
		PollInterval:      5 * time.Minute,
		CompetitiondBin:   "cl-competitiond",
		CLBin:             "cl",
		GsutilBin:         "gsutil",
		GitBin:            "git",
		LogLevel:          "info",
		Addr:              ":9080",
		SiteHost:          "https://worksheets.codalab.org",
	}
}

// RepoDir returns the git working tree holding the normalized leaderboard.
func (c *Config) RepoDir() string {
	if c.GitRepoDir != "" {
		return c.GitRepoDir
	}
	return filepath.Dir(c.FinalLeaderboardPath)
}

// CodalabEnv returns the environment entries the CodaLab tools read
// credentials from. Empty values are left out.
func (c *Config) CodalabEnv() []string {
	var env []string
	if c.CodalabUserName != "" {
		env = append(env, "CODALAB_USERNAME="+c.CodalabUserName)
	}
	if c.CodalabUserPassword != "" {
		env = append(env, "CODALAB_PASSWORD="+c.CodalabUserPassword)
	}
	return env
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	out := *c
	for _, s := range []*string{&out.CodalabUserPassword, &out.StorageSecretAccessKey, &out.GitToken} {
		if *s != "" {
			*s = "***"
		}
	}
	return out
}
