package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// MinPollInterval is the shortest non-zero poll_interval accepted. Zero
// polls back to back.
const MinPollInterval = time.Second

// EnvPrefix prefixes environment overrides, e.g. PODIUM_PUSH_TO_GIT.
const EnvPrefix = "PODIUM_"

// Load builds a Config for the secrets file at path.
// Order of precedence (low -> high):
//  1. defaults (New)
//  2. the secrets file (JSON, or YAML for .yml/.yaml paths)
//  3. env (prefix PODIUM_)
//  4. credentials from env_file fill fields that are still empty
//
// A missing secrets file or job definition is reported with
// ErrSecretsNotFound / ErrCompetitionConfigNotFound; callers treat both as
// fatal.
func Load(_ context.Context, path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSecretsNotFound, path)
		}
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *New()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if cfg.EnvFile != "" {
		envFile := cfg.EnvFile
		if !filepath.IsAbs(envFile) {
			envFile = filepath.Join(filepath.Dir(path), envFile)
		}
		if err := cfg.applyEnvFile(envFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return yaml.Parser()
	}
	return json.Parser()
}

// applyEnvFile reads dotenv credentials into the empty credential fields.
func (c *Config) applyEnvFile(path string) error {
	vars, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("%w: env_file %s: %w", ErrLoadConfig, path, err)
	}
	fill := map[string]*string{
		"CODALAB_USERNAME":          &c.CodalabUserName,
		"CODALAB_PASSWORD":          &c.CodalabUserPassword,
		"STORAGE_ACCESS_KEY_ID":     &c.StorageAccessKeyID,
		"STORAGE_SECRET_ACCESS_KEY": &c.StorageSecretAccessKey,
		"GIT_USER_NAME":             &c.GitUserName,
		"GIT_TOKEN":                 &c.GitToken,
	}
	for key, dst := range fill {
		if v, ok := vars[key]; ok && *dst == "" {
			*dst = v
		}
	}
	return nil
}

func (c *Config) resolvePaths() error {
	for _, p := range []*string{&c.RawLeaderboardPath, &c.FinalLeaderboardPath} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		*p = abs
	}
	return nil
}

// Validate checks required fields and that the job definition exists.
func (c *Config) Validate() error {
	switch {
	case c.CompetitionYAMLPath == "":
		return fmt.Errorf("%w: competition_yml_path must not be empty", ErrInvalidConfig)
	case c.RawLeaderboardPath == "":
		return fmt.Errorf("%w: master_leaderboard_json_path must not be empty", ErrInvalidConfig)
	case c.FinalLeaderboardPath == "":
		return fmt.Errorf("%w: final_leaderboard_json_path must not be empty", ErrInvalidConfig)
	case c.RawLeaderboardPath == c.FinalLeaderboardPath:
		return fmt.Errorf("%w: raw and final leaderboard paths must differ", ErrInvalidConfig)
	case c.PollMaxIterations < 1:
		return fmt.Errorf("%w: poll_max_iterations must be positive", ErrInvalidConfig)
	case c.PollInterval < 0:
		return fmt.Errorf("%w: poll_interval must not be negative", ErrInvalidConfig)
	case c.PollInterval > 0 && c.PollInterval < MinPollInterval:
		return fmt.Errorf("%w: poll_interval %s is below %s; use a duration string such as \"5m\"",
			ErrInvalidConfig, c.PollInterval, MinPollInterval)
	}
	if _, err := os.Stat(c.CompetitionYAMLPath); err != nil {
		return fmt.Errorf("%w: %s", ErrCompetitionConfigNotFound, c.CompetitionYAMLPath)
	}
	if c.PushToBucket {
		if err := CheckBucket(c.BucketPath); err != nil {
			return err
		}
	}
	return nil
}

// CheckBucket reports ErrInvalidBucket unless uri carries BucketScheme.
func CheckBucket(uri string) error {
	if !strings.HasPrefix(uri, BucketScheme) || len(uri) == len(BucketScheme) {
		return fmt.Errorf("%w: %q must start with %s", ErrInvalidBucket, uri, BucketScheme)
	}
	return nil
}
