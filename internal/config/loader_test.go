package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/podium/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		dir := t.TempDir()
		yml := writeFile(dir, "competition.yml", "host: https://worksheets.codalab.org\n")

		convey.Convey("When the secrets file does not exist", func() {
			cfg, err := config.Load(ctx, filepath.Join(dir, "secrets.json"))

			convey.Convey("Then it should report a missing secrets file", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrSecretsNotFound), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading a complete secrets file", func() {
			path := writeFile(dir, "secrets.json", `{
  "competition_yml_path": "`+yml+`",
  "master_leaderboard_json_path": "master.json",
  "final_leaderboard_json_path": "out.json",
  "codalab_user_name": "organizer",
  "codalab_user_password": "pw",
  "bucket_path": "gs://legal-nlp/leaderboard",
  "push_to_gcp_bucket": true,
  "push_to_git": false,
  "poll_interval": "30s",
  "poll_max_iterations": 10
}`)
			cfg, err := config.Load(ctx, path)

			convey.Convey("Then it should load every key", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.CompetitionYAMLPath, convey.ShouldEqual, yml)
				convey.So(cfg.CodalabUserName, convey.ShouldEqual, "organizer")
				convey.So(cfg.BucketPath, convey.ShouldEqual, "gs://legal-nlp/leaderboard")
				convey.So(cfg.PushToBucket, convey.ShouldBeTrue)
				convey.So(cfg.PushToGit, convey.ShouldBeFalse)
				convey.So(cfg.PollInterval, convey.ShouldEqual, 30*time.Second)
				convey.So(cfg.PollMaxIterations, convey.ShouldEqual, 10)
			})

			convey.Convey("Then leaderboard paths should be absolute", func() {
				convey.So(filepath.IsAbs(cfg.RawLeaderboardPath), convey.ShouldBeTrue)
				convey.So(filepath.IsAbs(cfg.FinalLeaderboardPath), convey.ShouldBeTrue)
				convey.So(filepath.Base(cfg.FinalLeaderboardPath), convey.ShouldEqual, "out.json")
			})

			convey.Convey("Then defaults should fill unspecified keys", func() {
				convey.So(cfg.GsutilBin, convey.ShouldEqual, "gsutil")
				convey.So(cfg.LogLevel, convey.ShouldEqual, "info")
			})
		})

		convey.Convey("When the job definition is missing", func() {
			path := writeFile(dir, "secrets.json", `{
  "competition_yml_path": "`+filepath.Join(dir, "nope.yml")+`",
  "master_leaderboard_json_path": "master.json",
  "final_leaderboard_json_path": "out.json"
}`)
			cfg, err := config.Load(ctx, path)

			convey.Convey("Then it should report the missing job definition", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrCompetitionConfigNotFound), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When storage publishing uses a bucket without the scheme", func() {
			path := writeFile(dir, "secrets.json", `{
  "competition_yml_path": "`+yml+`",
  "master_leaderboard_json_path": "master.json",
  "final_leaderboard_json_path": "out.json",
  "bucket_path": "legal-nlp/leaderboard",
  "push_to_gcp_bucket": true
}`)
			_, err := config.Load(ctx, path)

			convey.Convey("Then it should reject the bucket", func() {
				convey.So(errors.Is(err, config.ErrInvalidBucket), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When storage publishing is off the bucket is not checked", func() {
			path := writeFile(dir, "secrets.json", `{
  "competition_yml_path": "`+yml+`",
  "master_leaderboard_json_path": "master.json",
  "final_leaderboard_json_path": "out.json",
  "bucket_path": "legal-nlp/leaderboard"
}`)
			_, err := config.Load(ctx, path)
			convey.So(err, convey.ShouldBeNil)
		})

		convey.Convey("When a required key is missing", func() {
			path := writeFile(dir, "secrets.json", `{"competition_yml_path": "`+yml+`"}`)
			_, err := config.Load(ctx, path)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "master_leaderboard_json_path")
			})
		})

		convey.Convey("When poll_interval is a bare number", func() {
			path := writeFile(dir, "secrets.json", `{
  "competition_yml_path": "`+yml+`",
  "master_leaderboard_json_path": "master.json",
  "final_leaderboard_json_path": "out.json",
  "poll_interval": 300
}`)
			cfg, err := config.Load(ctx, path)

			convey.Convey("Then it should be rejected instead of read as nanoseconds", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "poll_interval")
			})
		})

		convey.Convey("When poll_interval is zero", func() {
			path := writeFile(dir, "secrets.json", `{
  "competition_yml_path": "`+yml+`",
  "master_leaderboard_json_path": "master.json",
  "final_leaderboard_json_path": "out.json",
  "poll_interval": "0s"
}`)
			cfg, err := config.Load(ctx, path)
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.PollInterval, convey.ShouldEqual, time.Duration(0))
		})

		convey.Convey("When the secrets file is YAML", func() {
			path := writeFile(dir, "secrets.yml", "competition_yml_path: "+yml+`
master_leaderboard_json_path: master.json
final_leaderboard_json_path: out.json
poll_interval: 2m
`)
			cfg, err := config.Load(ctx, path)

			convey.Convey("Then it should be read with the YAML parser", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.PollInterval, convey.ShouldEqual, 2*time.Minute)
			})
		})

		convey.Convey("When the secrets file is malformed", func() {
			path := writeFile(dir, "secrets.json", `{"competition_yml_path": [`)
			_, err := config.Load(ctx, path)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When environment variables override the file", func() {
			path := writeFile(dir, "secrets.json", `{
  "competition_yml_path": "`+yml+`",
  "master_leaderboard_json_path": "master.json",
  "final_leaderboard_json_path": "out.json",
  "push_to_git": false
}`)
			_ = os.Setenv("PODIUM_PUSH_TO_GIT", "true")
			_ = os.Setenv("PODIUM_POLL_MAX_ITERATIONS", "3")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, path)

			convey.Convey("Then env values should win", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.PushToGit, convey.ShouldBeTrue)
				convey.So(cfg.PollMaxIterations, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When credentials come from an env file", func() {
			writeFile(dir, "creds.env", "CODALAB_USERNAME=from-env-file\nCODALAB_PASSWORD=pw\nGIT_TOKEN=tok\n")
			path := writeFile(dir, "secrets.json", `{
  "competition_yml_path": "`+yml+`",
  "master_leaderboard_json_path": "master.json",
  "final_leaderboard_json_path": "out.json",
  "codalab_user_name": "from-secrets",
  "env_file": "creds.env"
}`)
			cfg, err := config.Load(ctx, path)

			convey.Convey("Then empty credential fields should be filled", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.CodalabUserName, convey.ShouldEqual, "from-secrets")
				convey.So(cfg.CodalabUserPassword, convey.ShouldEqual, "pw")
				convey.So(cfg.GitToken, convey.ShouldEqual, "tok")
			})

			convey.Convey("Then the process environment should be untouched", func() {
				_, set := os.LookupEnv("CODALAB_PASSWORD")
				convey.So(set, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When the env file is missing", func() {
			path := writeFile(dir, "secrets.json", `{
  "competition_yml_path": "`+yml+`",
  "master_leaderboard_json_path": "master.json",
  "final_leaderboard_json_path": "out.json",
  "env_file": "missing.env"
}`)
			_, err := config.Load(ctx, path)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	for _, envVar := range []string{
		"PODIUM_PUSH_TO_GIT",
		"PODIUM_POLL_MAX_ITERATIONS",
	} {
		_ = os.Unsetenv(envVar)
	}
}

func writeFile(dir, name, content string) string {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		panic(err)
	}
	return path
}
