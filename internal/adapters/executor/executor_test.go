package executor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/okian/podium/internal/adapters/executor"
	"github.com/okian/podium/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestExecRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on POSIX sh")
	}

	Convey("Given an exec runner", t, func() {
		ctx := context.Background()
		r := executor.NewExecRunner()

		Convey("When a command succeeds", func() {
			res := r.Run(ctx, executor.Command{Binary: "sh", Args: []string{"-c", "echo out; echo err >&2"}})

			Convey("Then stdout and stderr should be captured", func() {
				So(res.ExitCode, ShouldEqual, 0)
				So(res.Failed(), ShouldBeFalse)
				So(res.Stdout, ShouldEqual, "out\n")
				So(res.Stderr, ShouldEqual, "err\n")
				So(res.Err(executor.Command{Binary: "sh"}), ShouldBeNil)
			})
		})

		Convey("When a command exits non-zero", func() {
			cmd := executor.Command{Binary: "sh", Args: []string{"-c", "echo denied >&2; exit 3"}}
			res := r.Run(ctx, cmd)

			Convey("Then the exit code should be reported without panicking", func() {
				So(res.ExitCode, ShouldEqual, 3)
				So(res.Failed(), ShouldBeTrue)
				err := res.Err(cmd)
				So(errors.Is(err, executor.ErrCommandFailed), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "denied")
			})
		})

		Convey("When the binary does not exist", func() {
			res := r.Run(ctx, executor.Command{Binary: "podium-no-such-binary"})

			Convey("Then the spawn error should land in stderr", func() {
				So(res.ExitCode, ShouldEqual, executor.ExitUnavailable)
				So(res.Stderr, ShouldNotBeEmpty)
			})
		})

		Convey("When arguments contain shell metacharacters", func() {
			res := r.Run(ctx, executor.Command{Binary: "echo", Args: []string{"a; rm -rf /", "$(id)"}})

			Convey("Then they should be passed verbatim", func() {
				So(res.Stdout, ShouldEqual, "a; rm -rf / $(id)\n")
			})
		})

		Convey("When env and dir are set", func() {
			dir := t.TempDir()
			res := r.Run(ctx, executor.Command{
				Binary: "sh",
				Args:   []string{"-c", "echo $PODIUM_TEST_TOKEN; pwd"},
				Env:    []string{"PODIUM_TEST_TOKEN=scoped"},
				Dir:    dir,
			})

			Convey("Then only the child should see them", func() {
				lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
				So(lines[0], ShouldEqual, "scoped")
				resolved, _ := filepath.EvalSymlinks(dir)
				got, _ := filepath.EvalSymlinks(lines[1])
				So(got, ShouldEqual, resolved)
				_, set := os.LookupEnv("PODIUM_TEST_TOKEN")
				So(set, ShouldBeFalse)
			})
		})

		Convey("When a metrics textfile is configured", func() {
			path := filepath.Join(t.TempDir(), "podium.prom")
			r := executor.NewExecRunner(executor.WithMetricsTextfile(path))
			r.Run(ctx, executor.Command{Binary: "true"})

			Convey("Then the metrics should be exported", func() {
				raw, err := os.ReadFile(path)
				So(err, ShouldBeNil)
				So(string(raw), ShouldContainSubstring, "podium_pipeline_commands_total")
			})
		})
	})
}

func TestCommandString(t *testing.T) {
	Convey("Given commands", t, func() {
		So(executor.Command{Binary: "git"}.String(), ShouldEqual, "git")
		cmd := executor.Command{Binary: "/usr/bin/gsutil", Args: []string{"-m", "cp"}, Env: []string{"SECRET=x"}}
		So(cmd.String(), ShouldEqual, "/usr/bin/gsutil -m cp")
		So(cmd.Tool(), ShouldEqual, "gsutil")

		masked := executor.Command{
			Binary:  "gsutil",
			Args:    []string{"-o", "Credentials:gs_secret_access_key=hunter2", "cp"},
			Secrets: []string{"hunter2", ""},
		}
		So(masked.String(), ShouldEqual, "gsutil -o Credentials:gs_secret_access_key=*** cp")
	})
}

func TestRecorder(t *testing.T) {
	Convey("Given a recorder", t, func() {
		rec := executor.NewRecorder(func(cmd executor.Command) executor.Result {
			if cmd.Binary == "cl" {
				return executor.Result{Stdout: "run_status: Finished\n"}
			}
			return executor.Result{ExitCode: 1, Stderr: "nope"}
		})
		ctx := context.Background()

		res := rec.Run(ctx, executor.Command{Binary: "cl", Args: []string{"info", "0x1"}})
		So(res.Stdout, ShouldContainSubstring, "Finished")
		So(rec.Run(ctx, executor.Command{Binary: "git"}).Failed(), ShouldBeTrue)
		So(rec.Lines(), ShouldResemble, []string{"cl info 0x1", "git"})

		rec.Reset()
		So(rec.Commands(), ShouldBeEmpty)
		So(executor.NewRecorder(nil).Run(ctx, executor.Command{Binary: "x"}).Failed(), ShouldBeFalse)
	})
}
