package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/podium/internal/adapters/codalab"
	"github.com/okian/podium/internal/adapters/executor"
	service "github.com/okian/podium/internal/app"
	"github.com/okian/podium/internal/config"
	"github.com/okian/podium/internal/domain/leaderboard"
	"github.com/okian/podium/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

const pendingBoard = `{"leaderboard": [
  {"scores": {"Weighted-F1": 0.8}, "submission": {"description": "{\"model_name\": \"none\"}"},
   "bundle": {"id": "0xa", "dependencies": [{"child_path": "predictions.json", "parent_uuid": "0xpa"}]}},
  {"scores": {"Weighted-F1": "N/A"}, "submission": {"description": "{\"model_name\": \"legal-bert\"}"},
   "bundle": {"id": "0xb", "dependencies": [{"child_path": "predictions.json", "parent_uuid": "0xpb"}]}},
  {"scores": {"Weighted-F1": 0.6}, "submission": {"description": "{\"model_name\": \"crf\"}"},
   "bundle": {"id": "0xc", "dependencies": [{"child_path": "model", "parent_uuid": "0xm"}]}}
]}`

const finishedBoard = `{"leaderboard": [
  {"scores": {"Weighted-F1": 0.8}, "submission": {"description": "{\"model_name\": \"none\"}"},
   "bundle": {"id": "0xa", "dependencies": [{"child_path": "predictions.json", "parent_uuid": "0xpa"}]}},
  {"scores": {"Weighted-F1": 0.9}, "submission": {"description": "{\"model_name\": \"legal-bert\"}"},
   "bundle": {"id": "0xb", "dependencies": [{"child_path": "predictions.json", "parent_uuid": "0xpb"}]}},
  {"scores": {"Weighted-F1": 0.6}, "submission": {"description": "{\"model_name\": \"crf\"}"},
   "bundle": {"id": "0xc", "dependencies": [{"child_path": "model", "parent_uuid": "0xm"}]}}
]}`

// fixture scripts the external tools around a temporary competition dir.
type fixture struct {
	cfg *config.Config
	rec *executor.Recorder

	mu sync.Mutex
	// board is what the runner writes in full mode; finalBoard in -l mode.
	board      string
	finalBoard string
	// status returns the run status for a bundle and the 1-based call count.
	status    func(bundle string, call int) string
	infoCalls map[string]int
	runnerErr string
	failTool  string
	sleeps    []time.Duration
}

func newFixture() *fixture {
	dir, err := os.MkdirTemp("", "podium-app-*")
	So(err, ShouldBeNil)
	Reset(func() { _ = os.RemoveAll(dir) })

	yml := filepath.Join(dir, "competition.yml")
	So(os.WriteFile(yml, []byte("max_submissions_per_period: 1\n"), 0o600), ShouldBeNil)

	cfg := config.New()
	cfg.CompetitionYAMLPath = yml
	cfg.RawLeaderboardPath = filepath.Join(dir, "master.json")
	cfg.FinalLeaderboardPath = filepath.Join(dir, "leaderboard.json")
	cfg.PollMaxIterations = 3
	cfg.PollInterval = time.Minute

	fx := &fixture{
		cfg:        cfg,
		board:      pendingBoard,
		finalBoard: finishedBoard,
		status:     func(string, int) string { return "Finished" },
		infoCalls:  map[string]int{},
	}
	fx.rec = executor.NewRecorder(fx.respond)
	return fx
}

func (fx *fixture) respond(cmd executor.Command) executor.Result {
	fx.mu.Lock()
	defer fx.mu.Unlock()

	if cmd.Tool() == fx.failTool {
		return executor.Result{ExitCode: 1, Stderr: fx.failTool + ": boom"}
	}
	switch cmd.Tool() {
	case "cl-competitiond":
		if fx.runnerErr != "" {
			return executor.Result{Stderr: fx.runnerErr}
		}
		board := fx.board
		if cmd.Args[0] == "-l" {
			board = fx.finalBoard
		}
		out := cmd.Args[len(cmd.Args)-1]
		if err := os.WriteFile(out, []byte(board), 0o600); err != nil {
			return executor.Result{ExitCode: 1, Stderr: err.Error()}
		}
	case "cl":
		if cmd.Args[0] == "info" {
			bundle := cmd.Args[1]
			fx.infoCalls[bundle]++
			return executor.Result{Stdout: "uuid: " + bundle + "\nrun_status: " + fx.status(bundle, fx.infoCalls[bundle]) + "\n"}
		}
	}
	return executor.Result{}
}

func (fx *fixture) sleep(_ context.Context, d time.Duration) error {
	fx.sleeps = append(fx.sleeps, d)
	return nil
}

func (fx *fixture) service() *service.Service {
	return service.New(fx.cfg,
		service.WithRunner(fx.rec),
		service.WithSleeper(fx.sleep),
		service.WithClock(func() time.Time { return time.Date(2022, 4, 3, 9, 5, 7, 0, time.UTC) }),
	)
}

func (fx *fixture) writeRaw(board string) {
	So(os.WriteFile(fx.cfg.RawLeaderboardPath, []byte(board), 0o600), ShouldBeNil)
}

func TestService_Dispatch(t *testing.T) {
	Convey("Given a pipeline service", t, func() {
		ctx := context.Background()
		fx := newFixture()
		svc := fx.service()

		Convey("When the runner succeeds", func() {
			stats, err := svc.Dispatch(ctx, codalab.Full)

			Convey("Then the normalized leaderboard should be written", func() {
				So(err, ShouldBeNil)
				So(stats, ShouldResemble, leaderboard.Stats{Total: 3, Kept: 2, Dropped: 1, Anonymized: 1})
				So(fx.rec.Lines(), ShouldResemble, []string{
					"cl-competitiond " + fx.cfg.CompetitionYAMLPath + " " + fx.cfg.RawLeaderboardPath,
				})

				out, err := leaderboard.Load(fx.cfg.FinalLeaderboardPath)
				So(err, ShouldBeNil)
				So(out.Entries[0].BundleID(), ShouldEqual, "0xa")
				So(out.Entries[0].Submission()["model_name"], ShouldEqual, leaderboard.AnonymousLabel)
			})
		})

		Convey("When the runner writes to stderr", func() {
			fx.runnerErr = "Traceback (most recent call last)"
			_, err := svc.Dispatch(ctx, codalab.Full)

			Convey("Then dispatch should fail and nothing be normalized", func() {
				So(errors.Is(err, service.ErrDispatchFailed), ShouldBeTrue)
				So(errors.Is(err, codalab.ErrEvaluateFailed), ShouldBeTrue)
				_, statErr := os.Stat(fx.cfg.FinalLeaderboardPath)
				So(os.IsNotExist(statErr), ShouldBeTrue)
			})
		})

		Convey("When rebuilding only the leaderboard", func() {
			_, err := svc.Dispatch(ctx, codalab.LeaderboardOnly)

			Convey("Then the runner should get -l", func() {
				So(err, ShouldBeNil)
				So(fx.rec.Commands()[0].Args[0], ShouldEqual, "-l")
			})
		})
	})
}

func TestService_Cleanup(t *testing.T) {
	Convey("Given a pipeline service", t, func() {
		ctx := context.Background()
		fx := newFixture()
		svc := fx.service()

		Convey("When the raw leaderboard does not exist", func() {
			_, err := svc.Cleanup(ctx)

			Convey("Then ErrLeaderboardMissing should be returned", func() {
				So(errors.Is(err, service.ErrLeaderboardMissing), ShouldBeTrue)
				So(fx.rec.Commands(), ShouldBeEmpty)
			})
		})

		Convey("When the raw leaderboard is empty", func() {
			fx.writeRaw(`{"leaderboard": []}`)
			_, err := svc.Cleanup(ctx)

			Convey("Then ErrNoJobs should be returned", func() {
				So(errors.Is(err, service.ErrNoJobs), ShouldBeTrue)
			})
		})

		Convey("When every job has finished", func() {
			fx.writeRaw(pendingBoard)
			report, err := svc.Cleanup(ctx)

			Convey("Then each prediction bundle should be removed once", func() {
				So(err, ShouldBeNil)
				So(report, ShouldResemble, service.CleanupReport{Pending: 0, Released: 2, Skipped: 1})
				So(fx.rec.Lines(), ShouldResemble, []string{
					"cl info 0xa",
					"cl rm -d 0xpa --force",
					"cl info 0xb",
					"cl rm -d 0xpb --force",
				})
			})

			Convey("Then a second pass should not remove them again", func() {
				fx.rec.Reset()
				report, err := svc.Cleanup(ctx)
				So(err, ShouldBeNil)
				So(report.Released, ShouldEqual, 0)
				So(fx.rec.Commands(), ShouldBeEmpty)
			})
		})

		Convey("When a job is still running", func() {
			fx.writeRaw(pendingBoard)
			fx.status = func(bundle string, _ int) string {
				if bundle == "0xb" {
					return "Running"
				}
				return "Finished"
			}
			report, err := svc.Cleanup(ctx)

			Convey("Then it should be pending and its bundle kept", func() {
				So(err, ShouldBeNil)
				So(report.Pending, ShouldEqual, 1)
				So(report.Released, ShouldEqual, 1)
				So(fx.rec.Lines(), ShouldNotContain, "cl rm -d 0xpb --force")
			})
		})

		Convey("When an entry carries option-like ids", func() {
			fx.writeRaw(`{"leaderboard": [
  {"scores": {"Weighted-F1": 0.8}, "submission": {"description": "{}"},
   "bundle": {"id": "--all", "dependencies": [{"child_path": "predictions.json", "parent_uuid": "0xpa"}]}},
  {"scores": {"Weighted-F1": 0.7}, "submission": {"description": "{}"},
   "bundle": {"id": "0xb", "dependencies": [{"child_path": "predictions.json", "parent_uuid": "-rf"}]}}
]}`)
			report, err := svc.Cleanup(ctx)

			Convey("Then they should never reach cl as flags", func() {
				So(err, ShouldBeNil)
				So(report, ShouldResemble, service.CleanupReport{Pending: 0, Released: 0, Skipped: 1})
				So(fx.rec.Lines(), ShouldResemble, []string{"cl info 0xb"})
			})
		})

		Convey("When status and removal commands fail", func() {
			fx.writeRaw(pendingBoard)
			fx.failTool = "cl"
			report, err := svc.Cleanup(ctx)

			Convey("Then the failures should count as pending and not abort", func() {
				So(err, ShouldBeNil)
				So(report.Pending, ShouldEqual, 2)
				So(report.Released, ShouldEqual, 0)
			})
		})
	})
}

func TestService_WaitForCompletion(t *testing.T) {
	Convey("Given a pipeline service", t, func() {
		ctx := context.Background()
		fx := newFixture()
		fx.writeRaw(pendingBoard)

		Convey("When all jobs finish on the first iteration", func() {
			report, err := fx.service().WaitForCompletion(ctx)

			Convey("Then the loop should stop without sleeping", func() {
				So(err, ShouldBeNil)
				So(report.Done, ShouldBeTrue)
				So(report.Iterations, ShouldEqual, 1)
				So(fx.sleeps, ShouldBeEmpty)
			})
		})

		Convey("When a job never finishes", func() {
			fx.status = func(bundle string, _ int) string {
				if bundle == "0xb" {
					return "Running"
				}
				return "Finished"
			}
			report, err := fx.service().WaitForCompletion(ctx)

			Convey("Then the budget should run out without error", func() {
				So(err, ShouldBeNil)
				So(report.Done, ShouldBeFalse)
				So(report.Iterations, ShouldEqual, 3)
				So(report.Pending, ShouldEqual, 1)
				So(fx.sleeps, ShouldResemble, []time.Duration{time.Minute, time.Minute})
				So(fx.infoCalls["0xb"], ShouldEqual, 3)
				So(fx.infoCalls["0xa"], ShouldEqual, 1)
			})
		})

		Convey("When the raw leaderboard disappears", func() {
			So(os.Remove(fx.cfg.RawLeaderboardPath), ShouldBeNil)
			_, err := fx.service().WaitForCompletion(ctx)

			Convey("Then the wait should fail", func() {
				So(errors.Is(err, service.ErrLeaderboardMissing), ShouldBeTrue)
			})
		})

		Convey("When the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := fx.service().WaitForCompletion(cctx)

			Convey("Then the wait should stop", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
				So(fx.rec.Commands(), ShouldBeEmpty)
			})
		})
	})
}

func TestService_Finalize(t *testing.T) {
	Convey("Given a pipeline service publishing to git", t, func() {
		ctx := context.Background()
		fx := newFixture()
		fx.cfg.PushToGit = true

		Convey("When publishing succeeds", func() {
			report, err := fx.service().Finalize(ctx)

			Convey("Then the leaderboard should be rebuilt and pushed", func() {
				So(err, ShouldBeNil)
				So(report.PublishErr, ShouldBeNil)
				So(report.Stats.Kept, ShouldEqual, 3)
				So(fx.rec.Lines()[len(fx.rec.Lines())-1], ShouldEqual, "git push")
			})
		})

		Convey("When git fails without strict publishing", func() {
			fx.failTool = "git"
			report, err := fx.service().Finalize(ctx)

			Convey("Then the failure should be reported but not returned", func() {
				So(err, ShouldBeNil)
				So(errors.Is(report.PublishErr, service.ErrPublishFailed), ShouldBeTrue)
			})
		})

		Convey("When git fails with strict publishing", func() {
			fx.failTool = "git"
			fx.cfg.StrictPublish = true
			_, err := fx.service().Finalize(ctx)

			Convey("Then the failure should be returned", func() {
				So(errors.Is(err, service.ErrPublishFailed), ShouldBeTrue)
			})
		})
	})
}
