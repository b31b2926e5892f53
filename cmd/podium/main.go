// Command podium runs the competition leaderboard pipeline and serves the
// published leaderboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okian/podium/internal/adapters/executor"
	service "github.com/okian/podium/internal/app"
	"github.com/okian/podium/internal/config"
	"github.com/okian/podium/pkg/logger"
)

// defaultConfigPath is the secrets file read when neither --config nor
// PODIUM_CONFIG is given.
const defaultConfigPath = "secrets.json"

// newRunner builds the command runner for cfg. Tests replace it.
var newRunner = func(cfg *config.Config) executor.Runner { //nolint:gochecknoglobals // test seam
	return executor.NewExecRunner(executor.WithMetricsTextfile(cfg.MetricsTextfile))
}

func main() {
	if err := logger.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if !errors.Is(err, context.Canceled) {
			os.Exit(1)
		}
	}
}

// cli carries state shared by every subcommand.
type cli struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "podium",
		Short:         "Competition leaderboard pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd.Context())
		},
	}

	defaultPath := os.Getenv("PODIUM_CONFIG")
	if defaultPath == "" {
		defaultPath = defaultConfigPath
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", defaultPath, "secrets file (JSON)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override log_level: debug, info, warn, error")

	root.AddCommand(
		newRunCommand(c),
		newUpdateCommand(c),
		newNormalizeCommand(c),
		newPublishCommand(c),
		newCleanupCommand(c),
		newServeCommand(c),
		newCheckCommand(),
	)
	return root
}

// load reads the configuration and applies its log level.
func (c *cli) load(ctx context.Context) error {
	cfg, err := config.Load(ctx, c.configPath)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if c.logLevel != "" {
		level = c.logLevel
	}
	if err := logger.SetLevelString(level); err != nil {
		logger.Get().Warn(ctx, "invalid log level; falling back to info", logger.String("log_level", level), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	logger.Get().Debug(ctx, "configuration loaded", logger.Any("config", cfg.Redacted()))
	c.cfg = cfg
	return nil
}

func (c *cli) service() *service.Service {
	return service.New(c.cfg, service.WithRunner(newRunner(c.cfg)))
}
