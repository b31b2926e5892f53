package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/podium/internal/adapters/http/api"
	"github.com/okian/podium/internal/adapters/http/site"
	"github.com/okian/podium/internal/adapters/http/swagger"
	"github.com/okian/podium/internal/adapters/repository"
	"github.com/okian/podium/internal/domain/leaderboard"
	"github.com/okian/podium/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func newServeCommand(c *cli) *cobra.Command {
	var (
		addr     string
		maxLimit int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the published leaderboard over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = c.cfg.Addr
			}
			return serve(cmd.Context(), c, addr, maxLimit)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: addr from config)")
	cmd.Flags().IntVar(&maxLimit, "max-limit", 0, "largest limit accepted by /leaderboard (default 1000)")
	return cmd
}

func serve(ctx context.Context, c *cli, addr string, maxLimit int) error {
	log := logger.Get().Named("serve")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store := repository.NewFileStore(c.cfg.FinalLeaderboardPath, repository.WithHost(c.cfg.SiteHost))
	if err := store.Reload(ctx); err != nil && !errors.Is(err, leaderboard.ErrNotFound) {
		return err
	}

	watchErr := make(chan error, 1)
	go func() { watchErr <- store.Watch(ctx) }()

	srv := &http.Server{
		Addr:              addr,
		Handler:           newMux(ctx, store, maxLimit),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-watchErr:
		if err != nil {
			runErr = err
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return runErr
}

// newMux wires the API, its docs and the leaderboard page.
func newMux(ctx context.Context, store *repository.FileStore, maxLimit int) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(store, store, api.WithMaxLimit(maxLimit)).Register(ctx, mux)
	site.Register(ctx, mux)
	return mux
}
