package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-intel/internal/api"
	"github.com/sells-group/pipeline-intel/internal/monitoring"
	"github.com/sells-group/pipeline-intel/internal/schedule"
)

var (
	servePort     int
	serveSchedule bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if serveSchedule || cfg.Schedule.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			deps := schedule.Deps{
				Sweeper:   env.Tracker,
				Triager:   env.Engine,
				Persister: env.Tracker,
				Checker:   checker,
			}
			if env.Drafts != nil {
				deps.Cache = env.Drafts
			}
			sch, err := schedule.New(ctx, *cfg, deps)
			if err != nil {
				return err
			}
			sch.Start()
			defer sch.Shutdown() //nolint:errcheck
		}

		srv := api.New(env.Engine, env.Tracker, env.Benchmarks,
			api.WithPinger(env.Store),
			api.WithGatherer(env.Registry),
			api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveSchedule, "schedule", false, "run the sweep, triage and monitoring jobs in-process")
	rootCmd.AddCommand(serveCmd)
}
