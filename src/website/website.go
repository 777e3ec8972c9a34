package website

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opencompanion/companion/src/characters"
	"github.com/opencompanion/companion/src/config"
	"github.com/opencompanion/companion/src/db"
	"github.com/opencompanion/companion/src/jobs"
	"github.com/opencompanion/companion/src/logging"
	"github.com/opencompanion/companion/src/oops"
	"github.com/opencompanion/companion/src/s3local"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var WebsiteCommand = &cobra.Command{
	Use:   "companion",
	Short: "Run the companion character server",
	Run: func(cmd *cobra.Command, args []string) {
		defer logging.LogPanics(nil)
		logging.Info().Str("env", string(config.Config.Env)).Msg("Starting companion")

		conn := db.NewConnPool()
		defer conn.Close()

		backgroundJobs := jobs.Jobs{
			s3local.StartServer(),
			characters.BackgroundCardBackfill(conn),
		}

		server := &http.Server{
			Addr:              config.Config.Addr,
			Handler:           NewWebsiteRoutes(conn),
			ReadHeaderTimeout: 10 * time.Second,
		}

		if err := serve(server, backgroundJobs); err != nil {
			logging.Error().Err(err).Msg("Server shut down unexpectedly")
			os.Exit(1)
		}
	},
}

const shutdownTimeout = 10 * time.Second

/*
Serves until SIGINT or SIGTERM arrives (or the listener fails), then shuts down
the HTTP server and the background jobs side by side. A second signal during
shutdown kills the process.
*/
func serve(server *http.Server, backgroundJobs jobs.Jobs) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var serveErr error
	go func() {
		logging.Info().Str("addr", server.Addr).Msg("Serving the API")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr = oops.New(err, "failed to serve")
			stop()
		}
	}()

	<-ctx.Done()
	stop()
	logging.Info().Msg("Shutting down")

	force := make(chan os.Signal, 1)
	signal.Notify(force, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-force
		logging.Warn().Strs("Unfinished background jobs", backgroundJobs.ListUnfinished()).Msg("Forcibly killed the server")
		os.Exit(1)
	}()

	var g errgroup.Group
	g.Go(func() error {
		unfinished := backgroundJobs.CancelAndWait(shutdownTimeout)
		if len(unfinished) == 0 {
			logging.Info().Interface("jobs", backgroundJobs.Statuses()).Msg("Background jobs closed gracefully")
		} else {
			logging.Warn().Strs("Unfinished", unfinished).Interface("jobs", backgroundJobs.Statuses()).Msg("Background jobs did not finish by the deadline")
		}
		return nil
	})
	g.Go(func() error {
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(timeoutCtx); err != nil {
			return oops.New(err, "server did not shut down gracefully")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return serveErr
}
