package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loomwire/loomwire/api"
	"github.com/loomwire/loomwire/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST + webhook server with the embedded job dispatcher",
	RunE:  runServe,
}

var serveWithoutScheduler bool

func init() {
	serveCmd.Flags().BoolVar(&serveWithoutScheduler, "no-scheduler", false,
		"serve HTTP only; run the dispatcher separately with the scheduler command")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	c, err := buildComponents(cfg)
	if err != nil {
		return err
	}
	defer c.storeStop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.pool.Start(ctx)

	// Pool-saturation gauge refresh.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.metrics.DBPoolInUse.WithLabelValues("main").Set(float64(c.db.InUse()))
				c.metrics.DBPoolTotal.WithLabelValues("main").Set(float64(c.db.Total()))
			}
		}
	}()

	if !serveWithoutScheduler {
		dispatcher := scheduler.NewDispatcher(c.db, c.store, c.metrics, cfg.Scheduler, c.executors)
		go dispatcher.Run(ctx)
	}

	app := api.BuildApp(c.deps)

	go func() {
		if err := app.Listen(":" + cfg.App.Port); err != nil {
			logrus.WithError(err).Error("HTTP server stopped")
			cancel()
		}
	}()
	logrus.Infof("[SERVE] Listening on :%s", cfg.App.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logrus.Info("[SERVE] Shutting down...")
	cancel()
	c.routerC9.Shutdown(10 * time.Second)
	c.pool.Stop()
	_ = app.ShutdownWithTimeout(10 * time.Second)
	logrus.Info("[SERVE] Bye")
	return nil
}
