package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loomwire/loomwire/scheduler"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the job dispatcher standalone",
	RunE:  runScheduler,
}

func init() {
	rootCmd.AddCommand(schedulerCmd)
}

func runScheduler(_ *cobra.Command, _ []string) error {
	c, err := buildComponents(cfg)
	if err != nil {
		return err
	}
	defer c.storeStop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		logrus.Info("[SCHEDULER] Shutting down...")
		cancel()
	}()

	dispatcher := scheduler.NewDispatcher(c.db, c.store, c.metrics, cfg.Scheduler, c.executors)
	dispatcher.Run(ctx)
	return nil
}
