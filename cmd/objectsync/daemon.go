package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimbusfs/objectsync/internal/progress"
)

// sweepInterval is how often terminal sessions older than the 7-day
// retention window are purged (spec.md §4.2: "sweeps that remove terminal
// sessions older than 7 days also cascade to child part rows").
const sweepInterval = 1 * time.Hour

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run in the foreground, rendering live progress and periodically sweeping old sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, func(a *app) error {
				cli := progress.NewCLI(a.bus)
				go cli.Run()
				defer cli.Stop()

				ticker := time.NewTicker(sweepInterval)
				defer ticker.Stop()

				a.log.Infof("daemon started, sweeping every %s", sweepInterval)
				sweep(a)
				for {
					select {
					case <-ctx.Done():
						a.log.Infof("daemon shutting down")
						return nil
					case <-ticker.C:
						sweep(a)
					}
				}
			})
		},
	}
	return cmd
}

func sweep(a *app) {
	now := time.Now().Unix()

	if n, err := a.db.SweepUploadSessions(now); err != nil {
		a.log.Errorf("sweep upload sessions: %v", err)
	} else if n > 0 {
		a.log.Infof("swept %d terminal upload sessions", n)
	}
	if n, err := a.db.SweepDownloadSessions(now); err != nil {
		a.log.Errorf("sweep download sessions: %v", err)
	} else if n > 0 {
		a.log.Infof("swept %d terminal download sessions", n)
	}
	if n, err := a.db.SweepMoveSessions(now); err != nil {
		a.log.Errorf("sweep move sessions: %v", err)
	} else if n > 0 {
		a.log.Infof("swept %d terminal move sessions", n)
	}
}
