package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nimbusfs/objectsync/internal/progress"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <account>",
		Short: "Run a full sync: list the remote bucket, replace the cached file set, rebuild the directory tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				client, err := a.client(args[0])
				if err != nil {
					return err
				}

				cli := progress.NewCLI(a.bus)
				go cli.Run()
				defer cli.Stop()

				count, size, err := a.syncer.Full(cmd.Context(), client)
				if err != nil {
					return fmt.Errorf("full sync: %w", err)
				}
				fmt.Printf("synced %d objects (%d bytes) for account %q\n", count, size, args[0])
				return nil
			})
		},
	}
	return cmd
}
