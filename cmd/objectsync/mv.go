package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nimbusfs/objectsync/internal/progress"
)

func mvCmd() *cobra.Command {
	var deleteOriginal, wait bool
	cmd := &cobra.Command{
		Use:   "mv <src-account> <src-key> <dst-account> <dst-key>",
		Short: "Move an object: server-side copy when source and destination share a namespace, streamed copy otherwise",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			srcAccountName, srcKey, dstAccountName, dstKey := args[0], args[1], args[2], args[3]
			return withApp(cmd.Context(), func(a *app) error {
				srcAcct, err := a.account(srcAccountName)
				if err != nil {
					return err
				}
				dstAcct, err := a.account(dstAccountName)
				if err != nil {
					return err
				}
				size, err := a.db.GetCachedFileSize(srcAcct.Bucket, srcAcct.AccountID, srcKey)
				if err != nil {
					return fmt.Errorf("look up cached size: %w", err)
				}

				taskID, err := a.moves.Submit(
					string(srcAcct.Provider), srcAcct.AccountID, srcAcct.Bucket, srcKey,
					string(dstAcct.Provider), dstAcct.AccountID, dstAcct.Bucket, dstKey,
					size, deleteOriginal,
				)
				if err != nil {
					return fmt.Errorf("submit move: %w", err)
				}
				fmt.Printf("move task %s submitted\n", taskID)

				if !wait {
					return nil
				}
				cli := progress.NewCLI(a.bus)
				go cli.Run()
				defer cli.Stop()
				return waitForMoveTerminal(a, taskID)
			})
		},
	}
	cmd.Flags().BoolVar(&deleteOriginal, "delete-original", true, "delete the source object after a successful move")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the move reaches a terminal state, rendering progress")
	return cmd
}
