package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nimbusfs/objectsync/internal/progress"
)

func downloadCmd() *cobra.Command {
	var localPath string
	var wait bool
	cmd := &cobra.Command{
		Use:   "download <account> <object-key>",
		Short: "Submit an object for range-resumable download",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountName, key := args[0], args[1]
			return withApp(cmd.Context(), func(a *app) error {
				acct, err := a.account(accountName)
				if err != nil {
					return err
				}
				fileName := filepath.Base(key)
				dest := localPath
				if dest == "" {
					dest = fileName
				}
				size, err := a.db.GetCachedFileSize(acct.Bucket, acct.AccountID, key)
				if err != nil {
					return fmt.Errorf("look up cached size: %w", err)
				}

				taskID, err := a.downloads.Submit(acct.Bucket, acct.AccountID, key, dest, fileName, size)
				if err != nil {
					return fmt.Errorf("submit download: %w", err)
				}
				fmt.Printf("download task %s submitted\n", taskID)

				if !wait {
					return nil
				}
				cli := progress.NewCLI(a.bus)
				go cli.Run()
				defer cli.Stop()
				return waitForDownloadTerminal(a, taskID)
			})
		},
	}
	cmd.Flags().StringVar(&localPath, "out", "", "destination local path (default: object key's base name)")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the download reaches a terminal state, rendering progress")
	return cmd
}
