package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nimbusfs/objectsync/internal/progress"
)

func uploadCmd() *cobra.Command {
	var objectKey, contentType string
	var wait bool
	cmd := &cobra.Command{
		Use:   "upload <account> <local-file>",
		Short: "Submit a file for upload, resuming a matching in-flight session if one exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountName, localPath := args[0], args[1]
			return withApp(cmd.Context(), func(a *app) error {
				acct, err := a.account(accountName)
				if err != nil {
					return err
				}
				info, err := os.Stat(localPath)
				if err != nil {
					return fmt.Errorf("stat %s: %w", localPath, err)
				}

				key := objectKey
				if key == "" {
					key = info.Name()
				}

				taskID, err := a.uploads.Submit(localPath, info.Size(), info.ModTime().Unix(), key, acct.Bucket, acct.AccountID, contentType)
				if err != nil {
					return fmt.Errorf("submit upload: %w", err)
				}
				fmt.Printf("upload task %s submitted\n", taskID)

				if !wait {
					return nil
				}
				cli := progress.NewCLI(a.bus)
				go cli.Run()
				defer cli.Stop()
				return waitForUploadTerminal(a, taskID)
			})
		},
	}
	cmd.Flags().StringVar(&objectKey, "key", "", "destination object key (default: local file name)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content-Type header for the uploaded object")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the upload reaches a terminal state, rendering progress")
	return cmd
}
