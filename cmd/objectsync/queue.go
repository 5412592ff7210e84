package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// queueCmd groups the admission-control operations spec.md §4.8 exposes:
// per-task cancel/pause/resume, and per-queue clear-finished/status.
func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and control upload/download/move queues",
	}
	cmd.AddCommand(
		queueStatusCmd(),
		queueCancelCmd(),
		queuePauseCmd(),
		queueResumeCmd(),
		queueClearCmd(),
	)
	return cmd
}

func queueStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <account>",
		Short: "Print active/pending counts for an account's queues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				acct, err := a.account(args[0])
				if err != nil {
					return err
				}
				uploads, err := a.db.CountActiveUploads(acct.Bucket, acct.AccountID)
				if err != nil {
					return err
				}
				downloads, err := a.db.CountActiveDownloads(acct.Bucket, acct.AccountID)
				if err != nil {
					return err
				}
				moves, err := a.db.CountActiveMoves(acct.Bucket, acct.AccountID)
				if err != nil {
					return err
				}
				fmt.Printf("uploads active=%d  downloads active=%d  moves active=%d\n", uploads, downloads, moves)
				return nil
			})
		},
	}
}

// taskKind identifies which scheduler a task id belongs to, by its
// taskid.New prefix (spec.md's session identity tables are otherwise
// disjoint per transfer kind).
func taskKind(taskID string) string {
	for i := 0; i < len(taskID); i++ {
		if taskID[i] == '-' {
			return taskID[:i]
		}
	}
	return taskID
}

func queueCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a task by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				switch taskKind(args[0]) {
				case "upload":
					a.uploads.Cancel(args[0])
				case "download":
					a.downloads.Cancel(args[0])
				case "move":
					a.moves.Cancel(args[0])
				default:
					return fmt.Errorf("unrecognized task id %q", args[0])
				}
				fmt.Println("cancel requested")
				return nil
			})
		},
	}
}

func queuePauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <task-id>",
		Short: "Pause a download or move task (uploads do not support pause)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				switch taskKind(args[0]) {
				case "download":
					a.downloads.Pause(args[0])
				case "move":
					a.moves.Pause(args[0])
				case "upload":
					return a.uploads.Pause(args[0])
				default:
					return fmt.Errorf("unrecognized task id %q", args[0])
				}
				fmt.Println("pause requested")
				return nil
			})
		},
	}
}

func queueResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <task-id>",
		Short: "Resume a paused download or move task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				switch taskKind(args[0]) {
				case "download":
					return a.downloads.Resume(args[0])
				case "move":
					return a.moves.Resume(args[0])
				case "upload":
					return a.uploads.Resume(args[0])
				default:
					return fmt.Errorf("unrecognized task id %q", args[0])
				}
			})
		},
	}
}

func queueClearCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "clear <account>",
		Short: "Delete terminal (completed/failed/cancelled) sessions for an account's queues immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				acct, err := a.account(args[0])
				if err != nil {
					return err
				}
				switch kind {
				case "upload":
					return a.uploads.ClearFinished(acct.Bucket, acct.AccountID)
				case "download":
					return a.downloads.ClearFinished(acct.Bucket, acct.AccountID)
				case "move":
					return a.moves.ClearFinished(acct.Bucket, acct.AccountID)
				default:
					if err := a.uploads.ClearFinished(acct.Bucket, acct.AccountID); err != nil {
						return err
					}
					if err := a.downloads.ClearFinished(acct.Bucket, acct.AccountID); err != nil {
						return err
					}
					return a.moves.ClearFinished(acct.Bucket, acct.AccountID)
				}
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "restrict to one queue kind: upload|download|move (default: all)")
	return cmd
}
