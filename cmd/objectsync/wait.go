package main

import (
	"fmt"
	"time"

	"github.com/nimbusfs/objectsync/internal/store"
)

const pollInterval = 250 * time.Millisecond

// waitForUploadTerminal polls the session row until it reaches a terminal
// status, used by --wait flags so the CLI blocks for a single transfer the
// way the teacher's synchronous UploadFileSync does.
func waitForUploadTerminal(a *app, taskID string) error {
	for {
		sess, err := a.db.GetUploadSession(taskID)
		if err != nil {
			return fmt.Errorf("poll upload session: %w", err)
		}
		switch sess.Status {
		case store.UploadCompleted:
			fmt.Println("upload completed")
			return nil
		case store.UploadFailed:
			return fmt.Errorf("upload %s failed", taskID)
		case store.UploadCancelled:
			return fmt.Errorf("upload %s cancelled", taskID)
		}
		time.Sleep(pollInterval)
	}
}

func waitForDownloadTerminal(a *app, taskID string) error {
	for {
		sess, err := a.db.GetDownloadSession(taskID)
		if err != nil {
			return fmt.Errorf("poll download session: %w", err)
		}
		switch sess.Status {
		case store.DownloadCompleted:
			fmt.Println("download completed")
			return nil
		case store.DownloadFailed:
			return fmt.Errorf("download %s failed", taskID)
		case store.DownloadCancelled:
			return fmt.Errorf("download %s cancelled", taskID)
		}
		time.Sleep(pollInterval)
	}
}

func waitForMoveTerminal(a *app, taskID string) error {
	for {
		sess, err := a.db.GetMoveSession(taskID)
		if err != nil {
			return fmt.Errorf("poll move session: %w", err)
		}
		switch sess.Status {
		case store.MoveSuccess:
			fmt.Println("move completed")
			return nil
		case store.MoveError:
			return fmt.Errorf("move %s failed: %s", taskID, sess.Error)
		case store.MoveCancelled:
			return fmt.Errorf("move %s cancelled", taskID)
		}
		time.Sleep(pollInterval)
	}
}
