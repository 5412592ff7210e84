// Package download implements the download engine (spec.md §4.6, component
// C6): presigned-URL range-resumable streaming into a local file with a
// 2 MiB flush buffer. Grounded in the teacher's
// internal/cloud/transfer/downloader.go streaming-download loop, stripped of
// its encryption-format detection (no encryption layer in this spec) and
// rebuilt over the provider.Client presigned URL plus go-retryablehttp
// client the teacher's internal/api/client.go already wires in.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/nimbusfs/objectsync/internal/cache"
	"github.com/nimbusfs/objectsync/internal/events"
	"github.com/nimbusfs/objectsync/internal/logging"
	"github.com/nimbusfs/objectsync/internal/provider"
	"github.com/nimbusfs/objectsync/internal/registry"
	"github.com/nimbusfs/objectsync/internal/store"
	"github.com/nimbusfs/objectsync/internal/xerrors"
	"github.com/nimbusfs/objectsync/internal/xfer"
)

// FlushBufferSize is the write-buffer size spec.md §4.6 calls for.
const FlushBufferSize = 2 * 1024 * 1024

// PresignTTLSeconds is the presigned GET URL lifetime, refreshed on every
// attempt per spec.md §4.6.
const PresignTTLSeconds = 3600

// Engine drives one download session to completion, failure, pause, or
// cancel.
type Engine struct {
	db    *store.Store
	cache *cache.Mutator
	bus   *events.Bus
	flags *registry.Flags
	log   *logging.Logger
	http  *retryablehttp.Client
	nowFn func() int64
}

// New returns an Engine. The HTTP client has RetryMax=0: spec.md §4.6/§7
// leave retry-on-failure to the caller's resubmission, not this layer; the
// retryablehttp client is kept purely for its connection-pool and timeout
// defaults (per the teacher's internal/api/client.go).
func New(db *store.Store, c *cache.Mutator, bus *events.Bus, flags *registry.Flags, log *logging.Logger, nowFn func() int64) *Engine {
	hc := retryablehttp.NewClient()
	hc.RetryMax = 0
	hc.Logger = nil
	return &Engine{db: db, cache: c, bus: bus, flags: flags, log: log, http: hc, nowFn: nowFn}
}

func (e *Engine) now() int64 {
	if e.nowFn != nil {
		return e.nowFn()
	}
	return time.Now().Unix()
}

// Run executes session against client.
func (e *Engine) Run(ctx context.Context, client *provider.Client, session *store.DownloadSession) error {
	e.flags.Register(session.ID)
	defer e.flags.Clear(session.ID)

	if e.flags.IsCancelled(session.ID) {
		return e.cancel(session)
	}

	if err := e.db.SetDownloadSessionStatus(session.ID, store.DownloadDownloading, e.now()); err != nil {
		return xerrors.Persistence(err)
	}

	url, err := client.PresignGet(ctx, session.Key, PresignTTLSeconds)
	if err != nil {
		return err
	}

	startBytes := session.DownloadedBytes
	if err := os.MkdirAll(filepath.Dir(session.LocalPath), 0o755); err != nil {
		return xerrors.Filesystem(fmt.Errorf("mkdir for %s: %w", session.LocalPath, err))
	}

	flags := os.O_WRONLY | os.O_CREATE
	if startBytes > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(session.LocalPath, flags, 0o644)
	if err != nil {
		return xerrors.Filesystem(fmt.Errorf("open %s: %w", session.LocalPath, err))
	}
	defer out.Close()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return xerrors.Provider(false, fmt.Errorf("build download request: %w", err))
	}
	if startBytes > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startBytes))
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return xerrors.Provider(xerrors.IsNetworkError(err), fmt.Errorf("download request: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return xerrors.Provider(resp.StatusCode >= 500, fmt.Errorf("download request: unexpected status %d", resp.StatusCode))
	}

	if session.FileSize == 0 {
		total := resp.ContentLength
		if total > 0 {
			session.FileSize = total + startBytes
			if err := e.db.SetDownloadFileSize(session.ID, session.FileSize, e.now()); err != nil {
				return xerrors.Persistence(err)
			}
		}
	}

	downloaded := startBytes
	speed := &xfer.SpeedTracker{}
	speed.Sample(downloaded)
	buf := make([]byte, FlushBufferSize)

	for {
		if e.flags.IsCancelled(session.ID) {
			out.Close()
			_ = os.Remove(session.LocalPath)
			return e.cancel(session)
		}
		if e.flags.IsPaused(session.ID) {
			return e.pause(session, downloaded)
		}

		// Fill the buffer before flushing it to disk; a short final fill is
		// flushed when the body ends.
		n := 0
		var readErr error
		for n < len(buf) && readErr == nil {
			var m int
			m, readErr = resp.Body.Read(buf[n:])
			n += m
		}
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return xerrors.Filesystem(fmt.Errorf("write %s: %w", session.LocalPath, werr))
			}
			downloaded += int64(n)
			sp := speed.Sample(downloaded)
			if err := e.db.UpdateDownloadProgress(session.ID, downloaded, e.now()); err != nil {
				return xerrors.Persistence(err)
			}
			e.bus.Publish(&events.DownloadProgressEvent{
				Base: events.Base{EventType: events.TypeDownloadProgress}, TaskID: session.ID,
				Percent: xfer.Percent(downloaded, session.FileSize), DownloadedBytes: downloaded,
				TotalBytes: session.FileSize, Speed: sp,
			})
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return xerrors.Provider(xerrors.IsNetworkError(readErr), fmt.Errorf("read download body: %w", readErr))
		}
	}

	if err := out.Sync(); err != nil {
		return xerrors.Filesystem(fmt.Errorf("fsync %s: %w", session.LocalPath, err))
	}
	e.bus.Publish(&events.DownloadProgressEvent{
		Base: events.Base{EventType: events.TypeDownloadProgress}, TaskID: session.ID,
		Percent: 100, DownloadedBytes: downloaded, TotalBytes: session.FileSize,
	})
	if err := e.db.SetDownloadSessionStatus(session.ID, store.DownloadCompleted, e.now()); err != nil {
		return xerrors.Persistence(err)
	}
	e.bus.Publish(&events.DownloadStatusEvent{
		Base: events.Base{EventType: events.TypeDownloadStatus}, TaskID: session.ID, Status: string(store.DownloadCompleted),
	})
	return nil
}

func (e *Engine) cancel(session *store.DownloadSession) error {
	if err := e.db.SetDownloadSessionStatus(session.ID, store.DownloadCancelled, e.now()); err != nil {
		return xerrors.Persistence(err)
	}
	e.bus.Publish(&events.DownloadStatusEvent{
		Base: events.Base{EventType: events.TypeDownloadStatus}, TaskID: session.ID, Status: string(store.DownloadCancelled),
	})
	return xerrors.ErrCancelled
}

func (e *Engine) pause(session *store.DownloadSession, downloaded int64) error {
	if err := e.db.UpdateDownloadProgress(session.ID, downloaded, e.now()); err != nil {
		return xerrors.Persistence(err)
	}
	if err := e.db.SetDownloadSessionStatus(session.ID, store.DownloadPaused, e.now()); err != nil {
		return xerrors.Persistence(err)
	}
	e.bus.Publish(&events.DownloadProgressEvent{
		Base: events.Base{EventType: events.TypeDownloadProgress}, TaskID: session.ID,
		Percent: xfer.Percent(downloaded, session.FileSize), DownloadedBytes: downloaded,
		TotalBytes: session.FileSize, Speed: 0,
	})
	e.bus.Publish(&events.DownloadStatusEvent{
		Base: events.Base{EventType: events.TypeDownloadStatus}, TaskID: session.ID, Status: string(store.DownloadPaused),
	})
	return xerrors.ErrPaused
}
