// Package upload implements the upload engine (spec.md §4.5, component C5):
// simple PUT for small files, resumable multipart with a persisted part
// registry and bounded part parallelism for large ones. Grounded in the
// teacher's internal/cloud/upload/s3.go multipart loop, generalized from a
// single hard-coded provider to the four-dialect provider.Client and wired
// to this repo's own session store and cache-mutation protocol instead of
// the teacher's in-memory task bookkeeping.
package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nimbusfs/objectsync/internal/cache"
	"github.com/nimbusfs/objectsync/internal/events"
	"github.com/nimbusfs/objectsync/internal/logging"
	"github.com/nimbusfs/objectsync/internal/provider"
	"github.com/nimbusfs/objectsync/internal/registry"
	"github.com/nimbusfs/objectsync/internal/store"
	"github.com/nimbusfs/objectsync/internal/xerrors"
	"github.com/nimbusfs/objectsync/internal/xfer"
)

// MultipartThreshold is the size boundary at or above which uploads use
// multipart (spec.md §4.5, property B6: "threshold is strict <").
const MultipartThreshold = 100 * 1024 * 1024

// PartSize is the fixed multipart part size.
const PartSize = 20 * 1024 * 1024

// PartWorkers is the bounded part-parallelism for multipart uploads.
const PartWorkers = 6

// Engine drives one upload session to completion, failure, or a cooperative
// cancel.
type Engine struct {
	db     *store.Store
	cache  *cache.Mutator
	bus    *events.Bus
	flags  *registry.Flags
	log    *logging.Logger
	nowFn  func() int64
}

// New returns an Engine bound to its collaborators.
func New(db *store.Store, c *cache.Mutator, bus *events.Bus, flags *registry.Flags, log *logging.Logger, nowFn func() int64) *Engine {
	return &Engine{db: db, cache: c, bus: bus, flags: flags, log: log, nowFn: nowFn}
}

func (e *Engine) now() int64 {
	if e.nowFn != nil {
		return e.nowFn()
	}
	return time.Now().Unix()
}

// Run executes session against client, the destination the session was
// created for. It returns xerrors.ErrCancelled for a cooperative cancel,
// otherwise a wrapped provider/persistence/filesystem error.
func (e *Engine) Run(ctx context.Context, client *provider.Client, session *store.UploadSession) error {
	e.flags.Register(session.ID)
	defer e.flags.Clear(session.ID)

	if e.flags.IsCancelled(session.ID) {
		return e.cancel(session)
	}

	info, err := os.Stat(session.FilePath)
	if err != nil {
		return xerrors.Filesystem(fmt.Errorf("stat %s: %w", session.FilePath, err))
	}

	if session.FileSize < MultipartThreshold {
		return e.runSinglePut(ctx, client, session, info.Size())
	}
	return e.runMultipart(ctx, client, session)
}

func (e *Engine) runSinglePut(ctx context.Context, client *provider.Client, session *store.UploadSession, size int64) error {
	if err := e.db.SetUploadSessionStatus(session.ID, store.UploadUploading, e.now()); err != nil {
		return xerrors.Persistence(err)
	}

	f, err := os.Open(session.FilePath)
	if err != nil {
		return xerrors.Filesystem(fmt.Errorf("open %s: %w", session.FilePath, err))
	}
	defer f.Close()

	if err := client.Put(ctx, session.ObjectKey, f, size, session.ContentType); err != nil {
		_ = e.db.SetUploadSessionStatus(session.ID, store.UploadFailed, e.now())
		return err
	}

	e.bus.Publish(&events.UploadProgressEvent{
		Base: events.Base{EventType: events.TypeUploadProgress}, TaskID: session.ID,
		Percent: 100, UploadedBytes: size, TotalBytes: size,
	})

	now := time.Now().UTC().Format(time.RFC3339)
	if err := e.cache.UpdateCacheAfterUpload(session.Bucket, session.AccountID, session.ObjectKey, size, now); err != nil {
		return xerrors.Persistence(err)
	}
	if err := e.db.CompleteUploadSession(session.ID); err != nil {
		return xerrors.Persistence(err)
	}
	return nil
}

func (e *Engine) runMultipart(ctx context.Context, client *provider.Client, session *store.UploadSession) error {
	if session.UploadID == "" {
		uploadID, err := client.MultipartInitiate(ctx, session.ObjectKey, session.ContentType)
		if err != nil {
			return err
		}
		session.UploadID = uploadID
		session.TotalParts = totalParts(session.FileSize)
		if err := e.db.SetUploadSessionMultipart(session.ID, uploadID, session.TotalParts, e.now()); err != nil {
			return xerrors.Persistence(err)
		}
	}
	if err := e.db.SetUploadSessionStatus(session.ID, store.UploadUploading, e.now()); err != nil {
		return xerrors.Persistence(err)
	}

	completed, err := e.db.GetCompletedUploadParts(session.ID)
	if err != nil {
		return xerrors.Persistence(err)
	}
	done := make(map[int32]string, len(completed))
	for _, p := range completed {
		done[p.PartNumber] = p.ETag
	}

	var uploadedBytes int64
	for _, p := range completed {
		uploadedBytes += partSizeFor(session.FileSize, p.PartNumber)
	}
	speed := &xfer.SpeedTracker{}
	speed.Sample(uploadedBytes)

	sem := semaphore.NewWeighted(PartWorkers)
	g, gctx := errgroup.WithContext(ctx)

	var missing []int32
	for n := int32(1); n <= int32(session.TotalParts); n++ {
		if _, ok := done[n]; !ok {
			missing = append(missing, n)
		}
	}

	for _, partNumber := range missing {
		partNumber := partNumber
		if e.flags.IsCancelled(session.ID) {
			break
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if e.flags.IsCancelled(session.ID) {
				return xerrors.ErrCancelled
			}
			etag, size, err := e.uploadPart(gctx, client, session, partNumber)
			if err != nil {
				return err
			}
			if err := e.db.UpsertUploadPart(session.ID, partNumber, etag); err != nil {
				return xerrors.Persistence(err)
			}
			newTotal := atomic.AddInt64(&uploadedBytes, size)
			sp := speed.Sample(newTotal)
			e.bus.Publish(&events.UploadProgressEvent{
				Base: events.Base{EventType: events.TypeUploadProgress}, TaskID: session.ID,
				Percent: xfer.Percent(newTotal, session.FileSize), UploadedBytes: newTotal,
				TotalBytes: session.FileSize, Speed: sp,
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if xerrors.IsCancelled(err) {
			return e.cancel(session)
		}
		_ = e.db.SetUploadSessionStatus(session.ID, store.UploadUploading, e.now())
		return err
	}

	if e.flags.IsCancelled(session.ID) {
		return e.cancel(session)
	}

	parts, err := e.db.GetCompletedUploadParts(session.ID)
	if err != nil {
		return xerrors.Persistence(err)
	}
	numbers := store.SortedPartNumbers(parts)
	byNumber := make(map[int32]string, len(parts))
	for _, p := range parts {
		byNumber[p.PartNumber] = p.ETag
	}
	sorted := make([]provider.Part, len(numbers))
	for i, n := range numbers {
		sorted[i] = provider.Part{Number: n, ETag: byNumber[n]}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	if err := client.MultipartComplete(ctx, session.ObjectKey, session.UploadID, sorted); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if err := e.cache.UpdateCacheAfterUpload(session.Bucket, session.AccountID, session.ObjectKey, session.FileSize, now); err != nil {
		return xerrors.Persistence(err)
	}
	return e.db.CompleteUploadSession(session.ID)
}

func (e *Engine) uploadPart(ctx context.Context, client *provider.Client, session *store.UploadSession, partNumber int32) (string, int64, error) {
	size := partSizeFor(session.FileSize, partNumber)
	offset := int64(partNumber-1) * PartSize

	f, err := os.Open(session.FilePath)
	if err != nil {
		return "", 0, xerrors.Filesystem(fmt.Errorf("open %s: %w", session.FilePath, err))
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", 0, xerrors.Filesystem(fmt.Errorf("seek %s: %w", session.FilePath, err))
	}

	etag, err := client.MultipartUploadPart(ctx, session.ObjectKey, session.UploadID, partNumber, io.NewSectionReader(f, offset, size), size)
	if err != nil {
		return "", 0, err
	}
	return etag, size, nil
}

// cancel marks the session cancelled, per spec.md §4.5: "on trip, the
// session is marked cancelled (not deleted) so the user can retry; the
// remote multipart upload is left live so parts already uploaded remain
// reusable."
func (e *Engine) cancel(session *store.UploadSession) error {
	if err := e.db.SetUploadSessionStatus(session.ID, store.UploadCancelled, e.now()); err != nil {
		return xerrors.Persistence(err)
	}
	return xerrors.ErrCancelled
}

func totalParts(fileSize int64) int {
	n := fileSize / PartSize
	if fileSize%PartSize != 0 {
		n++
	}
	return int(n)
}

func partSizeFor(fileSize int64, partNumber int32) int64 {
	offset := int64(partNumber-1) * PartSize
	remaining := fileSize - offset
	if remaining > PartSize {
		return PartSize
	}
	return remaining
}
