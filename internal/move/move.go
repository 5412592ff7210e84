// Package move implements the move engine (spec.md §4.7, component C7): a
// server-side copy fast path shared-provider moves can use, falling back
// silently to a streamed range-read/range-write multipart path for
// cross-provider moves or when the fast path errors. Grounded in the
// teacher's internal/cloud/upload/s3.go multipart loop for the part-parallel
// shape, combined with internal/cloud/transfer/downloader.go's streaming
// read loop for the slow single-shot path; the state machine and the
// same-vs-cross-provider cache-mutation split are new to this spec (the
// teacher has no move concept — only independent upload/download).
package move

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
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

// MultipartThreshold is the size boundary at or above which the slow path uses
// multipart streaming instead of a single GET-into-PUT stream.
const MultipartThreshold = 100 * 1024 * 1024

// PartSize is the slow-path multipart part size.
const PartSize = 20 * 1024 * 1024

// PartWorkers is the bounded part-parallelism for the slow multipart path.
const PartWorkers = 4

// PresignTTLSeconds is the presigned URL lifetime used by the slow path.
const PresignTTLSeconds = 3600

// progressPercentStep is the DB-persistence threshold for slow-path
// multipart progress: every 5% or at 99%, per spec.md §4.7.
const progressPercentStep = 5

// Engine drives one move session through its state machine.
type Engine struct {
	db    *store.Store
	cache *cache.Mutator
	bus   *events.Bus
	flags *registry.Flags
	log   *logging.Logger
	http  *retryablehttp.Client
	nowFn func() int64
}

// New returns an Engine bound to its collaborators.
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

// sameNamespace reports whether src and dst address the same
// bucket+account, the precondition for the server-side copy fast path
// (same dialect, same credentials — spec.md §4.7).
func sameNamespace(src, dst *provider.Client) bool {
	return src.AccountID() == dst.AccountID() && src.Bucket() == dst.Bucket() && src.Kind() == dst.Kind()
}

// Run executes session between srcClient and dstClient.
func (e *Engine) Run(ctx context.Context, srcClient, dstClient *provider.Client, session *store.MoveSession) error {
	e.flags.Register(session.ID)
	defer e.flags.Clear(session.ID)

	if e.flags.IsCancelled(session.ID) {
		return e.terminal(session, store.MoveCancelled, "")
	}

	rename := sameNamespace(srcClient, dstClient)

	if rename {
		if err := e.fastCopy(ctx, srcClient, session); err == nil {
			return e.finishFastPath(ctx, srcClient, session)
		}
		// Fast-path copy failures fall back silently to the streamed path
		// (spec.md §5: "Provider copy failures in the move fast path fall
		// back silently to the streamed multipart path").
	}

	return e.slowPath(ctx, srcClient, dstClient, session)
}

func (e *Engine) fastCopy(ctx context.Context, srcClient *provider.Client, session *store.MoveSession) error {
	if err := e.db.SetMoveSessionStatus(session.ID, store.MoveUploading, e.now()); err != nil {
		return xerrors.Persistence(err)
	}
	return srcClient.Copy(ctx, session.SourceBucket, session.SourceKey, session.DestKey)
}

// finishFastPath treats a successful server-side copy as if an upload just
// completed at the destination (spec.md §4.7). CopyObject never removes the
// source object, so delete_original still requires an explicit delete call
// against srcClient before the cache is updated.
func (e *Engine) finishFastPath(ctx context.Context, srcClient *provider.Client, session *store.MoveSession) error {
	if err := e.db.SetMoveSessionStatus(session.ID, store.MoveFinishing, e.now()); err != nil {
		return xerrors.Persistence(err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	if session.DeleteOriginal {
		if err := e.db.SetMoveSessionStatus(session.ID, store.MoveDeleting, e.now()); err != nil {
			return xerrors.Persistence(err)
		}
		if err := srcClient.Delete(ctx, session.SourceKey); err != nil {
			return e.fail(session, err)
		}
		if err := e.cache.UpdateCacheAfterMove(session.SourceBucket, session.SourceAccountID, session.SourceKey, session.DestKey); err != nil {
			return xerrors.Persistence(err)
		}
	} else if err := e.cache.UpdateCacheAfterUpload(session.DestBucket, session.DestAccountID, session.DestKey, session.FileSize, now); err != nil {
		return xerrors.Persistence(err)
	}

	return e.completeSuccess(session)
}

func (e *Engine) slowPath(ctx context.Context, srcClient, dstClient *provider.Client, session *store.MoveSession) error {
	if err := e.db.SetMoveSessionStatus(session.ID, store.MoveDownloading, e.now()); err != nil {
		return xerrors.Persistence(err)
	}

	size := session.FileSize
	if size == 0 {
		probed, err := srcClient.HeadOrSize(ctx, session.SourceKey)
		if err != nil {
			return e.fail(session, err)
		}
		size = probed
		session.FileSize = probed
	}

	if err := e.db.SetMoveSessionStatus(session.ID, store.MoveUploading, e.now()); err != nil {
		return xerrors.Persistence(err)
	}

	var err error
	if size < MultipartThreshold {
		err = e.streamSingleShot(ctx, srcClient, dstClient, session, size)
	} else {
		err = e.streamMultipart(ctx, srcClient, dstClient, session, size)
	}
	if err != nil {
		if xerrors.IsCancelled(err) {
			return e.terminal(session, store.MoveCancelled, "")
		}
		return e.fail(session, err)
	}

	return e.finishSlowPath(ctx, srcClient, session)
}

// streamSingleShot presigns source GET and destination PUT, then pipes the
// GET body directly into the PUT request body (spec.md §4.7: "stream the
// GET body as the PUT request body").
func (e *Engine) streamSingleShot(ctx context.Context, srcClient, dstClient *provider.Client, session *store.MoveSession, size int64) error {
	getURL, err := srcClient.PresignGet(ctx, session.SourceKey, PresignTTLSeconds)
	if err != nil {
		return err
	}
	putURL, err := dstClient.PresignPut(ctx, session.DestKey, PresignTTLSeconds)
	if err != nil {
		return err
	}

	getReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
	if err != nil {
		return xerrors.Provider(false, fmt.Errorf("build move get request: %w", err))
	}
	getResp, err := e.http.Do(getReq)
	if err != nil {
		return xerrors.Provider(xerrors.IsNetworkError(err), fmt.Errorf("move get request: %w", err))
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		return xerrors.Provider(getResp.StatusCode >= 500, fmt.Errorf("move get request: unexpected status %d", getResp.StatusCode))
	}

	pr := &progressReader{
		r:        getResp.Body,
		session:  session,
		total:    size,
		engine:   e,
		cancelID: session.ID,
	}

	putReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, putURL, io.NopCloser(pr))
	if err != nil {
		return xerrors.Provider(false, fmt.Errorf("build move put request: %w", err))
	}
	putReq.ContentLength = size
	putResp, err := e.http.Do(putReq)
	if err != nil {
		if pr.cancelled {
			return xerrors.ErrCancelled
		}
		return xerrors.Provider(xerrors.IsNetworkError(err), fmt.Errorf("move put request: %w", err))
	}
	defer putResp.Body.Close()
	if putResp.StatusCode < 200 || putResp.StatusCode >= 300 {
		return xerrors.Provider(putResp.StatusCode >= 500, fmt.Errorf("move put request: unexpected status %d", putResp.StatusCode))
	}
	if pr.cancelled {
		return xerrors.ErrCancelled
	}

	e.bus.Publish(&events.MoveProgressEvent{
		Base: events.Base{EventType: events.TypeMoveProgress}, TaskID: session.ID, Phase: string(store.MoveUploading),
		Percent: 100, TransferredBytes: size, TotalBytes: size,
	})
	return nil
}

// progressReader wraps the source GET body, reporting progress as bytes
// flow and capping displayed percent at 99 until the PUT response confirms
// success (spec.md §4.7).
type progressReader struct {
	r          io.Reader
	session    *store.MoveSession
	total      int64
	transferred int64
	speed      xfer.SpeedTracker
	engine     *Engine
	cancelID   string
	cancelled  bool
}

// errMoveReadCancelled aborts the in-flight PUT body stream when the
// cancel flag trips mid-transfer; the single-shot path has no resumable
// midpoint, so a cancel here discards the partial destination object.
var errMoveReadCancelled = fmt.Errorf("move read cancelled")

func (p *progressReader) Read(buf []byte) (int, error) {
	if p.engine.flags.IsCancelled(p.cancelID) {
		p.cancelled = true
		return 0, errMoveReadCancelled
	}
	n, err := p.r.Read(buf)
	if n > 0 {
		p.transferred += int64(n)
		sp := p.speed.Sample(p.transferred)
		percent := xfer.Percent(p.transferred, p.total)
		if percent > 99 {
			percent = 99
		}
		p.engine.bus.Publish(&events.MoveProgressEvent{
			Base: events.Base{EventType: events.TypeMoveProgress}, TaskID: p.session.ID, Phase: string(store.MoveUploading),
			Percent: percent, TransferredBytes: p.transferred, TotalBytes: p.total, Speed: sp,
		})
	}
	return n, err
}

// streamMultipart runs the ≥100 MiB slow path: ranged GETs from the source,
// UploadPart calls to the destination, bounded at PartWorkers in flight
// (spec.md §4.7).
func (e *Engine) streamMultipart(ctx context.Context, srcClient, dstClient *provider.Client, session *store.MoveSession, size int64) error {
	if session.UploadID == "" {
		uploadID, err := dstClient.MultipartInitiate(ctx, session.DestKey, "")
		if err != nil {
			return err
		}
		session.UploadID = uploadID
		if err := e.db.SetMoveUploadID(session.ID, uploadID, e.now()); err != nil {
			return xerrors.Persistence(err)
		}
	}

	existing, err := e.db.GetMoveParts(session.ID)
	if err != nil {
		return xerrors.Persistence(err)
	}
	done := make(map[int32]bool, len(existing))
	var transferred int64
	for _, p := range existing {
		done[p.PartNumber] = true
		transferred += p.Size
	}

	total := totalParts(size)
	var missing []int32
	for n := int32(1); n <= int32(total); n++ {
		if !done[n] {
			missing = append(missing, n)
		}
	}

	speed := &xfer.SpeedTracker{}
	speed.Sample(transferred)
	lastPersistedStep := (xfer.Percent(transferred, size)) / progressPercentStep

	sem := semaphore.NewWeighted(PartWorkers)
	g, gctx := errgroup.WithContext(ctx)

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
			partSize := partSizeFor(size, partNumber)
			offset := int64(partNumber-1) * PartSize

			body, _, err := srcClient.GetStream(gctx, session.SourceKey, fmt.Sprintf("bytes=%d-%d", offset, offset+partSize-1))
			if err != nil {
				return err
			}
			defer body.Close()

			buf := make([]byte, partSize)
			if _, err := io.ReadFull(body, buf); err != nil {
				return xerrors.Provider(xerrors.IsNetworkError(err), fmt.Errorf("read move part %d: %w", partNumber, err))
			}

			etag, err := dstClient.MultipartUploadPart(gctx, session.DestKey, session.UploadID, partNumber, newBytesReadSeeker(buf), partSize)
			if err != nil {
				return err
			}
			if err := e.db.UpsertMovePart(session.ID, partNumber, etag, partSize); err != nil {
				return xerrors.Persistence(err)
			}

			newTotal := atomicAdd(&transferred, partSize)
			sp := speed.Sample(newTotal)
			percent := xfer.Percent(newTotal, size)
			displayed := percent
			if displayed > 99 {
				displayed = 99
			}
			e.bus.Publish(&events.MoveProgressEvent{
				Base: events.Base{EventType: events.TypeMoveProgress}, TaskID: session.ID, Phase: string(store.MoveUploading),
				Percent: displayed, TransferredBytes: newTotal, TotalBytes: size, Speed: sp,
			})

			step := percent / progressPercentStep
			if step > lastPersistedStep || displayed >= 99 {
				lastPersistedStep = step
				if err := e.db.UpdateMoveProgress(session.ID, newTotal, int(displayed), e.now()); err != nil {
					return xerrors.Persistence(err)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if e.flags.IsCancelled(session.ID) {
		return xerrors.ErrCancelled
	}

	parts, err := e.db.GetMoveParts(session.ID)
	if err != nil {
		return xerrors.Persistence(err)
	}
	numbers := make([]int32, len(parts))
	byNumber := make(map[int32]string, len(parts))
	for i, p := range parts {
		numbers[i] = p.PartNumber
		byNumber[p.PartNumber] = p.ETag
	}
	sortInt32(numbers)
	sorted := make([]provider.Part, len(numbers))
	for i, n := range numbers {
		sorted[i] = provider.Part{Number: n, ETag: byNumber[n]}
	}

	if err := dstClient.MultipartComplete(ctx, session.DestKey, session.UploadID, sorted); err != nil {
		return err
	}
	if err := e.db.DeleteMoveParts(session.ID); err != nil {
		return xerrors.Persistence(err)
	}

	e.bus.Publish(&events.MoveProgressEvent{
		Base: events.Base{EventType: events.TypeMoveProgress}, TaskID: session.ID, Phase: string(store.MoveUploading),
		Percent: 100, TransferredBytes: size, TotalBytes: size,
	})
	return nil
}

// finishSlowPath commits the cache mutation for the streamed path. Unlike
// the fast path, a streamed move always goes through the generic
// cross-provider cache hook (spec.md §4.4): even the same-provider fallback
// case (fast-copy errored) models its result as an independent upload plus
// an independent delete rather than a single rename, since the two legs ran
// as unrelated provider calls against potentially different clients.
func (e *Engine) finishSlowPath(ctx context.Context, srcClient *provider.Client, session *store.MoveSession) error {
	if err := e.db.SetMoveSessionStatus(session.ID, store.MoveFinishing, e.now()); err != nil {
		return xerrors.Persistence(err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	if session.DeleteOriginal {
		if err := e.db.SetMoveSessionStatus(session.ID, store.MoveDeleting, e.now()); err != nil {
			return xerrors.Persistence(err)
		}
		if err := srcClient.Delete(ctx, session.SourceKey); err != nil {
			return e.fail(session, err)
		}
	}

	if err := e.cache.UpdateCacheAfterCrossProviderMove(
		session.DestBucket, session.DestAccountID, session.DestKey, session.FileSize, now,
		session.SourceBucket, session.SourceAccountID, session.SourceKey, session.DeleteOriginal,
	); err != nil {
		return xerrors.Persistence(err)
	}

	return e.completeSuccess(session)
}

func (e *Engine) completeSuccess(session *store.MoveSession) error {
	if err := e.db.UpdateMoveProgress(session.ID, session.FileSize, 100, e.now()); err != nil {
		return xerrors.Persistence(err)
	}
	if err := e.db.SetMoveSessionStatus(session.ID, store.MoveSuccess, e.now()); err != nil {
		return xerrors.Persistence(err)
	}
	e.bus.Publish(&events.MoveProgressEvent{
		Base: events.Base{EventType: events.TypeMoveProgress}, TaskID: session.ID, Phase: string(store.MoveSuccess),
		Percent: 100, TransferredBytes: session.FileSize, TotalBytes: session.FileSize,
	})
	e.bus.Publish(&events.MoveStatusEvent{
		Base: events.Base{EventType: events.TypeMoveStatus}, TaskID: session.ID, Status: string(store.MoveSuccess),
	})
	return nil
}

func (e *Engine) fail(session *store.MoveSession, err error) error {
	msg := err.Error()
	if ferr := e.db.FailMoveSession(session.ID, msg, e.now()); ferr != nil {
		return xerrors.Persistence(ferr)
	}
	e.bus.Publish(&events.MoveStatusEvent{
		Base: events.Base{EventType: events.TypeMoveStatus}, TaskID: session.ID, Status: string(store.MoveError), Error: msg,
	})
	return err
}

func (e *Engine) terminal(session *store.MoveSession, status store.MoveSessionStatus, errMsg string) error {
	if err := e.db.SetMoveSessionStatus(session.ID, status, e.now()); err != nil {
		return xerrors.Persistence(err)
	}
	e.bus.Publish(&events.MoveStatusEvent{
		Base: events.Base{EventType: events.TypeMoveStatus}, TaskID: session.ID, Status: string(status), Error: errMsg,
	})
	if status == store.MoveCancelled {
		return xerrors.ErrCancelled
	}
	return nil
}

func atomicAdd(counter *int64, delta int64) int64 {
	return atomic.AddInt64(counter, delta)
}

// newBytesReadSeeker wraps an in-memory part buffer as the io.ReadSeeker
// MultipartUploadPart requires.
func newBytesReadSeeker(buf []byte) io.ReadSeeker {
	return bytes.NewReader(buf)
}

func sortInt32(nums []int32) {
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
}

func totalParts(size int64) int {
	n := size / PartSize
	if size%PartSize != 0 {
		n++
	}
	return int(n)
}

func partSizeFor(size int64, partNumber int32) int64 {
	offset := int64(partNumber-1) * PartSize
	remaining := size - offset
	if remaining > PartSize {
		return PartSize
	}
	return remaining
}
