// Package scheduler implements the three independent per-transfer-kind
// schedulers of spec.md §4.8 (component C8): one admission worker per queue
// key, draining coalesced continuation signals and performing exactly one
// admission pass per wakeup so bursts collapse into a single scan
// (invariant S1). Grounded in the teacher's internal/transfer/queue.go
// semaphore-gated worker-pool shape, generalized from one fixed-size global
// pool to a map of per-queue-key workers each capped independently, and
// wired to the persisted session stores instead of the teacher's in-memory
// task list.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/nimbusfs/objectsync/internal/download"
	"github.com/nimbusfs/objectsync/internal/logging"
	"github.com/nimbusfs/objectsync/internal/move"
	"github.com/nimbusfs/objectsync/internal/registry"
	"github.com/nimbusfs/objectsync/internal/store"
	"github.com/nimbusfs/objectsync/internal/taskid"
	"github.com/nimbusfs/objectsync/internal/upload"
	"github.com/nimbusfs/objectsync/internal/xerrors"
)

// maxActivePerQueue is the fixed S1 concurrency bound: at most 5 active
// tasks per queue key.
const maxActivePerQueue = 5

func queueKey(bucket, accountID string) string { return bucket + "|" + accountID }

// queueWorker is a message-driven admission loop over an MPSC channel,
// consuming two signals: Continue (coalesce-and-run) and RunOnce
// (request/respond), per spec.md §9's global-registry design note.
type queueWorker struct {
	signal  chan struct{}
	runOnce chan chan struct{}
	admit   func()
}

func newQueueWorker(admit func()) *queueWorker {
	w := &queueWorker{signal: make(chan struct{}, 1), runOnce: make(chan chan struct{}), admit: admit}
	go w.loop()
	return w
}

func (w *queueWorker) loop() {
	for {
		select {
		case <-w.signal:
			for drained := true; drained; {
				select {
				case <-w.signal:
				default:
					drained = false
				}
			}
			w.admit()
		case resp := <-w.runOnce:
			w.admit()
			close(resp)
		}
	}
}

// Continue requests an admission pass, coalescing with any pending request.
func (w *queueWorker) Continue() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// RunOnce requests an admission pass and blocks until it has run, used by
// resume_all which must observe the effect synchronously.
func (w *queueWorker) RunOnce() {
	resp := make(chan struct{})
	w.runOnce <- resp
	<-resp
}

func now() int64 { return time.Now().Unix() }

// --- Upload scheduler --------------------------------------------------------

// UploadScheduler admits and runs upload sessions, one worker per
// (bucket, account_id) queue key.
type UploadScheduler struct {
	db        *store.Store
	engine    *upload.Engine
	providers *registry.Providers
	flags     *registry.Flags
	log       *logging.Logger
	ctx       context.Context

	mu      sync.Mutex
	workers map[string]*queueWorker
}

// NewUploadScheduler returns a scheduler bound to its collaborators. ctx
// bounds the lifetime of every admitted worker task (cancelled on process
// shutdown).
func NewUploadScheduler(ctx context.Context, db *store.Store, engine *upload.Engine, providers *registry.Providers, flags *registry.Flags, log *logging.Logger) *UploadScheduler {
	return &UploadScheduler{ctx: ctx, db: db, engine: engine, providers: providers, flags: flags, log: log, workers: make(map[string]*queueWorker)}
}

func (s *UploadScheduler) worker(bucket, accountID string) *queueWorker {
	key := queueKey(bucket, accountID)
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[key]
	if !ok {
		w = newQueueWorker(func() { s.admit(bucket, accountID) })
		s.workers[key] = w
	}
	return w
}

// Submit probes for a resumable session (property P7) and reuses it if
// found, otherwise creates a new pending session (spec.md §4.5's session
// identity).
func (s *UploadScheduler) Submit(filePath string, fileSize, fileMtime int64, objectKey, bucket, accountID, contentType string) (string, error) {
	existing, err := s.db.FindResumableUpload(filePath, fileSize, fileMtime, objectKey, bucket, accountID)
	if err != nil {
		return "", xerrors.Persistence(err)
	}
	if existing != nil {
		if err := s.db.SetUploadSessionStatus(existing.ID, store.UploadPending, now()); err != nil {
			return "", xerrors.Persistence(err)
		}
		s.worker(bucket, accountID).Continue()
		return existing.ID, nil
	}

	session := &store.UploadSession{
		ID: taskid.New("upload"), FilePath: filePath, FileSize: fileSize, FileMtime: fileMtime,
		ObjectKey: objectKey, Bucket: bucket, AccountID: accountID, ContentType: contentType,
		Status: store.UploadPending, CreatedAt: now(), UpdatedAt: now(),
	}
	if err := s.db.CreateUploadSession(session); err != nil {
		return "", xerrors.Persistence(err)
	}
	s.worker(bucket, accountID).Continue()
	return session.ID, nil
}

// Cancel trips the cancel flag for taskID; a worker not yet started is
// found directly by the admission pass's pending scan and will observe the
// flag at entry (spec.md §5: "workers poll at every IO boundary").
func (s *UploadScheduler) Cancel(taskID string) { s.flags.Cancel(taskID) }

// Pause/Resume are not supported for uploads: spec.md §4.5 defines only a
// cancel entry point for the upload engine, and UploadSession's status
// enum has no paused value — pausing would leave a session no valid state
// to land in.
func (s *UploadScheduler) Pause(taskID string) error {
	return xerrors.Validation("upload sessions do not support pause; cancel and resubmit instead")
}

func (s *UploadScheduler) Resume(taskID string) error {
	return xerrors.Validation("upload sessions do not support pause; cancel and resubmit instead")
}

// ClearFinished deletes completed/failed/cancelled sessions for a queue key
// immediately, rather than waiting for the 7-day sweep.
func (s *UploadScheduler) ClearFinished(bucket, accountID string) error {
	for _, status := range []store.UploadSessionStatus{store.UploadCompleted, store.UploadFailed, store.UploadCancelled} {
		rows, err := s.db.ListUploadSessionsByStatus(bucket, accountID, status, 0)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if err := s.db.CompleteUploadSession(r.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *UploadScheduler) admit(bucket, accountID string) {
	active, err := s.db.CountActiveUploads(bucket, accountID)
	if err != nil {
		s.log.Errorf("count active uploads: %v", err)
		return
	}
	slots := int(maxActivePerQueue) - int(active)
	if slots <= 0 {
		return
	}
	limit := 20 * slots
	if limit < slots {
		limit = slots
	}

	pending, err := s.db.ListUploadSessionsByStatus(bucket, accountID, store.UploadPending, limit)
	if err != nil {
		s.log.Errorf("list pending uploads: %v", err)
		return
	}

	for i := range pending {
		if slots <= 0 {
			break
		}
		session := pending[i]
		client, ok := s.providers.Get(session.AccountID)
		if !ok {
			continue // skipped, not failed — spec.md §4.8
		}
		if err := s.db.SetUploadSessionStatus(session.ID, store.UploadUploading, now()); err != nil {
			s.log.Errorf("claim upload slot: %v", err)
			continue
		}
		slots--
		go func(sess store.UploadSession) {
			if err := s.engine.Run(s.ctx, client, &sess); err != nil && !xerrors.IsCancelled(err) {
				s.log.Errorf("upload %s: %v", sess.ID, err)
			}
			s.worker(bucket, accountID).Continue()
		}(session)
	}
}

// --- Download scheduler ------------------------------------------------------

// DownloadScheduler admits and runs download sessions.
type DownloadScheduler struct {
	db        *store.Store
	engine    *download.Engine
	providers *registry.Providers
	flags     *registry.Flags
	log       *logging.Logger
	ctx       context.Context

	mu      sync.Mutex
	workers map[string]*queueWorker
}

// NewDownloadScheduler returns a scheduler bound to its collaborators.
func NewDownloadScheduler(ctx context.Context, db *store.Store, engine *download.Engine, providers *registry.Providers, flags *registry.Flags, log *logging.Logger) *DownloadScheduler {
	return &DownloadScheduler{ctx: ctx, db: db, engine: engine, providers: providers, flags: flags, log: log, workers: make(map[string]*queueWorker)}
}

func (s *DownloadScheduler) worker(bucket, accountID string) *queueWorker {
	key := queueKey(bucket, accountID)
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[key]
	if !ok {
		w = newQueueWorker(func() { s.admit(bucket, accountID) })
		s.workers[key] = w
	}
	return w
}

// Submit creates a new pending download session.
func (s *DownloadScheduler) Submit(bucket, accountID, key, localPath, fileName string, fileSize int64) (string, error) {
	session := &store.DownloadSession{
		ID: taskid.New("download"), Bucket: bucket, AccountID: accountID, Key: key,
		LocalPath: localPath, FileName: fileName, FileSize: fileSize,
		Status: store.DownloadPending, CreatedAt: now(), UpdatedAt: now(),
	}
	if err := s.db.CreateDownloadSession(session); err != nil {
		return "", xerrors.Persistence(err)
	}
	s.worker(bucket, accountID).Continue()
	return session.ID, nil
}

// Cancel trips the cancel flag for taskID.
func (s *DownloadScheduler) Cancel(taskID string) { s.flags.Cancel(taskID) }

// Pause trips the pause flag; a running worker observes it at the next
// buffer flush (spec.md §4.6).
func (s *DownloadScheduler) Pause(taskID string) { s.flags.Pause(taskID) }

// Resume clears the pause flag and flips a paused session back to pending
// so the next admission pass can re-admit it.
func (s *DownloadScheduler) Resume(taskID string) error {
	s.flags.Resume(taskID)
	sess, err := s.db.GetDownloadSession(taskID)
	if err != nil {
		return xerrors.Persistence(err)
	}
	if sess.Status != store.DownloadPaused {
		return nil
	}
	if err := s.db.SetDownloadSessionStatus(taskID, store.DownloadPending, now()); err != nil {
		return xerrors.Persistence(err)
	}
	s.worker(sess.Bucket, sess.AccountID).Continue()
	return nil
}

// PauseAll pauses every active download for a queue key, both the flags a
// running worker polls and the DB rows for ones still pending.
func (s *DownloadScheduler) PauseAll(bucket, accountID string) error {
	ids, err := s.db.PauseAllDownloads(bucket, accountID, now())
	if err != nil {
		return xerrors.Persistence(err)
	}
	for _, id := range ids {
		s.flags.Pause(id)
	}
	return nil
}

// ResumeAll resumes every paused download for a queue key and triggers
// admission.
func (s *DownloadScheduler) ResumeAll(bucket, accountID string) error {
	ids, err := s.db.ResumeAllDownloads(bucket, accountID, now())
	if err != nil {
		return xerrors.Persistence(err)
	}
	for _, id := range ids {
		s.flags.Resume(id)
	}
	s.worker(bucket, accountID).RunOnce()
	return nil
}

// ClearFinished deletes terminal sessions for a queue key immediately.
func (s *DownloadScheduler) ClearFinished(bucket, accountID string) error {
	for _, status := range []store.DownloadSessionStatus{store.DownloadCompleted, store.DownloadFailed, store.DownloadCancelled} {
		rows, err := s.db.ListDownloadSessionsByStatus(status, 0)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if r.Bucket != bucket || r.AccountID != accountID {
				continue
			}
			if err := s.db.DeleteDownloadSession(r.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *DownloadScheduler) admit(bucket, accountID string) {
	active, err := s.db.CountActiveDownloads(bucket, accountID)
	if err != nil {
		s.log.Errorf("count active downloads: %v", err)
		return
	}
	slots := maxActivePerQueue - int(active)
	if slots <= 0 {
		return
	}
	limit := 20 * slots
	if limit < slots {
		limit = slots
	}

	pending, err := s.db.ListDownloadSessionsByQueue(bucket, accountID, store.DownloadPending, limit)
	if err != nil {
		s.log.Errorf("list pending downloads: %v", err)
		return
	}

	for i := range pending {
		if slots <= 0 {
			break
		}
		session := pending[i]
		client, ok := s.providers.Get(session.AccountID)
		if !ok {
			continue
		}
		if err := s.db.SetDownloadSessionStatus(session.ID, store.DownloadDownloading, now()); err != nil {
			s.log.Errorf("claim download slot: %v", err)
			continue
		}
		slots--
		go func(sess store.DownloadSession) {
			if err := s.engine.Run(s.ctx, client, &sess); err != nil && !xerrors.IsCancelled(err) && !xerrors.IsPaused(err) {
				s.log.Errorf("download %s: %v", sess.ID, err)
			}
			s.worker(bucket, accountID).Continue()
		}(session)
	}
}

// --- Move scheduler -----------------------------------------------------------

// MoveScheduler admits and runs move sessions, keyed by the source
// (bucket, account_id).
type MoveScheduler struct {
	db        *store.Store
	engine    *move.Engine
	providers *registry.Providers
	flags     *registry.Flags
	log       *logging.Logger
	ctx       context.Context

	mu      sync.Mutex
	workers map[string]*queueWorker
}

// NewMoveScheduler returns a scheduler bound to its collaborators.
func NewMoveScheduler(ctx context.Context, db *store.Store, engine *move.Engine, providers *registry.Providers, flags *registry.Flags, log *logging.Logger) *MoveScheduler {
	return &MoveScheduler{ctx: ctx, db: db, engine: engine, providers: providers, flags: flags, log: log, workers: make(map[string]*queueWorker)}
}

func (s *MoveScheduler) worker(sourceBucket, sourceAccountID string) *queueWorker {
	key := queueKey(sourceBucket, sourceAccountID)
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[key]
	if !ok {
		w = newQueueWorker(func() { s.admit(sourceBucket, sourceAccountID) })
		s.workers[key] = w
	}
	return w
}

// Submit creates a new pending move session.
func (s *MoveScheduler) Submit(sourceProvider, sourceAccountID, sourceBucket, sourceKey,
	destProvider, destAccountID, destBucket, destKey string, fileSize int64, deleteOriginal bool) (string, error) {
	session := &store.MoveSession{
		ID: taskid.New("move"),
		SourceProvider: sourceProvider, SourceAccountID: sourceAccountID, SourceBucket: sourceBucket, SourceKey: sourceKey,
		DestProvider: destProvider, DestAccountID: destAccountID, DestBucket: destBucket, DestKey: destKey,
		FileSize: fileSize, DeleteOriginal: deleteOriginal,
		Status: store.MovePending, CreatedAt: now(), UpdatedAt: now(),
	}
	if err := s.db.CreateMoveSession(session); err != nil {
		return "", xerrors.Persistence(err)
	}
	s.worker(sourceBucket, sourceAccountID).Continue()
	return session.ID, nil
}

// Cancel trips the cancel flag for taskID.
func (s *MoveScheduler) Cancel(taskID string) { s.flags.Cancel(taskID) }

// Pause trips the pause flag. The move engine does not read the pause flag,
// so a running move continues to completion and its session status is not
// changed to paused.
func (s *MoveScheduler) Pause(taskID string) { s.flags.Pause(taskID) }

// Resume clears the pause flag and flips a paused session back to pending.
func (s *MoveScheduler) Resume(taskID string) error {
	s.flags.Resume(taskID)
	sess, err := s.db.GetMoveSession(taskID)
	if err != nil {
		return xerrors.Persistence(err)
	}
	if sess.Status != store.MovePaused {
		return nil
	}
	if err := s.db.SetMoveSessionStatus(taskID, store.MovePending, now()); err != nil {
		return xerrors.Persistence(err)
	}
	s.worker(sess.SourceBucket, sess.SourceAccountID).Continue()
	return nil
}

// ClearFinished deletes terminal move sessions for a queue key immediately.
func (s *MoveScheduler) ClearFinished(sourceBucket, sourceAccountID string) error {
	for _, status := range []store.MoveSessionStatus{store.MoveSuccess, store.MoveError, store.MoveCancelled} {
		rows, err := s.db.ListMoveSessionsByStatus(status, 0)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if r.SourceBucket != sourceBucket || r.SourceAccountID != sourceAccountID {
				continue
			}
			if err := s.db.DeleteMoveSession(r.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *MoveScheduler) admit(sourceBucket, sourceAccountID string) {
	active, err := s.db.CountActiveMoves(sourceBucket, sourceAccountID)
	if err != nil {
		s.log.Errorf("count active moves: %v", err)
		return
	}
	slots := maxActivePerQueue - int(active)
	if slots <= 0 {
		return
	}
	limit := 20 * slots
	if limit < slots {
		limit = slots
	}

	pending, err := s.db.ListMoveSessionsByQueue(sourceBucket, sourceAccountID, store.MovePending, limit)
	if err != nil {
		s.log.Errorf("list pending moves: %v", err)
		return
	}

	for i := range pending {
		if slots <= 0 {
			break
		}
		session := pending[i]
		srcClient, srcOK := s.providers.Get(session.SourceAccountID)
		dstClient, dstOK := s.providers.Get(session.DestAccountID)
		if !srcOK || !dstOK {
			continue
		}
		if err := s.db.SetMoveSessionStatus(session.ID, store.MoveDownloading, now()); err != nil {
			s.log.Errorf("claim move slot: %v", err)
			continue
		}
		slots--
		go func(sess store.MoveSession) {
			if err := s.engine.Run(s.ctx, srcClient, dstClient, &sess); err != nil && !xerrors.IsCancelled(err) {
				s.log.Errorf("move %s: %v", sess.ID, err)
			}
			s.worker(sourceBucket, sourceAccountID).Continue()
		}(session)
	}
}
