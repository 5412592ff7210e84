package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nimbusfs/objectsync/internal/cache"
	"github.com/nimbusfs/objectsync/internal/download"
	"github.com/nimbusfs/objectsync/internal/events"
	"github.com/nimbusfs/objectsync/internal/logging"
	"github.com/nimbusfs/objectsync/internal/registry"
	"github.com/nimbusfs/objectsync/internal/scheduler"
	"github.com/nimbusfs/objectsync/internal/store"
)

func newTestDownloadScheduler(t *testing.T) (*scheduler.DownloadScheduler, *store.Store) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := events.NewBus(16)
	mutator := cache.New(db, bus, func() int64 { return 1 })
	flags := registry.NewFlags()
	log := logging.NewDefaultCLILogger()
	engine := download.New(db, mutator, bus, flags, log, func() int64 { return 1 })
	providers := registry.NewProviders() // deliberately empty: no account is dialable

	s := scheduler.NewDownloadScheduler(context.Background(), db, engine, providers, flags, log)
	return s, db
}

// Scenario 5: pause_all transitions every pending/downloading session in a
// queue key to paused; resume_all flips them back to pending.
func TestDownloadSchedulerPauseAllResumeAll(t *testing.T) {
	s, db := newTestDownloadScheduler(t)

	id, err := s.Submit("bucket", "acct", "a.bin", "/tmp/a.bin", "a.bin", 1000)
	require.NoError(t, err)
	id2, err := s.Submit("bucket", "acct", "b.bin", "/tmp/b.bin", "b.bin", 2000)
	require.NoError(t, err)

	// No provider is registered for "acct", so the admission pass can never
	// promote these out of pending (spec.md §4.8: "skipped, not failed").
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, s.PauseAll("bucket", "acct"))
	for _, id := range []string{id, id2} {
		sess, err := db.GetDownloadSession(id)
		require.NoError(t, err)
		require.Equal(t, store.DownloadPaused, sess.Status)
	}

	require.NoError(t, s.ResumeAll("bucket", "acct"))
	for _, id := range []string{id, id2} {
		sess, err := db.GetDownloadSession(id)
		require.NoError(t, err)
		require.Equal(t, store.DownloadPending, sess.Status)
	}
}

// A session with no registered provider configuration is skipped by
// admission, not failed (spec.md §4.8).
func TestDownloadSchedulerSkipsSessionsWithoutProvider(t *testing.T) {
	s, db := newTestDownloadScheduler(t)

	id, err := s.Submit("bucket", "unknown-acct", "a.bin", "/tmp/a.bin", "a.bin", 10)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	sess, err := db.GetDownloadSession(id)
	require.NoError(t, err)
	require.Equal(t, store.DownloadPending, sess.Status)
}

func TestDownloadSchedulerClearFinished(t *testing.T) {
	s, db := newTestDownloadScheduler(t)

	done := &store.DownloadSession{
		ID: "done1", Bucket: "bucket", AccountID: "acct", Key: "k", LocalPath: "/tmp/k",
		Status: store.DownloadCompleted, CreatedAt: 1, UpdatedAt: 1,
	}
	require.NoError(t, db.CreateDownloadSession(done))

	require.NoError(t, s.ClearFinished("bucket", "acct"))

	_, err := db.GetDownloadSession("done1")
	require.Error(t, err)
}
