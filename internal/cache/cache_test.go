package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nimbusfs/objectsync/internal/cache"
	"github.com/nimbusfs/objectsync/internal/events"
	"github.com/nimbusfs/objectsync/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func recvEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// Scenario 1 (partial): upload success applies the cache mutation and emits
// cache-updated{action:"update"} with the file's full-ancestor affected
// paths.
func TestUpdateCacheAfterUpload(t *testing.T) {
	db := openTestStore(t)
	bus := events.NewBus(16)
	ch := bus.Subscribe(events.TypeCacheUpdated)
	m := cache.New(db, bus, func() int64 { return 42 })

	err := m.UpdateCacheAfterUpload("bucket", "acct", "docs/x.bin", 150, "2024-01-01T00:00:00Z")
	require.NoError(t, err)

	ev := recvEvent(t, ch).(*events.CacheUpdatedEvent)
	require.Equal(t, "update", ev.Action)
	require.ElementsMatch(t, []string{"", "docs/"}, ev.AffectedPaths)

	size, err := db.GetCachedFileSize("bucket", "acct", "docs/x.bin")
	require.NoError(t, err)
	require.Equal(t, int64(150), size)
}

// Scenario 3: delete of the only file under a/b/ emits paths-removed
// deepest-first, then cache-updated{action:"delete", affected_paths:["","a/","a/b/"]}.
func TestUpdateCacheAfterDeleteEmitsPathsRemoved(t *testing.T) {
	db := openTestStore(t)
	bus := events.NewBus(16)
	removedCh := bus.Subscribe(events.TypePathsRemoved)
	updatedCh := bus.Subscribe(events.TypeCacheUpdated)
	m := cache.New(db, bus, func() int64 { return 1 })

	require.NoError(t, m.UpdateCacheAfterUpload("bucket", "acct", "a/b/c.txt", 10, "2024-01-01T00:00:00Z"))
	// Drain the upload's cache-updated event.
	<-updatedCh

	require.NoError(t, m.UpdateCacheAfterDelete("bucket", "acct", "a/b/c.txt"))

	removed := recvEvent(t, removedCh).(*events.PathsRemovedEvent)
	require.Equal(t, []string{"a/b/", "a/"}, removed.RemovedPaths)

	updated := recvEvent(t, updatedCh).(*events.CacheUpdatedEvent)
	require.Equal(t, "delete", updated.Action)
	require.Equal(t, []string{"", "a/", "a/b/"}, updated.AffectedPaths)

	size, err := db.GetCachedFileSize("bucket", "acct", "a/b/c.txt")
	require.NoError(t, err)
	require.Equal(t, int64(0), size)
}

// Deleting a key with no cached row is a no-op: no paths-removed event and
// no error.
func TestUpdateCacheAfterDeleteMissingKeyIsNoOp(t *testing.T) {
	db := openTestStore(t)
	bus := events.NewBus(16)
	removedCh := bus.Subscribe(events.TypePathsRemoved)
	updatedCh := bus.Subscribe(events.TypeCacheUpdated)
	m := cache.New(db, bus, func() int64 { return 1 })

	require.NoError(t, m.UpdateCacheAfterDelete("bucket", "acct", "missing.txt"))

	updated := recvEvent(t, updatedCh).(*events.CacheUpdatedEvent)
	require.Equal(t, "delete", updated.Action)
	select {
	case <-removedCh:
		t.Fatal("expected no paths-removed event")
	default:
	}
}

// Same-provider move emits paths-removed, paths-created, then
// cache-updated{action:"move"}.
func TestUpdateCacheAfterMove(t *testing.T) {
	db := openTestStore(t)
	bus := events.NewBus(16)
	removedCh := bus.Subscribe(events.TypePathsRemoved)
	createdCh := bus.Subscribe(events.TypePathsCreated)
	updatedCh := bus.Subscribe(events.TypeCacheUpdated)
	m := cache.New(db, bus, func() int64 { return 1 })

	require.NoError(t, m.UpdateCacheAfterUpload("bucket", "acct", "old/file.txt", 20, "2024-01-01T00:00:00Z"))
	<-updatedCh

	require.NoError(t, m.UpdateCacheAfterMove("bucket", "acct", "old/file.txt", "newdir/file.txt"))

	removed := recvEvent(t, removedCh).(*events.PathsRemovedEvent)
	require.Contains(t, removed.RemovedPaths, "old/")
	created := recvEvent(t, createdCh).(*events.PathsCreatedEvent)
	require.Contains(t, created.CreatedPaths, "newdir/")
	updated := recvEvent(t, updatedCh).(*events.CacheUpdatedEvent)
	require.Equal(t, "move", updated.Action)
	require.Equal(t, []string{"", "newdir/", "old/"}, updated.AffectedPaths)
}

// Cross-provider move with delete_original runs the destination upload
// mutation followed by the source delete mutation.
func TestUpdateCacheAfterCrossProviderMoveWithDelete(t *testing.T) {
	db := openTestStore(t)
	bus := events.NewBus(16)
	updatedCh := bus.Subscribe(events.TypeCacheUpdated)
	m := cache.New(db, bus, func() int64 { return 1 })

	require.NoError(t, m.UpdateCacheAfterUpload("src-bucket", "src-acct", "src/big.mp4", 200, "2024-01-01T00:00:00Z"))
	<-updatedCh

	err := m.UpdateCacheAfterCrossProviderMove(
		"dst-bucket", "dst-acct", "dst/big.mp4", 200, "2024-02-01T00:00:00Z",
		"src-bucket", "src-acct", "src/big.mp4", true,
	)
	require.NoError(t, err)

	first := recvEvent(t, updatedCh).(*events.CacheUpdatedEvent)
	require.Equal(t, "update", first.Action)
	second := recvEvent(t, updatedCh).(*events.CacheUpdatedEvent)
	require.Equal(t, "delete", second.Action)

	dstSize, err := db.GetCachedFileSize("dst-bucket", "dst-acct", "dst/big.mp4")
	require.NoError(t, err)
	require.Equal(t, int64(200), dstSize)
	srcSize, err := db.GetCachedFileSize("src-bucket", "src-acct", "src/big.mp4")
	require.NoError(t, err)
	require.Equal(t, int64(0), srcSize)
}

// Batch delete coalesces into one paths-removed union, one cache-updated.
func TestUpdateCacheAfterDeleteBatch(t *testing.T) {
	db := openTestStore(t)
	bus := events.NewBus(16)
	removedCh := bus.Subscribe(events.TypePathsRemoved)
	updatedCh := bus.Subscribe(events.TypeCacheUpdated)
	m := cache.New(db, bus, func() int64 { return 1 })

	require.NoError(t, m.UpdateCacheAfterUpload("bucket", "acct", "a/b/c.txt", 1, "2024-01-01T00:00:00Z"))
	<-updatedCh
	require.NoError(t, m.UpdateCacheAfterUpload("bucket", "acct", "a/b/d.txt", 1, "2024-01-01T00:00:00Z"))
	<-updatedCh

	require.NoError(t, m.UpdateCacheAfterDeleteBatch("bucket", "acct", []string{"a/b/c.txt", "a/b/d.txt"}))

	removed := recvEvent(t, removedCh).(*events.PathsRemovedEvent)
	require.ElementsMatch(t, []string{"a/b/", "a/"}, removed.RemovedPaths)
	updated := recvEvent(t, updatedCh).(*events.CacheUpdatedEvent)
	require.Equal(t, "delete", updated.Action)
	require.Equal(t, []string{"", "a/", "a/b/"}, updated.AffectedPaths)
}

// An empty batch delete is a no-op: no events, no error (spec.md §8 B5).
func TestUpdateCacheAfterDeleteBatchEmpty(t *testing.T) {
	db := openTestStore(t)
	bus := events.NewBus(16)
	updatedCh := bus.Subscribe(events.TypeCacheUpdated)
	m := cache.New(db, bus, func() int64 { return 1 })

	require.NoError(t, m.UpdateCacheAfterDeleteBatch("bucket", "acct", nil))
	select {
	case <-updatedCh:
		t.Fatal("expected no cache-updated event for an empty batch")
	case <-time.After(50 * time.Millisecond):
	}
}
