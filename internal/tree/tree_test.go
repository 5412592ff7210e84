package tree_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nimbusfs/objectsync/internal/store"
	"github.com/nimbusfs/objectsync/internal/tree"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func getNode(t *testing.T, db *store.Store, bucket, account, path string) store.DirectoryNode {
	t.Helper()
	var n store.DirectoryNode
	err := db.DB().Where("bucket = ? AND account_id = ? AND path = ?", bucket, account, path).First(&n).Error
	require.NoError(t, err)
	return n
}

func nodeExists(db *store.Store, bucket, account, path string) bool {
	var n store.DirectoryNode
	err := db.DB().Where("bucket = ? AND account_id = ? AND path = ?", bucket, account, path).First(&n).Error
	return err == nil
}

// Full build over a small file set must satisfy I1-I5 (spec.md §3, property
// P1/P2 of §8).
func TestFullBuildInvariants(t *testing.T) {
	db := openTestStore(t)
	b := tree.NewBuilder(db)

	files := []store.FileRecord{
		{Key: "a/b/c.txt", Size: 10, LastModified: "2024-01-01T00:00:00Z"},
		{Key: "a/b/d.txt", Size: 20, LastModified: "2024-02-01T00:00:00Z"},
		{Key: "a/e.txt", Size: 5, LastModified: "2024-03-01T00:00:00Z"},
		{Key: "top.txt", Size: 1, LastModified: "2024-01-15T00:00:00Z"},
	}

	var progressCalls [][2]int
	err := b.FullBuild("bucket", "acct", files, 1000, func(cur, total int) {
		progressCalls = append(progressCalls, [2]int{cur, total})
	})
	require.NoError(t, err)
	require.NotEmpty(t, progressCalls)

	root := getNode(t, db, "bucket", "acct", "")
	require.Equal(t, int32(1), root.FileCount) // top.txt only
	require.Equal(t, int32(4), root.TotalFileCount)
	require.Equal(t, int64(1), root.Size)
	require.Equal(t, int64(36), root.TotalSize)
	require.NotNil(t, root.LastModified)
	require.Equal(t, "2024-03-01T00:00:00Z", *root.LastModified) // max across all descendants

	a := getNode(t, db, "bucket", "acct", "a/")
	require.Equal(t, int32(1), a.FileCount) // a/e.txt only
	require.Equal(t, int32(3), a.TotalFileCount)
	require.Equal(t, int64(5), a.Size)
	require.Equal(t, int64(35), a.TotalSize)
	require.Equal(t, "", a.ParentPath)

	ab := getNode(t, db, "bucket", "acct", "a/b/")
	require.Equal(t, int32(2), ab.FileCount)
	require.Equal(t, int32(2), ab.TotalFileCount)
	require.Equal(t, int64(30), ab.Size)
	require.Equal(t, int64(30), ab.TotalSize)
	require.Equal(t, "a/", ab.ParentPath)
}

// P4: store_all_files + build_directory_tree then a sequence of incremental
// deltas must produce the same tree as a fresh full build of the mutated
// file set.
func TestIncrementalDeltaEquivalentToFreshBuild(t *testing.T) {
	db := openTestStore(t)
	b := tree.NewBuilder(db)

	initial := []store.FileRecord{
		{Key: "a/b/c.txt", Size: 10, LastModified: "2024-01-01T00:00:00Z"},
		{Key: "a/e.txt", Size: 5, LastModified: "2024-01-02T00:00:00Z"},
	}
	require.NoError(t, b.FullBuild("bucket", "acct", initial, 1000, nil))

	lm := "2024-05-01T00:00:00Z"
	err := db.WithTx(func(tx *gorm.DB) error {
		return b.ApplyDirectoryDelta(tx, "bucket", "acct", "a/b/new.txt", 1, 40, &lm)
	})
	require.NoError(t, err)

	mutated := append(append([]store.FileRecord{}, initial...), store.FileRecord{
		Key: "a/b/new.txt", Size: 40, LastModified: lm,
	})
	db2 := openTestStore(t)
	b2 := tree.NewBuilder(db2)
	require.NoError(t, b2.FullBuild("bucket", "acct", mutated, 1000, nil))

	for _, path := range []string{"", "a/", "a/b/"} {
		n1 := getNode(t, db, "bucket", "acct", path)
		n2 := getNode(t, db2, "bucket", "acct", path)
		require.Equal(t, n2.FileCount, n1.FileCount, path)
		require.Equal(t, n2.TotalFileCount, n1.TotalFileCount, path)
		require.Equal(t, n2.Size, n1.Size, path)
		require.Equal(t, n2.TotalSize, n1.TotalSize, path)
		require.Equal(t, n2.LastModified, n1.LastModified, path)
	}
}

// Scenario 3: delete the only file under a/b/, expect a/b/ and a/ removed
// deepest-first, root remains (I1, I6).
func TestRemoveEmptyPathsDeepestFirst(t *testing.T) {
	db := openTestStore(t)
	b := tree.NewBuilder(db)

	files := []store.FileRecord{{Key: "a/b/c.txt", Size: 10, LastModified: "2024-01-01T00:00:00Z"}}
	require.NoError(t, b.FullBuild("bucket", "acct", files, 1000, nil))

	var removed []string
	err := db.WithTx(func(tx *gorm.DB) error {
		if err := b.ApplyDirectoryDelta(tx, "bucket", "acct", "a/b/c.txt", -1, -10, nil); err != nil {
			return err
		}
		var e error
		removed, e = b.RemoveEmptyPaths(tx, "bucket", "acct", "a/b/c.txt")
		return e
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a/b/", "a/"}, removed)

	require.True(t, nodeExists(db, "bucket", "acct", ""))
	require.False(t, nodeExists(db, "bucket", "acct", "a/"))
	require.False(t, nodeExists(db, "bucket", "acct", "a/b/"))
}

// When a delta's last_modified is None (delete path), ancestor last_modified
// must not be touched.
func TestApplyDirectoryDeltaDeleteDoesNotTouchLastModified(t *testing.T) {
	db := openTestStore(t)
	b := tree.NewBuilder(db)

	files := []store.FileRecord{
		{Key: "a/b.txt", Size: 10, LastModified: "2024-06-01T00:00:00Z"},
		{Key: "a/c.txt", Size: 5, LastModified: "2024-01-01T00:00:00Z"},
	}
	require.NoError(t, b.FullBuild("bucket", "acct", files, 1000, nil))

	err := db.WithTx(func(tx *gorm.DB) error {
		return b.ApplyDirectoryDelta(tx, "bucket", "acct", "a/c.txt", -1, -5, nil)
	})
	require.NoError(t, err)

	a := getNode(t, db, "bucket", "acct", "a/")
	require.NotNil(t, a.LastModified)
	require.Equal(t, "2024-06-01T00:00:00Z", *a.LastModified)
}

// Move-tree update: same direct parent requires no tree change.
func TestUpdateForMoveSameParentNoOp(t *testing.T) {
	db := openTestStore(t)
	b := tree.NewBuilder(db)
	files := []store.FileRecord{{Key: "a/old.txt", Size: 10, LastModified: "2024-01-01T00:00:00Z"}}
	require.NoError(t, b.FullBuild("bucket", "acct", files, 1000, nil))

	var result tree.MoveResult
	err := db.WithTx(func(tx *gorm.DB) error {
		var e error
		result, e = b.UpdateForMove(tx, "bucket", "acct", "a/old.txt", "a/new.txt", 10, nil)
		return e
	})
	require.NoError(t, err)
	require.Empty(t, result.RemovedPaths)
	require.Empty(t, result.CreatedPaths)
}

// Move across a new parent path must create the new ancestor and GC any
// empty old ancestor.
func TestUpdateForMoveDifferentParent(t *testing.T) {
	db := openTestStore(t)
	b := tree.NewBuilder(db)
	files := []store.FileRecord{{Key: "old/file.txt", Size: 10, LastModified: "2024-01-01T00:00:00Z"}}
	require.NoError(t, b.FullBuild("bucket", "acct", files, 1000, nil))

	lm := "2024-07-01T00:00:00Z"
	var result tree.MoveResult
	err := db.WithTx(func(tx *gorm.DB) error {
		var e error
		result, e = b.UpdateForMove(tx, "bucket", "acct", "old/file.txt", "newdir/file.txt", 10, &lm)
		return e
	})
	require.NoError(t, err)
	require.Contains(t, result.RemovedPaths, "old/")
	require.Contains(t, result.CreatedPaths, "newdir/")

	require.False(t, nodeExists(db, "bucket", "acct", "old/"))
	require.True(t, nodeExists(db, "bucket", "acct", "newdir/"))
	newdir := getNode(t, db, "bucket", "acct", "newdir/")
	require.Equal(t, int32(1), newdir.TotalFileCount)
	require.Equal(t, int64(10), newdir.TotalSize)
}
