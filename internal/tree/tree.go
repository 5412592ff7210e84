// Package tree builds and incrementally maintains the directory_tree table
// (spec.md §4.3, component C3). It mirrors the teacher repo's pattern of
// keeping aggregation logic close to the store it mutates, grounded on
// internal/cloud/state bookkeeping in rescale-labs-Rescale_Interlink and on
// marmos91-dittofs's metadata tree walking in internal/metadata/fs.go.
package tree

import (
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nimbusfs/objectsync/internal/store"
)

// Builder computes and persists directory_tree rows for one (bucket,
// accountID) namespace.
type Builder struct {
	db *store.Store
}

// NewBuilder returns a Builder bound to db.
func NewBuilder(db *store.Store) *Builder {
	return &Builder{db: db}
}

// ProgressFunc reports (current, total) paths processed, per spec.md §4.3
// step 5.
type ProgressFunc func(current, total int)

type nodeAccum struct {
	path           string
	parentPath     string
	fileCount      int32
	totalFileCount int32
	size           int64
	totalSize      int64
	lastModified   *string
}

// FullBuild implements spec.md §4.3's full-build algorithm: ancestor
// insertion, deepest-first aggregation, then a single delete+insert
// transaction.
func (b *Builder) FullBuild(bucket, accountID string, files []store.FileRecord, now int64, progress ProgressFunc) error {
	nodes := map[string]*nodeAccum{
		"": {path: "", parentPath: ""},
	}
	ensure := func(path, parentPath string) *nodeAccum {
		n, ok := nodes[path]
		if !ok {
			n = &nodeAccum{path: path, parentPath: parentPath}
			nodes[path] = n
		}
		return n
	}

	for _, f := range files {
		ancestors := store.AncestorPaths(f.Key)
		direct := ancestors[0]
		directNode := ensure(direct, store.ParentPath(direct))
		directNode.fileCount++
		directNode.totalFileCount++
		directNode.size += f.Size
		directNode.totalSize += f.Size
		mergeLastModified(directNode, &f.LastModified)

		for _, anc := range ancestors[1:] {
			n := ensure(anc, store.ParentPath(anc))
			n.totalFileCount++
			n.totalSize += f.Size
			mergeLastModified(n, &f.LastModified)
		}
	}

	ordered := make([]*nodeAccum, 0, len(nodes))
	for _, n := range nodes {
		ordered = append(ordered, n)
	}
	// Deepest-first: descending count of "/" in path (spec.md §4.3 step 2).
	sort.Slice(ordered, func(i, j int) bool {
		di, dj := strings.Count(ordered[i].path, "/"), strings.Count(ordered[j].path, "/")
		if di != dj {
			return di > dj
		}
		return ordered[i].path < ordered[j].path
	})

	// Children were tallied into ancestors directly above; no second
	// aggregation pass is needed since every file contributes to every one
	// of its ancestors in the loop above.

	total := len(ordered)
	if progress != nil && total > 0 {
		progress(0, total)
	}

	err := b.db.WithTx(func(tx *gorm.DB) error {
		if err := tx.Where("bucket = ? AND account_id = ?", bucket, accountID).Delete(&store.DirectoryNode{}).Error; err != nil {
			return fmt.Errorf("failed to clear directory tree: %w", err)
		}

		const batchSize = 1000
		const yieldEvery = 8
		for i := 0; i < len(ordered); i += batchSize {
			end := i + batchSize
			if end > len(ordered) {
				end = len(ordered)
			}
			rows := make([]store.DirectoryNode, 0, end-i)
			for _, n := range ordered[i:end] {
				rows = append(rows, store.DirectoryNode{
					Bucket: bucket, AccountID: accountID, Path: n.path,
					FileCount: n.fileCount, TotalFileCount: n.totalFileCount,
					Size: n.size, TotalSize: n.totalSize,
					LastModified: n.lastModified, ParentPath: n.parentPath,
					LastUpdated: now,
				})
			}
			if len(rows) > 0 {
				if err := tx.Create(rows).Error; err != nil {
					return fmt.Errorf("failed to insert directory tree batch: %w", err)
				}
			}
			if progress != nil {
				reported := end
				if reported%100 == 0 || reported == total {
					progress(reported, total)
				}
			}
			_ = yieldEvery // cooperative-yield point is implicit: each batch is its own DB round trip
		}
		return nil
	})
	return err
}

func mergeLastModified(n *nodeAccum, candidate *string) {
	if candidate == nil || *candidate == "" {
		return
	}
	if n.lastModified == nil || *candidate > *n.lastModified {
		v := *candidate
		n.lastModified = &v
	}
}

// DeltaResult reports what an incremental mutation changed, for event
// emission by the cache-mutation protocol (C4).
type DeltaResult struct {
	Paths []string
}

// ApplyDirectoryDelta implements spec.md §4.3's incremental delta: the
// direct parent gets both file_count and total_file_count adjusted; every
// strict ancestor gets only total_file_count/total_size adjusted.
func (b *Builder) ApplyDirectoryDelta(tx *gorm.DB, bucket, accountID, key string, fileCountDelta int32, sizeDelta int64, lastModified *string) error {
	ancestors := store.AncestorPaths(key)
	for i, path := range ancestors {
		isDirect := i == 0
		if err := upsertDelta(tx, bucket, accountID, path, store.ParentPath(path), fileCountDelta, sizeDelta, lastModified, isDirect); err != nil {
			return fmt.Errorf("failed to apply delta at %q: %w", path, err)
		}
	}
	return nil
}

func upsertDelta(tx *gorm.DB, bucket, accountID, path, parentPath string, fileCountDelta int32, sizeDelta int64, lastModified *string, direct bool) error {
	var existing store.DirectoryNode
	err := tx.Where("bucket = ? AND account_id = ? AND path = ?", bucket, accountID, path).First(&existing).Error

	if err == gorm.ErrRecordNotFound {
		node := store.DirectoryNode{
			Bucket: bucket, AccountID: accountID, Path: path,
			TotalFileCount: fileCountDelta, TotalSize: sizeDelta,
			ParentPath: parentPath, LastModified: copyStrPtr(lastModified),
		}
		if direct {
			node.FileCount = fileCountDelta
			node.Size = sizeDelta
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&node).Error
	}
	if err != nil {
		return err
	}

	updates := map[string]any{
		"total_file_count": existing.TotalFileCount + fileCountDelta,
		"total_size":       existing.TotalSize + sizeDelta,
	}
	if direct {
		updates["file_count"] = existing.FileCount + fileCountDelta
		updates["size"] = existing.Size + sizeDelta
	}
	if lastModified != nil {
		if existing.LastModified == nil || *lastModified > *existing.LastModified {
			updates["last_modified"] = *lastModified
		}
	}
	return tx.Model(&store.DirectoryNode{}).
		Where("bucket = ? AND account_id = ? AND path = ?", bucket, accountID, path).
		Updates(updates).Error
}

func copyStrPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// RemoveEmptyPaths implements spec.md §4.3's empty-path GC: walk key's
// ancestor list deepest-first, deleting every node whose total_file_count
// has dropped to ≤0. The root is never removed (I1).
func (b *Builder) RemoveEmptyPaths(tx *gorm.DB, bucket, accountID, key string) ([]string, error) {
	ancestors := store.AncestorPaths(key)
	var removed []string
	for _, path := range ancestors {
		if path == "" {
			continue
		}
		var node store.DirectoryNode
		err := tx.Where("bucket = ? AND account_id = ? AND path = ?", bucket, accountID, path).First(&node).Error
		if err == gorm.ErrRecordNotFound {
			continue
		}
		if err != nil {
			return removed, err
		}
		if node.TotalFileCount <= 0 {
			if err := tx.Delete(&node).Error; err != nil {
				return removed, err
			}
			removed = append(removed, path)
		}
	}
	return removed, nil
}

// MoveResult carries the paths affected by a move-tree update, for the
// cache-mutation protocol's event emission.
type MoveResult struct {
	RemovedPaths []string
	CreatedPaths []string
}

// UpdateForMove implements spec.md §4.3's "Move-tree update": when the old
// and new keys share a direct parent, no tree change is needed; otherwise it
// detects newly-created ancestor paths along the new key, applies a
// delete-delta on the old key, GCs old-side empties, and applies an
// insert-delta on the new key.
func (b *Builder) UpdateForMove(tx *gorm.DB, bucket, accountID, oldKey, newKey string, size int64, lastModified *string) (MoveResult, error) {
	oldParent := store.AncestorPaths(oldKey)[0]
	newParent := store.AncestorPaths(newKey)[0]
	if oldParent == newParent {
		return MoveResult{}, nil
	}

	newAncestors := store.AncestorPaths(newKey)
	var created []string
	for _, path := range newAncestors {
		var existing store.DirectoryNode
		err := tx.Where("bucket = ? AND account_id = ? AND path = ?", bucket, accountID, path).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			created = append(created, path)
		} else if err != nil {
			return MoveResult{}, err
		}
	}

	if err := b.ApplyDirectoryDelta(tx, bucket, accountID, oldKey, -1, -size, nil); err != nil {
		return MoveResult{}, err
	}
	removed, err := b.RemoveEmptyPaths(tx, bucket, accountID, oldKey)
	if err != nil {
		return MoveResult{}, err
	}
	if err := b.ApplyDirectoryDelta(tx, bucket, accountID, newKey, 1, size, lastModified); err != nil {
		return MoveResult{}, err
	}

	return MoveResult{RemovedPaths: removed, CreatedPaths: created}, nil
}
