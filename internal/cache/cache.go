// Package cache implements the cache-mutation protocol (spec.md §4.4,
// component C4): after every transfer outcome commits, it updates the
// cached-file row and directory tree together in one transaction, then
// emits the matching event. Grounded in the teacher repo's pattern of a
// single post-transfer hook (internal/transfer/task.go's completion
// callback) that both persists state and notifies the UI.
package cache

import (
	"sort"

	"gorm.io/gorm"

	"github.com/nimbusfs/objectsync/internal/events"
	"github.com/nimbusfs/objectsync/internal/store"
	"github.com/nimbusfs/objectsync/internal/tree"
)

// Mutator applies cache mutations and emits the resulting events.
type Mutator struct {
	db      *store.Store
	tree    *tree.Builder
	bus     *events.Bus
	nowFunc func() int64
}

// New returns a Mutator bound to db and bus. nowFunc supplies the current
// unix timestamp (injectable for tests).
func New(db *store.Store, bus *events.Bus, nowFunc func() int64) *Mutator {
	return &Mutator{db: db, tree: tree.NewBuilder(db), bus: bus, nowFunc: nowFunc}
}

// AffectedPaths computes the set of non-file ancestor prefixes of keys,
// always including the root "" (spec.md §4.4).
func AffectedPaths(keys []string) []string {
	return store.GetUniqueParentPaths(keys)
}

// UpdateCacheAfterUpload implements spec.md §4.4's upload-success hook.
func (m *Mutator) UpdateCacheAfterUpload(bucket, accountID, key string, newSize int64, lastModified string) error {
	var affected []string
	err := m.db.WithTx(func(tx *gorm.DB) error {
		sizeDelta, isNew, err := store.TxUpdateCachedFile(tx, bucket, accountID, key, newSize, lastModified, m.now())
		if err != nil {
			return err
		}
		fileCountDelta := int32(0)
		if isNew {
			fileCountDelta = 1
		}
		lm := lastModified
		if err := m.tree.ApplyDirectoryDelta(tx, bucket, accountID, key, fileCountDelta, sizeDelta, &lm); err != nil {
			return err
		}
		affected = AffectedPaths([]string{key})
		return nil
	})
	if err != nil {
		return err
	}
	m.bus.Publish(&events.CacheUpdatedEvent{
		Base:          events.Base{EventType: events.TypeCacheUpdated},
		Action:        "update",
		AffectedPaths: affected,
	})
	return nil
}

// UpdateCacheAfterDelete implements spec.md §4.4's delete-success hook.
func (m *Mutator) UpdateCacheAfterDelete(bucket, accountID, key string) error {
	var removed []string
	var affected []string
	err := m.db.WithTx(func(tx *gorm.DB) error {
		size, err := store.TxDeleteCachedFile(tx, bucket, accountID, key)
		if err != nil {
			return err
		}
		if size == nil {
			return nil
		}
		if err := m.tree.ApplyDirectoryDelta(tx, bucket, accountID, key, -1, -*size, nil); err != nil {
			return err
		}
		removed, err = m.tree.RemoveEmptyPaths(tx, bucket, accountID, key)
		if err != nil {
			return err
		}
		affected = AffectedPaths([]string{key})
		return nil
	})
	if err != nil {
		return err
	}
	if len(removed) > 0 {
		m.bus.Publish(&events.PathsRemovedEvent{
			Base:  events.Base{EventType: events.TypePathsRemoved},
			RemovedPaths: removed,
		})
	}
	m.bus.Publish(&events.CacheUpdatedEvent{
		Base:          events.Base{EventType: events.TypeCacheUpdated},
		Action:        "delete",
		AffectedPaths: affected,
	})
	return nil
}

// UpdateCacheAfterDeleteBatch implements spec.md §4.4's coalesced
// batch-delete hook: one deepest-first union of removed ancestors, one
// emission.
func (m *Mutator) UpdateCacheAfterDeleteBatch(bucket, accountID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	removedSet := map[string]struct{}{}
	var deletedKeys []string
	err := m.db.WithTx(func(tx *gorm.DB) error {
		sizes, err := store.TxDeleteCachedFilesBatch(tx, bucket, accountID, keys)
		if err != nil {
			return err
		}
		for key, size := range sizes {
			if err := m.tree.ApplyDirectoryDelta(tx, bucket, accountID, key, -1, -size, nil); err != nil {
				return err
			}
		}
		for key := range sizes {
			deletedKeys = append(deletedKeys, key)
			removed, err := m.tree.RemoveEmptyPaths(tx, bucket, accountID, key)
			if err != nil {
				return err
			}
			for _, p := range removed {
				removedSet[p] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	removed := make([]string, 0, len(removedSet))
	for p := range removedSet {
		removed = append(removed, p)
	}
	// deepest-first: longest path first.
	sort.Slice(removed, func(i, j int) bool { return len(removed[i]) > len(removed[j]) })

	if len(removed) > 0 {
		m.bus.Publish(&events.PathsRemovedEvent{
			Base:  events.Base{EventType: events.TypePathsRemoved},
			RemovedPaths: removed,
		})
	}
	m.bus.Publish(&events.CacheUpdatedEvent{
		Base:          events.Base{EventType: events.TypeCacheUpdated},
		Action:        "delete",
		AffectedPaths: AffectedPaths(deletedKeys),
	})
	return nil
}

// UpdateCacheAfterMove implements spec.md §4.4's same-provider move hook:
// rename the cached-file row, update the tree, emit paths-removed,
// paths-created, then cache-updated.
func (m *Mutator) UpdateCacheAfterMove(bucket, accountID, oldKey, newKey string) error {
	var moveResult tree.MoveResult
	err := m.db.WithTx(func(tx *gorm.DB) error {
		size, lastModified, err := store.TxMoveCachedFile(tx, bucket, accountID, oldKey, newKey)
		if err != nil {
			return err
		}
		lm := lastModified
		moveResult, err = m.tree.UpdateForMove(tx, bucket, accountID, oldKey, newKey, size, &lm)
		return err
	})
	if err != nil {
		return err
	}

	if len(moveResult.RemovedPaths) > 0 {
		m.bus.Publish(&events.PathsRemovedEvent{
			Base:  events.Base{EventType: events.TypePathsRemoved},
			RemovedPaths: moveResult.RemovedPaths,
		})
	}
	if len(moveResult.CreatedPaths) > 0 {
		m.bus.Publish(&events.PathsCreatedEvent{
			Base:  events.Base{EventType: events.TypePathsCreated},
			CreatedPaths: moveResult.CreatedPaths,
		})
	}
	m.bus.Publish(&events.CacheUpdatedEvent{
		Base:          events.Base{EventType: events.TypeCacheUpdated},
		Action:        "move",
		AffectedPaths: AffectedPaths([]string{oldKey, newKey}),
	})
	return nil
}

// UpdateCacheAfterCrossProviderMove implements spec.md §4.4's
// cross-provider move hook: the destination side runs the upload-cache
// mutation, and (if deleteOriginal) the source side runs the delete-cache
// mutation.
func (m *Mutator) UpdateCacheAfterCrossProviderMove(
	destBucket, destAccountID, destKey string, size int64, lastModified string,
	sourceBucket, sourceAccountID, sourceKey string, deleteOriginal bool,
) error {
	if err := m.UpdateCacheAfterUpload(destBucket, destAccountID, destKey, size, lastModified); err != nil {
		return err
	}
	if deleteOriginal {
		return m.UpdateCacheAfterDelete(sourceBucket, sourceAccountID, sourceKey)
	}
	return nil
}

func (m *Mutator) now() int64 {
	if m.nowFunc != nil {
		return m.nowFunc()
	}
	return 0
}
