package store

import (
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// fileInsertChunkSize caps rows per INSERT to stay under SQLite's bound
// parameter-count limit, per spec.md §4.2.
const fileInsertChunkSize = 500

// FileRecord is the caller-facing shape for a listed remote object, used by
// StoreAllFiles and the tree builder.
type FileRecord struct {
	Key          string
	Size         int64
	LastModified string // RFC3339, UTC-normalized
}

// StoreAllFiles replaces the entire file set for (bucket, accountID) and
// refreshes sync_meta, inside one transaction with chunked inserts.
func (s *Store) StoreAllFiles(bucket, accountID string, files []FileRecord, syncedAt int64) error {
	return s.WithTx(func(tx *gorm.DB) error {
		if err := tx.Where("bucket = ? AND account_id = ?", bucket, accountID).Delete(&CachedFile{}).Error; err != nil {
			return fmt.Errorf("failed to clear cached files: %w", err)
		}

		var totalSize int64
		rows := make([]CachedFile, 0, len(files))
		for _, f := range files {
			rows = append(rows, CachedFile{
				Bucket: bucket, AccountID: accountID, Key: f.Key,
				Size: f.Size, LastModified: f.LastModified, SyncedAt: syncedAt,
			})
			totalSize += f.Size
		}

		for i := 0; i < len(rows); i += fileInsertChunkSize {
			end := i + fileInsertChunkSize
			if end > len(rows) {
				end = len(rows)
			}
			if err := tx.Create(rows[i:end]).Error; err != nil {
				return fmt.Errorf("failed to insert cached files batch: %w", err)
			}
		}

		meta := SyncMeta{
			Bucket: bucket, AccountID: accountID,
			LastSyncedAt: syncedAt, ObjectCount: int64(len(files)), TotalSize: totalSize,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bucket"}, {Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_synced_at", "object_count", "total_size"}),
		}).Create(&meta).Error; err != nil {
			return fmt.Errorf("failed to update sync meta: %w", err)
		}
		return nil
	})
}

// GetAllCachedFiles returns every file for (bucket, accountID) ordered by
// key ascending.
func (s *Store) GetAllCachedFiles(bucket, accountID string) ([]CachedFile, error) {
	var rows []CachedFile
	err := s.db.Where("bucket = ? AND account_id = ?", bucket, accountID).
		Order("key ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list cached files: %w", err)
	}
	return rows, nil
}

// GetCachedFileSize returns the size of key, or 0 if absent.
func (s *Store) GetCachedFileSize(bucket, accountID, key string) (int64, error) {
	var row CachedFile
	err := s.db.Where("bucket = ? AND account_id = ? AND key = ?", bucket, accountID, key).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cached file size: %w", err)
	}
	return row.Size, nil
}

// SearchCachedFiles performs a case-insensitive AND-match over
// whitespace-separated terms in query. An empty query returns no results
// (spec.md §8 B3).
func (s *Store) SearchCachedFiles(bucket, accountID, query string) ([]CachedFile, error) {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, nil
	}

	q := s.db.Where("bucket = ? AND account_id = ?", bucket, accountID)
	for _, term := range terms {
		q = q.Where("LOWER(key) LIKE ?", "%"+strings.ToLower(term)+"%")
	}

	var rows []CachedFile
	if err := q.Order("key ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to search cached files: %w", err)
	}
	return rows, nil
}

// CalculateFolderSize sums size over every key that starts with prefix.
func (s *Store) CalculateFolderSize(bucket, accountID, prefix string) (int64, error) {
	var total int64
	err := s.db.Model(&CachedFile{}).
		Where("bucket = ? AND account_id = ? AND key LIKE ? ESCAPE '\\'", bucket, accountID, escapeLike(prefix)+"%").
		Select("COALESCE(SUM(size), 0)").Row().Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to calculate folder size: %w", err)
	}
	return total, nil
}

// DeleteCachedFile removes one file row, returning its size if it existed.
func (s *Store) DeleteCachedFile(bucket, accountID, key string) (*int64, error) {
	var size *int64
	err := s.WithTx(func(tx *gorm.DB) error {
		var e error
		size, e = TxDeleteCachedFile(tx, bucket, accountID, key)
		return e
	})
	return size, err
}

// TxDeleteCachedFile is the transaction-scoped core of DeleteCachedFile, for
// callers (the cache-mutation protocol) that must combine it with a
// directory-tree update in the same commit.
func TxDeleteCachedFile(tx *gorm.DB, bucket, accountID, key string) (*int64, error) {
	var row CachedFile
	err := tx.Where("bucket = ? AND account_id = ? AND key = ?", bucket, accountID, key).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up cached file: %w", err)
	}
	if err := tx.Delete(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to delete cached file: %w", err)
	}
	size := row.Size
	return &size, nil
}

// DeleteCachedFilesBatch removes many file rows at once, returning a map of
// key to the size it had before deletion.
func (s *Store) DeleteCachedFilesBatch(bucket, accountID string, keys []string) (map[string]int64, error) {
	if len(keys) == 0 {
		return map[string]int64{}, nil
	}
	var result map[string]int64
	err := s.WithTx(func(tx *gorm.DB) error {
		var e error
		result, e = TxDeleteCachedFilesBatch(tx, bucket, accountID, keys)
		return e
	})
	return result, err
}

// TxDeleteCachedFilesBatch is the transaction-scoped core of
// DeleteCachedFilesBatch.
func TxDeleteCachedFilesBatch(tx *gorm.DB, bucket, accountID string, keys []string) (map[string]int64, error) {
	result := make(map[string]int64)
	if len(keys) == 0 {
		return result, nil
	}
	var rows []CachedFile
	if err := tx.Where("bucket = ? AND account_id = ? AND key IN ?", bucket, accountID, keys).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to look up cached files: %w", err)
	}
	for _, row := range rows {
		result[row.Key] = row.Size
	}
	if err := tx.Where("bucket = ? AND account_id = ? AND key IN ?", bucket, accountID, keys).Delete(&CachedFile{}).Error; err != nil {
		return nil, fmt.Errorf("failed to delete cached files: %w", err)
	}
	return result, nil
}

// MoveCachedFile atomically renames one file row from oldKey to newKey,
// returning its size and last-modified timestamp.
func (s *Store) MoveCachedFile(bucket, accountID, oldKey, newKey string) (size int64, lastModified string, err error) {
	err = s.WithTx(func(tx *gorm.DB) error {
		var e error
		size, lastModified, e = TxMoveCachedFile(tx, bucket, accountID, oldKey, newKey)
		return e
	})
	return size, lastModified, err
}

// TxMoveCachedFile is the transaction-scoped core of MoveCachedFile.
func TxMoveCachedFile(tx *gorm.DB, bucket, accountID, oldKey, newKey string) (size int64, lastModified string, err error) {
	var row CachedFile
	e := tx.Where("bucket = ? AND account_id = ? AND key = ?", bucket, accountID, oldKey).First(&row).Error
	if e == gorm.ErrRecordNotFound {
		return 0, "", fmt.Errorf("source file not found: %s", oldKey)
	}
	if e != nil {
		return 0, "", fmt.Errorf("failed to look up source file: %w", e)
	}
	size = row.Size
	lastModified = row.LastModified

	if e := tx.Model(&CachedFile{}).
		Where("bucket = ? AND account_id = ? AND key = ?", bucket, accountID, oldKey).
		Update("key", newKey).Error; e != nil {
		return 0, "", fmt.Errorf("failed to rename cached file: %w", e)
	}
	return size, lastModified, nil
}

// UpdateCachedFile upserts (bucket, accountID, key) with newSize and
// lastModified, returning the size delta (newSize minus old size, or
// newSize when the row is new) and whether the row was newly created.
func (s *Store) UpdateCachedFile(bucket, accountID, key string, newSize int64, lastModified string, syncedAt int64) (sizeDelta int64, isNew bool, err error) {
	err = s.WithTx(func(tx *gorm.DB) error {
		var e error
		sizeDelta, isNew, e = TxUpdateCachedFile(tx, bucket, accountID, key, newSize, lastModified, syncedAt)
		return e
	})
	return sizeDelta, isNew, err
}

// TxUpdateCachedFile is the transaction-scoped core of UpdateCachedFile.
func TxUpdateCachedFile(tx *gorm.DB, bucket, accountID, key string, newSize int64, lastModified string, syncedAt int64) (sizeDelta int64, isNew bool, err error) {
	var row CachedFile
	e := tx.Where("bucket = ? AND account_id = ? AND key = ?", bucket, accountID, key).First(&row).Error
	switch {
	case e == gorm.ErrRecordNotFound:
		return newSize, true, tx.Create(&CachedFile{
			Bucket: bucket, AccountID: accountID, Key: key,
			Size: newSize, LastModified: lastModified, SyncedAt: syncedAt,
		}).Error
	case e != nil:
		return 0, false, fmt.Errorf("failed to look up cached file: %w", e)
	default:
		delta := newSize - row.Size
		updErr := tx.Model(&row).Updates(map[string]any{
			"size": newSize, "last_modified": lastModified, "synced_at": syncedAt,
		}).Error
		return delta, false, updErr
	}
}

// GetUniqueParentPaths returns the deduplicated set of ancestor prefixes for
// the given keys, always including the root "" (spec.md §8 B1/B2).
func GetUniqueParentPaths(keys []string) []string {
	seen := map[string]struct{}{"": {}}
	var out []string
	out = append(out, "")
	for _, key := range keys {
		for _, p := range AncestorPaths(key) {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out
}

// AncestorPaths returns every ancestor prefix of key, deepest first, not
// including key itself but including the root "" last.
func AncestorPaths(key string) []string {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return []string{""}
	}
	var paths []string
	dir := key[:idx+1]
	for {
		paths = append(paths, dir)
		if dir == "" {
			break
		}
		parentIdx := strings.LastIndex(dir[:len(dir)-1], "/")
		if parentIdx < 0 {
			dir = ""
		} else {
			dir = dir[:parentIdx+1]
		}
	}
	if len(paths) == 0 || paths[len(paths)-1] != "" {
		paths = append(paths, "")
	}
	return paths
}

// ParentPath returns the direct parent prefix of path ("" for root or a
// top-level entry).
func ParentPath(path string) string {
	if path == "" {
		return ""
	}
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return ""
	}
	return trimmed[:idx+1]
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}
