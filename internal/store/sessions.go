package store

import (
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sweepAgeSeconds is the age after which terminal sessions are garbage collected,
// per spec.md §4.5/§4.6/§4.7.
const sweepAgeSeconds = 7 * 24 * 60 * 60

// --- Upload sessions -------------------------------------------------------

// FindResumableUpload probes for a session matching all six identity fields
// (spec.md §4.5 "Session identity") that is still `uploading` with a
// non-null upload id (property P7).
func (s *Store) FindResumableUpload(filePath string, fileSize, fileMtime int64, objectKey, bucket, accountID string) (*UploadSession, error) {
	var row UploadSession
	err := s.db.Where(
		"file_path = ? AND file_size = ? AND file_mtime = ? AND object_key = ? AND bucket = ? AND account_id = ? AND status = ? AND upload_id != ''",
		filePath, fileSize, fileMtime, objectKey, bucket, accountID, UploadUploading,
	).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to probe resumable upload: %w", err)
	}
	return &row, nil
}

// CreateUploadSession persists a new multipart upload session.
func (s *Store) CreateUploadSession(session *UploadSession) error {
	return s.WithTx(func(tx *gorm.DB) error {
		return tx.Create(session).Error
	})
}

// GetUploadSession fetches one upload session by id.
func (s *Store) GetUploadSession(id string) (*UploadSession, error) {
	var row UploadSession
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// ListUploadSessionsByStatus returns sessions in a status ordered by
// creation time ascending, scoped to one queue key, used by the scheduler's
// admission scan (spec.md §4.8).
func (s *Store) ListUploadSessionsByStatus(bucket, accountID string, status UploadSessionStatus, limit int) ([]UploadSession, error) {
	var rows []UploadSession
	q := s.db.Where("bucket = ? AND account_id = ? AND status = ?", bucket, accountID, status).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list upload sessions: %w", err)
	}
	return rows, nil
}

// CountActiveUploads returns the number of uploading sessions for one queue
// key, the S1 invariant's active-count term for uploads.
func (s *Store) CountActiveUploads(bucket, accountID string) (int64, error) {
	var count int64
	err := s.db.Model(&UploadSession{}).
		Where("bucket = ? AND account_id = ? AND status = ?", bucket, accountID, UploadUploading).
		Count(&count).Error
	return count, err
}

// CountActiveDownloads returns the number of downloading sessions for one
// queue key.
func (s *Store) CountActiveDownloads(bucket, accountID string) (int64, error) {
	var count int64
	err := s.db.Model(&DownloadSession{}).
		Where("bucket = ? AND account_id = ? AND status = ?", bucket, accountID, DownloadDownloading).
		Count(&count).Error
	return count, err
}

// CountActiveMoves returns the number of in-flight moves for one queue key,
// excluding sessions whose progress has reached 100 (spec.md §4.7:
// "count_active_moves excludes tasks whose progress = 100").
func (s *Store) CountActiveMoves(sourceBucket, sourceAccountID string) (int64, error) {
	var count int64
	err := s.db.Model(&MoveSession{}).
		Where("source_bucket = ? AND source_account_id = ? AND status IN ? AND progress < 100",
			sourceBucket, sourceAccountID,
			[]MoveSessionStatus{MoveDownloading, MoveUploading, MoveFinishing, MoveDeleting}).
		Count(&count).Error
	return count, err
}

// SetUploadSessionMultipart persists the provider upload id and computed
// part count once a multipart upload has been initiated.
func (s *Store) SetUploadSessionMultipart(id, uploadID string, totalParts int, now int64) error {
	return s.WithTx(func(tx *gorm.DB) error {
		return tx.Model(&UploadSession{}).Where("id = ?", id).
			Updates(map[string]any{"upload_id": uploadID, "total_parts": totalParts, "updated_at": now}).Error
	})
}

// GetCompletedUploadParts returns persisted parts for a session, ordered by
// part number.
func (s *Store) GetCompletedUploadParts(sessionID string) ([]UploadPart, error) {
	var rows []UploadPart
	err := s.db.Where("session_id = ?", sessionID).Order("part_number ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list upload parts: %w", err)
	}
	return rows, nil
}

// UpsertUploadPart records a completed part, per spec.md §4.5's "single SQL
// upsert" per part.
func (s *Store) UpsertUploadPart(sessionID string, partNumber int32, etag string) error {
	return s.WithTx(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "part_number"}},
			DoUpdates: clause.AssignmentColumns([]string{"e_tag"}),
		}).Create(&UploadPart{SessionID: sessionID, PartNumber: partNumber, ETag: etag}).Error
	})
}

// SetUploadSessionStatus updates an upload session's status and updated_at.
func (s *Store) SetUploadSessionStatus(id string, status UploadSessionStatus, now int64) error {
	return s.WithTx(func(tx *gorm.DB) error {
		return tx.Model(&UploadSession{}).Where("id = ?", id).
			Updates(map[string]any{"status": status, "updated_at": now}).Error
	})
}

// CompleteUploadSession deletes a completed session and its part rows in one
// transaction, per spec.md §4.5 "on success, mark session completed and
// delete its row".
func (s *Store) CompleteUploadSession(id string) error {
	return s.WithTx(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&UploadPart{}).Error; err != nil {
			return fmt.Errorf("failed to delete upload parts: %w", err)
		}
		return tx.Delete(&UploadSession{}, "id = ?", id).Error
	})
}

// SortedPartNumbers returns the ascending part-number sequence for a set of
// completed parts, used before calling multipart_complete (property P6).
func SortedPartNumbers(parts []UploadPart) []int32 {
	nums := make([]int32, len(parts))
	for i, p := range parts {
		nums[i] = p.PartNumber
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}

// SweepUploadSessions deletes terminal upload sessions (and their parts)
// older than 7 days, per spec.md §4.5.
func (s *Store) SweepUploadSessions(now int64) (int64, error) {
	cutoff := now - sweepAgeSeconds
	var affected int64
	err := s.WithTx(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&UploadSession{}).
			Where("status IN ? AND updated_at < ?", []UploadSessionStatus{UploadCompleted, UploadFailed, UploadCancelled}, cutoff).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("session_id IN ?", ids).Delete(&UploadPart{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&UploadSession{})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

// --- Download sessions -------------------------------------------------------

// CreateDownloadSession persists a new download session.
func (s *Store) CreateDownloadSession(session *DownloadSession) error {
	return s.WithTx(func(tx *gorm.DB) error { return tx.Create(session).Error })
}

// GetDownloadSession fetches one download session by id.
func (s *Store) GetDownloadSession(id string) (*DownloadSession, error) {
	var row DownloadSession
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// ListDownloadSessionsByStatus returns sessions in a given status ordered by
// creation time ascending, across all queues, used by the scheduler's
// ClearFinished.
func (s *Store) ListDownloadSessionsByStatus(status DownloadSessionStatus, limit int) ([]DownloadSession, error) {
	var rows []DownloadSession
	q := s.db.Where("status = ?", status).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list download sessions: %w", err)
	}
	return rows, nil
}

// ListDownloadSessionsByQueue returns sessions in a status ordered by
// creation time ascending, scoped to one queue key, used by the
// scheduler's admission scan (spec.md §4.8).
func (s *Store) ListDownloadSessionsByQueue(bucket, accountID string, status DownloadSessionStatus, limit int) ([]DownloadSession, error) {
	var rows []DownloadSession
	q := s.db.Where("bucket = ? AND account_id = ? AND status = ?", bucket, accountID, status).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list download sessions: %w", err)
	}
	return rows, nil
}

// UpdateDownloadProgress advances downloaded_bytes and bumps updated_at.
func (s *Store) UpdateDownloadProgress(id string, downloadedBytes, now int64) error {
	return s.WithTx(func(tx *gorm.DB) error {
		return tx.Model(&DownloadSession{}).Where("id = ?", id).
			Updates(map[string]any{"downloaded_bytes": downloadedBytes, "updated_at": now}).Error
	})
}

// SetDownloadFileSize persists the file size discovered from the first
// response's Content-Length header, for sessions created before the size
// was known (spec.md §4.6: "if file_size is 0, set it from Content-Length
// and persist").
func (s *Store) SetDownloadFileSize(id string, fileSize, now int64) error {
	return s.WithTx(func(tx *gorm.DB) error {
		return tx.Model(&DownloadSession{}).Where("id = ?", id).
			Updates(map[string]any{"file_size": fileSize, "updated_at": now}).Error
	})
}

// SetDownloadSessionStatus updates a download session's status.
func (s *Store) SetDownloadSessionStatus(id string, status DownloadSessionStatus, now int64) error {
	return s.WithTx(func(tx *gorm.DB) error {
		return tx.Model(&DownloadSession{}).Where("id = ?", id).
			Updates(map[string]any{"status": status, "updated_at": now}).Error
	})
}

// DeleteDownloadSession removes a download session row outright (used by
// explicit clear-finished).
func (s *Store) DeleteDownloadSession(id string) error {
	return s.WithTx(func(tx *gorm.DB) error {
		return tx.Delete(&DownloadSession{}, "id = ?", id).Error
	})
}

// PauseAllDownloads transitions every active download in bucket/accountID to
// paused, returning the affected ids (spec.md §8 "Pause all / resume all").
func (s *Store) PauseAllDownloads(bucket, accountID string, now int64) ([]string, error) {
	var ids []string
	err := s.WithTx(func(tx *gorm.DB) error {
		if err := tx.Model(&DownloadSession{}).
			Where("bucket = ? AND account_id = ? AND status IN ?", bucket, accountID,
				[]DownloadSessionStatus{DownloadPending, DownloadDownloading}).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&DownloadSession{}).Where("id IN ?", ids).
			Updates(map[string]any{"status": DownloadPaused, "updated_at": now}).Error
	})
	return ids, err
}

// ResumeAllDownloads transitions every paused download back to pending.
func (s *Store) ResumeAllDownloads(bucket, accountID string, now int64) ([]string, error) {
	var ids []string
	err := s.WithTx(func(tx *gorm.DB) error {
		if err := tx.Model(&DownloadSession{}).
			Where("bucket = ? AND account_id = ? AND status = ?", bucket, accountID, DownloadPaused).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&DownloadSession{}).Where("id IN ?", ids).
			Updates(map[string]any{"status": DownloadPending, "updated_at": now}).Error
	})
	return ids, err
}

// SweepDownloadSessions deletes terminal download sessions older than 7 days.
func (s *Store) SweepDownloadSessions(now int64) (int64, error) {
	cutoff := now - sweepAgeSeconds
	var affected int64
	err := s.WithTx(func(tx *gorm.DB) error {
		res := tx.Where("status IN ? AND updated_at < ?",
			[]DownloadSessionStatus{DownloadCompleted, DownloadFailed, DownloadCancelled}, cutoff).
			Delete(&DownloadSession{})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

// --- Move sessions -----------------------------------------------------------

// CreateMoveSession persists a new move session.
func (s *Store) CreateMoveSession(session *MoveSession) error {
	return s.WithTx(func(tx *gorm.DB) error { return tx.Create(session).Error })
}

// GetMoveSession fetches one move session by id.
func (s *Store) GetMoveSession(id string) (*MoveSession, error) {
	var row MoveSession
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// ListMoveSessionsByStatus returns sessions in a status ordered by
// creation time ascending, across all queues, used by the scheduler's
// ClearFinished.
func (s *Store) ListMoveSessionsByStatus(status MoveSessionStatus, limit int) ([]MoveSession, error) {
	var rows []MoveSession
	q := s.db.Where("status = ?", status).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list move sessions: %w", err)
	}
	return rows, nil
}

// ListMoveSessionsByQueue returns sessions in a status ordered by creation
// time ascending, scoped to one queue key, used by the scheduler's
// admission scan (spec.md §4.8).
func (s *Store) ListMoveSessionsByQueue(sourceBucket, sourceAccountID string, status MoveSessionStatus, limit int) ([]MoveSession, error) {
	var rows []MoveSession
	q := s.db.Where("source_bucket = ? AND source_account_id = ? AND status = ?", sourceBucket, sourceAccountID, status).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list move sessions: %w", err)
	}
	return rows, nil
}

// UpdateMoveProgress advances transferred_bytes/progress for a move session.
func (s *Store) UpdateMoveProgress(id string, transferredBytes int64, progress int, now int64) error {
	return s.WithTx(func(tx *gorm.DB) error {
		return tx.Model(&MoveSession{}).Where("id = ?", id).
			Updates(map[string]any{
				"transferred_bytes": transferredBytes, "progress": progress, "updated_at": now,
			}).Error
	})
}

// SetMoveSessionStatus transitions a move session through its state machine.
func (s *Store) SetMoveSessionStatus(id string, status MoveSessionStatus, now int64) error {
	return s.WithTx(func(tx *gorm.DB) error {
		return tx.Model(&MoveSession{}).Where("id = ?", id).
			Updates(map[string]any{"status": status, "updated_at": now}).Error
	})
}

// FailMoveSession marks a move session as errored with a message, per
// spec.md §5's persistence contract.
func (s *Store) FailMoveSession(id, errMsg string, now int64) error {
	return s.WithTx(func(tx *gorm.DB) error {
		return tx.Model(&MoveSession{}).Where("id = ?", id).
			Updates(map[string]any{"status": MoveError, "error": errMsg, "updated_at": now}).Error
	})
}

// UpsertMovePart records a completed part for the slow (streamed multipart)
// move path.
func (s *Store) UpsertMovePart(sessionID string, partNumber int32, etag string, size int64) error {
	return s.WithTx(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "part_number"}},
			DoUpdates: clause.AssignmentColumns([]string{"e_tag", "size"}),
		}).Create(&MovePart{SessionID: sessionID, PartNumber: partNumber, ETag: etag, Size: size}).Error
	})
}

// SetMoveUploadID persists the destination multipart upload id once created,
// for the slow (streamed multipart) move path.
func (s *Store) SetMoveUploadID(id, uploadID string, now int64) error {
	return s.WithTx(func(tx *gorm.DB) error {
		return tx.Model(&MoveSession{}).Where("id = ?", id).
			Updates(map[string]any{"upload_id": uploadID, "updated_at": now}).Error
	})
}

// DeleteMoveParts clears a move session's part rows without deleting the
// session itself, used once MultipartComplete succeeds: unlike upload
// sessions, move sessions persist in a terminal status until the 7-day
// sweep (spec.md §4.7), only their parts are transient.
func (s *Store) DeleteMoveParts(sessionID string) error {
	return s.WithTx(func(tx *gorm.DB) error {
		return tx.Where("session_id = ?", sessionID).Delete(&MovePart{}).Error
	})
}

// GetMoveParts returns persisted parts for a move session, ordered by part
// number.
func (s *Store) GetMoveParts(sessionID string) ([]MovePart, error) {
	var rows []MovePart
	err := s.db.Where("session_id = ?", sessionID).Order("part_number ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list move parts: %w", err)
	}
	return rows, nil
}

// DeleteMoveSession removes a move session and its part rows (used by
// explicit clear-finished).
func (s *Store) DeleteMoveSession(id string) error {
	return s.WithTx(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&MovePart{}).Error; err != nil {
			return err
		}
		return tx.Delete(&MoveSession{}, "id = ?", id).Error
	})
}

// SweepMoveSessions deletes terminal move sessions (and their parts) older
// than 7 days.
func (s *Store) SweepMoveSessions(now int64) (int64, error) {
	cutoff := now - sweepAgeSeconds
	var affected int64
	err := s.WithTx(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&MoveSession{}).
			Where("status IN ? AND updated_at < ?",
				[]MoveSessionStatus{MoveSuccess, MoveError, MoveCancelled}, cutoff).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("session_id IN ?", ids).Delete(&MovePart{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&MoveSession{})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

// --- Startup recovery --------------------------------------------------------

// RecoverNonTerminalSessions forces every move and download session left in
// a non-terminal, non-paused state to paused on startup, per spec.md §4.8's
// "Startup recovery". Upload sessions are deliberately left at `uploading`:
// the resumable-upload probe (property P7) only matches that exact status,
// and scenario 2 ("resume after crash") requires a restart to find the same
// session still resumable, so forcing it to a status the probe doesn't look
// for would make crash-resume impossible.
func (s *Store) RecoverNonTerminalSessions(now int64) error {
	return s.WithTx(func(tx *gorm.DB) error {
		if err := tx.Model(&MoveSession{}).
			Where("status IN ?", []MoveSessionStatus{
				MovePending, MoveDownloading, MoveUploading, MoveFinishing, MoveDeleting,
			}).
			Updates(map[string]any{"status": MovePaused, "updated_at": now}).Error; err != nil {
			return fmt.Errorf("failed to recover move sessions: %w", err)
		}
		if err := tx.Model(&DownloadSession{}).
			Where("status IN ?", []DownloadSessionStatus{DownloadPending, DownloadDownloading}).
			Updates(map[string]any{"status": DownloadPaused, "updated_at": now}).Error; err != nil {
			return fmt.Errorf("failed to recover download sessions: %w", err)
		}
		return nil
	})
}
