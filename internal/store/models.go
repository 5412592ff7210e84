package store

// CachedFile mirrors spec.md §3's "File record": composite identity
// (bucket, account_id, key). Keys never end with "/"; directory markers are
// filtered on ingest by the caller.
type CachedFile struct {
	Bucket       string `gorm:"primaryKey;size:255"`
	AccountID    string `gorm:"primaryKey;size:255"`
	Key          string `gorm:"primaryKey;size:1024"`
	Size         int64
	LastModified string `gorm:"size:40"` // RFC3339, normalized to UTC on ingest
	SyncedAt     int64  // unix seconds
}

func (CachedFile) TableName() string { return "cached_files" }

// DirectoryNode mirrors spec.md §3's "Directory node": composite identity
// (bucket, account_id, path). Path is "" for root or ends with "/".
type DirectoryNode struct {
	Bucket         string `gorm:"primaryKey;size:255"`
	AccountID      string `gorm:"primaryKey;size:255"`
	Path           string `gorm:"primaryKey;size:1024"`
	FileCount      int32
	TotalFileCount int32
	Size           int64
	TotalSize      int64
	LastModified   *string `gorm:"size:40"`
	ParentPath     string  `gorm:"size:1024"`
	LastUpdated    int64   // unix seconds
}

func (DirectoryNode) TableName() string { return "directory_tree" }

// SyncMeta tracks the last full-sync outcome for a (bucket, account_id) pair.
type SyncMeta struct {
	Bucket       string `gorm:"primaryKey;size:255"`
	AccountID    string `gorm:"primaryKey;size:255"`
	LastSyncedAt int64
	ObjectCount  int64
	TotalSize    int64
}

func (SyncMeta) TableName() string { return "sync_meta" }

// UploadSessionStatus enumerates spec.md §3's upload session status values.
type UploadSessionStatus string

const (
	UploadPending    UploadSessionStatus = "pending"
	UploadUploading  UploadSessionStatus = "uploading"
	UploadCompleted  UploadSessionStatus = "completed"
	UploadFailed     UploadSessionStatus = "failed"
	UploadCancelled  UploadSessionStatus = "cancelled"
)

// UploadSession mirrors spec.md §3's "Upload session".
type UploadSession struct {
	ID          string `gorm:"primaryKey;size:64"`
	FilePath    string `gorm:"size:4096;index:idx_upload_identity"`
	FileSize    int64  `gorm:"index:idx_upload_identity"`
	FileMtime   int64  `gorm:"index:idx_upload_identity"`
	ObjectKey   string `gorm:"size:1024"`
	Bucket      string `gorm:"size:255"`
	AccountID   string `gorm:"size:255"`
	UploadID    string `gorm:"size:255"`
	ContentType string `gorm:"size:255"`
	TotalParts  int
	Status      UploadSessionStatus `gorm:"size:16;index"`
	CreatedAt   int64
	UpdatedAt   int64
}

func (UploadSession) TableName() string { return "upload_sessions" }

// UploadPart mirrors spec.md §3's "Completed part" for uploads.
type UploadPart struct {
	SessionID  string `gorm:"primaryKey;size:64"`
	PartNumber int32  `gorm:"primaryKey"`
	ETag       string `gorm:"size:255"`
}

func (UploadPart) TableName() string { return "upload_parts" }

// DownloadSessionStatus enumerates spec.md §3's download session status values.
type DownloadSessionStatus string

const (
	DownloadPending     DownloadSessionStatus = "pending"
	DownloadDownloading DownloadSessionStatus = "downloading"
	DownloadPaused      DownloadSessionStatus = "paused"
	DownloadCompleted   DownloadSessionStatus = "completed"
	DownloadFailed      DownloadSessionStatus = "failed"
	DownloadCancelled   DownloadSessionStatus = "cancelled"
)

// DownloadSession mirrors spec.md §3's "Download session".
type DownloadSession struct {
	ID               string `gorm:"primaryKey;size:64"`
	Bucket           string `gorm:"size:255;index:idx_download_queue"`
	AccountID        string `gorm:"size:255;index:idx_download_queue"`
	Key              string `gorm:"size:1024"`
	LocalPath        string `gorm:"size:4096"`
	FileName         string `gorm:"size:255"`
	FileSize         int64
	DownloadedBytes  int64
	Status           DownloadSessionStatus `gorm:"size:16;index"`
	CreatedAt        int64
	UpdatedAt        int64
}

func (DownloadSession) TableName() string { return "download_sessions" }

// MoveSessionStatus enumerates the state machine of spec.md §4.7.
type MoveSessionStatus string

const (
	MovePending     MoveSessionStatus = "pending"
	MoveDownloading MoveSessionStatus = "downloading"
	MoveUploading   MoveSessionStatus = "uploading"
	MoveFinishing   MoveSessionStatus = "finishing"
	MoveDeleting    MoveSessionStatus = "deleting"
	MovePaused      MoveSessionStatus = "paused"
	MoveSuccess     MoveSessionStatus = "success"
	MoveError       MoveSessionStatus = "error"
	MoveCancelled   MoveSessionStatus = "cancelled"
)

// MoveSession mirrors spec.md §3's "Move session".
type MoveSession struct {
	ID               string `gorm:"primaryKey;size:64"`
	SourceProvider   string `gorm:"size:32"`
	SourceAccountID  string `gorm:"size:255;index:idx_move_queue"`
	SourceBucket     string `gorm:"size:255;index:idx_move_queue"`
	SourceKey        string `gorm:"size:1024"`
	DestProvider     string `gorm:"size:32"`
	DestAccountID    string `gorm:"size:255"`
	DestBucket       string `gorm:"size:255"`
	DestKey          string `gorm:"size:1024"`
	FileSize         int64
	TransferredBytes int64
	Progress         int // 0-100
	DeleteOriginal   bool
	UploadID         string `gorm:"size:255"` // dest multipart upload id, slow path only
	Status           MoveSessionStatus `gorm:"size:16;index"`
	Error            string `gorm:"size:2048"`
	CreatedAt        int64
	UpdatedAt        int64
}

func (MoveSession) TableName() string { return "move_sessions" }

// MovePart mirrors spec.md §3's "Move part registry".
type MovePart struct {
	SessionID  string `gorm:"primaryKey;size:64"`
	PartNumber int32  `gorm:"primaryKey"`
	ETag       string `gorm:"size:255"`
	Size       int64
}

func (MovePart) TableName() string { return "move_parts" }

// Account is the minimal persisted registry entry the transfer engine
// consumes; full credential CRUD is out of scope per spec.md §1.
type Account struct {
	AccountID    string `gorm:"primaryKey;size:255"`
	ProviderKind string `gorm:"size:32"`
	Bucket       string `gorm:"size:255"`
	Endpoint     string `gorm:"size:1024"`
	Region       string `gorm:"size:64"`
	PathStyle    bool
}

func (Account) TableName() string { return "accounts" }

// AppState is a generic key-value table for small process bookkeeping (e.g.
// last sweep timestamp), per spec.md §6's on-disk layout.
type AppState struct {
	Key   string `gorm:"primaryKey;size:255"`
	Value string `gorm:"size:4096"`
}

func (AppState) TableName() string { return "app_state" }

// AllModels lists every table for AutoMigrate.
func AllModels() []any {
	return []any{
		&CachedFile{}, &DirectoryNode{}, &SyncMeta{},
		&UploadSession{}, &UploadPart{},
		&DownloadSession{}, &MoveSession{}, &MovePart{},
		&Account{}, &AppState{},
	}
}
