// Package events is an in-process pub/sub bus used to notify UI-layer
// subscribers (the CLI's progress renderer, in this repo) about sync,
// transfer, and cache-mutation activity without engines depending on any
// particular presentation layer.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies the shape of an event's payload.
type Type string

const (
	TypeSyncPhase         Type = "sync-phase"
	TypeSyncProgress      Type = "sync-progress"
	TypeIndexingProgress  Type = "indexing-progress"
	TypeFolderLoadProgress Type = "folder-load-progress"
	TypeUploadProgress    Type = "upload-progress"
	TypeDownloadProgress  Type = "download-progress"
	TypeDownloadStatus    Type = "download-status-changed"
	TypeMoveProgress      Type = "move-progress"
	TypeMoveStatus        Type = "move-status-changed"
	TypeCacheUpdated      Type = "cache-updated"
	TypePathsRemoved      Type = "paths-removed"
	TypePathsCreated      Type = "paths-created"
	TypeBatchProgress     Type = "batch-progress"
)

const (
	defaultBuffer = 256
	maxBuffer     = 4096
)

// Event is the common interface every payload implements.
type Event interface {
	Type() Type
	Timestamp() time.Time
}

// Base embeds into concrete event structs to satisfy Event.
type Base struct {
	EventType Type
	Time      time.Time
}

func (b Base) Type() Type          { return b.EventType }
func (b Base) Timestamp() time.Time { return b.Time }

// SyncPhaseEvent reports full-sync phase transitions.
type SyncPhaseEvent struct {
	Base
	Phase string // "fetching" | "storing" | "indexing" | "complete"
}

// SyncProgressEvent reports running object counts during listing.
type SyncProgressEvent struct {
	Base
	Count int
}

// IndexingProgressEvent reports tree-build progress.
type IndexingProgressEvent struct {
	Base
	Current, Total int
}

// FolderLoadProgressEvent reports paginated folder listing progress.
type FolderLoadProgressEvent struct {
	Base
	Pages, Items int
}

// UploadProgressEvent reports upload byte progress.
type UploadProgressEvent struct {
	Base
	TaskID        string
	Percent       float64
	UploadedBytes int64
	TotalBytes    int64
	Speed         float64
}

// DownloadProgressEvent reports download byte progress.
type DownloadProgressEvent struct {
	Base
	TaskID          string
	Percent         float64
	DownloadedBytes int64
	TotalBytes      int64
	Speed           float64
}

// DownloadStatusEvent reports download session status transitions.
type DownloadStatusEvent struct {
	Base
	TaskID string
	Status string
	Error  string
}

// MoveProgressEvent reports move byte progress.
type MoveProgressEvent struct {
	Base
	TaskID           string
	Phase            string
	Percent          float64
	TransferredBytes int64
	TotalBytes       int64
	Speed            float64
}

// MoveStatusEvent reports move session status transitions.
type MoveStatusEvent struct {
	Base
	TaskID string
	Status string
	Error  string
}

// CacheUpdatedEvent reports a committed cache mutation.
type CacheUpdatedEvent struct {
	Base
	Action        string // "update" | "delete" | "move"
	AffectedPaths []string
}

// PathsRemovedEvent reports directory nodes garbage-collected by a mutation.
type PathsRemovedEvent struct {
	Base
	RemovedPaths []string
}

// PathsCreatedEvent reports directory nodes newly inserted by a mutation.
type PathsCreatedEvent struct {
	Base
	CreatedPaths []string
}

// BatchProgressEvent reports aggregate progress for a batch of tasks.
type BatchProgressEvent struct {
	Base
	Completed, Total, Failed int
}

// Bus is a buffered, non-blocking pub/sub dispatcher. A full subscriber
// channel drops the event rather than blocking the publisher, matching the
// teacher's EventBus.Publish behavior.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]chan Event
	all         []chan Event
	bufferSize  int
	closed      bool
	dropped     atomic.Int64
}

// NewBus creates a Bus with the given per-subscriber buffer size (clamped to
// [1, maxBuffer], defaulting to defaultBuffer when <= 0).
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBuffer
	}
	if bufferSize > maxBuffer {
		bufferSize = maxBuffer
	}
	return &Bus{
		subscribers: make(map[Type][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel that receives only events of the given type.
func (b *Bus) Subscribe(t Type) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	ch := make(chan Event, b.bufferSize)
	b.subscribers[t] = append(b.subscribers[t], ch)
	return ch
}

// SubscribeAll returns a channel that receives every event published.
func (b *Bus) SubscribeAll() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	ch := make(chan Event, b.bufferSize)
	b.all = append(b.all, ch)
	return ch
}

// Publish fans out event to matching subscribers without blocking.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
	for _, ch := range b.all {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events dropped due to full subscriber buffers.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, channels := range b.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
}
