// Package taskid generates task identifiers for upload/download/move
// sessions. Grounded in the teacher's internal/transfer.generateTaskID
// (rescale-labs-Rescale_Interlink): a monotonic counter guarded by a mutex,
// combined with a nanosecond timestamp so ids sort roughly by creation order
// and never collide within a process. spec.md §3 allows either UUIDs or
// synthesized "move-<ts>-<idx>" ids; this keeps the teacher's scheme rather
// than pulling in a UUID library for a concern the teacher already solves.
package taskid

import (
	"fmt"
	"sync"
	"time"
)

var (
	mu      sync.Mutex
	counter uint64
)

// New returns a new id of the form "<prefix>-<unixnano>-<counter>".
func New(prefix string) string {
	mu.Lock()
	counter++
	n := counter
	mu.Unlock()
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), n)
}
