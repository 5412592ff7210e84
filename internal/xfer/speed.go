// Package xfer holds small pieces shared by the upload, download, and move
// engines: EMA speed smoothing and percent computation.
// Grounded in the teacher's internal/transfer/task.go
// UpdateProgressWithBytes, generalized here so all three engines share one
// implementation instead of three copies.
package xfer

import (
	"sync"
	"time"
)

// speedSmoothingAlpha weights 25% to the newest instantaneous rate and 75%
// to the previous smoothed value, matching the teacher's tuning.
const speedSmoothingAlpha = 0.25

// SpeedTracker computes an EMA-smoothed transfer rate from periodic byte
// counter samples. Safe for concurrent use.
type SpeedTracker struct {
	mu             sync.Mutex
	lastBytes      int64
	lastUpdateTime time.Time
	speed          float64
	startBytes     int64
	started        bool
}

// Sample records a new cumulative byte count and returns the current
// smoothed speed in bytes/sec.
func (s *SpeedTracker) Sample(bytesTransferred int64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if !s.started {
		s.started = true
		s.startBytes = bytesTransferred
		s.lastBytes = bytesTransferred
		s.lastUpdateTime = now
		s.speed = 0
		return 0
	}

	if bytesTransferred > s.lastBytes {
		elapsed := now.Sub(s.lastUpdateTime).Seconds()
		if elapsed > 0.1 {
			delta := bytesTransferred - s.lastBytes
			instantRate := float64(delta) / elapsed
			if s.speed > 0 {
				s.speed = speedSmoothingAlpha*instantRate + (1-speedSmoothingAlpha)*s.speed
			} else {
				s.speed = instantRate
			}
			s.lastBytes = bytesTransferred
			s.lastUpdateTime = now
		}
	}
	return s.speed
}

// Speed returns the last-computed smoothed rate without sampling.
func (s *SpeedTracker) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// Percent computes the clamped-to-100 completion percentage for
// transferred/total bytes.
func Percent(transferred, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(transferred) / float64(total) * 100
	if p > 100 {
		p = 100
	}
	return p
}
