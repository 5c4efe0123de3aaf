// Package perfmonitor measures how long a phase of the server lifecycle
// takes, such as startup or a drain.
package perfmonitor

import (
	"sync"
	"time"
)

// PerformanceMonitor is a restartable stopwatch. It is safe for concurrent
// use.
type PerformanceMonitor struct {
	mu        sync.Mutex
	startTime time.Time
	endTime   time.Time
}

// NewPerformanceMonitor returns a monitor that has not been started.
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{}
}

// Start records the start time and clears any previous end time.
func (pm *PerformanceMonitor) Start() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.startTime = time.Now()
	pm.endTime = time.Time{}
}

// Stop records the end time. It does nothing unless Start was called.
func (pm *PerformanceMonitor) Stop() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.startTime.IsZero() {
		return
	}
	pm.endTime = time.Now()
}

// Reset clears both timestamps.
func (pm *PerformanceMonitor) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.startTime = time.Time{}
	pm.endTime = time.Time{}
}

// Elapsed returns the measured duration, or 0 until both Start and Stop
// have been called.
func (pm *PerformanceMonitor) Elapsed() time.Duration {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.startTime.IsZero() || pm.endTime.IsZero() {
		return 0
	}
	return pm.endTime.Sub(pm.startTime)
}

// ElapsedMilliseconds returns Elapsed as fractional milliseconds.
func (pm *PerformanceMonitor) ElapsedMilliseconds() float64 {
	return float64(pm.Elapsed()) / float64(time.Millisecond)
}
