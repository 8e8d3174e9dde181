package monitor

import (
	"sync"
	"time"
)

// MaxConsecutiveFailures is how many failed scans in a row mark processing unhealthy.
const MaxConsecutiveFailures = 3

// ProcessingMonitor tracks scheduled processing runs.
type ProcessingMonitor struct {
	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	filesProcessed    int
	filesFailed       int
	pending           int
}

// RecordSuccess records a scan that processed every pending file.
func (pm *ProcessingMonitor) RecordSuccess(processed int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.lastSuccess = time.Now()
	pm.lastAttempt = pm.lastSuccess
	pm.consecutiveErrors = 0
	pm.lastError = ""
	pm.filesProcessed += processed
}

// RecordFailure records a scan in which at least one file failed.
func (pm *ProcessingMonitor) RecordFailure(processed, failed int, err error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.lastAttempt = time.Now()
	pm.consecutiveErrors++
	pm.filesProcessed += processed
	pm.filesFailed += failed
	if err != nil {
		pm.lastError = err.Error()
	}
}

// SetPending records how many files are waiting to be processed.
func (pm *ProcessingMonitor) SetPending(n int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.pending = n
}

// IsHealthy returns false once more than MaxConsecutiveFailures scans failed in a row.
func (pm *ProcessingMonitor) IsHealthy() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.healthy()
}

func (pm *ProcessingMonitor) healthy() bool {
	return pm.consecutiveErrors <= MaxConsecutiveFailures
}

// ProcessingStatus is reported by the health endpoint.
type ProcessingStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	FilesProcessed    int    `json:"files_processed"`
	FilesFailed       int    `json:"files_failed,omitempty"`
	Pending           int    `json:"pending"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current processing status for health checks.
func (pm *ProcessingMonitor) Status() ProcessingStatus {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	status := ProcessingStatus{
		Healthy:        pm.healthy(),
		FilesProcessed: pm.filesProcessed,
		FilesFailed:    pm.filesFailed,
		Pending:        pm.pending,
	}

	if !pm.lastSuccess.IsZero() {
		status.LastSuccess = pm.lastSuccess.Format(time.RFC3339)
	}
	if !pm.lastAttempt.IsZero() {
		status.LastAttempt = pm.lastAttempt.Format(time.RFC3339)
	}
	if pm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = pm.consecutiveErrors
		status.LastError = pm.lastError
	}
	return status
}
