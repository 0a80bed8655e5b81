package jobqueue

import (
	"fmt"
	"sync/atomic"
	"time"
)

// idCounter is a per-process monotonic counter appended to generated job
// ids. It resets to zero on every process start — see DESIGN.md's Open
// Question resolution on job-id collisions across daemon restarts.
var idCounter uint64

// NewJobID generates a job id of the form "job_<yyyymmdd_HHMMSS>_<counter>".
func NewJobID(now time.Time) string {
	n := atomic.AddUint64(&idCounter, 1)
	return fmt.Sprintf("job_%s_%04d", now.UTC().Format("20060102_150405"), n)
}

// ResetCounterForTest resets the package-level id counter. Test-only helper
// so successive test cases don't leak counter state into each other.
func ResetCounterForTest() {
	atomic.StoreUint64(&idCounter, 0)
}
