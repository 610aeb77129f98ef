// Package dlpu implements the fixed time-division coordinator that lets
// several camera processes on one device share a single neural accelerator
// without true mutual exclusion: each process owns a 200ms slot within a
// 1000ms cycle, keyed by a statically agreed index. See spec §4.2 — this
// is cooperative time-sharing only, not cross-process locking (§9).
package dlpu

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/axis-is/edge-inference/internal/metrics"
)

const (
	cycleDuration = 1000 * time.Millisecond
	slotDuration  = 200 * time.Millisecond
)

// Coordinator hands out a time slot to the caller's camera index.
type Coordinator struct {
	index  int
	offset time.Duration
	logger *zap.Logger

	mu        sync.Mutex
	waits     int64
	waitTotal time.Duration
}

// New builds a coordinator for the given camera index. Indices must be
// distinct across processes sharing the accelerator; the coordinator has no
// way to detect a collision.
func New(logger *zap.Logger, index int) *Coordinator {
	return &Coordinator{
		index:  index,
		offset: time.Duration(index) * slotDuration,
		logger: logger,
	}
}

// nowFunc and sleepFunc are indirected for deterministic tests.
var nowFunc = time.Now
var sleepFunc = time.Sleep

// WaitForSlot blocks until the current wall-clock position within the
// 1000ms cycle falls inside [offset, offset+200ms). It never fails; callers
// must tolerate a sleep of up to one cycle minus one slot.
func (c *Coordinator) WaitForSlot() {
	start := nowFunc()
	position := start.Sub(start.Truncate(cycleDuration))

	var wait time.Duration
	switch {
	case position < c.offset:
		wait = c.offset - position
	case position >= c.offset+slotDuration:
		wait = cycleDuration - position + c.offset
	default:
		wait = 0
	}

	if wait > 0 {
		sleepFunc(wait)
		c.mu.Lock()
		c.waits++
		c.waitTotal += wait
		c.mu.Unlock()
		metrics.DLPUWaitSeconds.Observe(wait.Seconds())
		if wait > cycleDuration-slotDuration {
			c.logger.Warn("dlpu wait exceeded expected bound",
				zap.Int("index", c.index), zap.Duration("wait", wait))
		}
	}
}

// ReleaseSlot is a no-op: the time-division model implies release is
// implicit at slot end.
func (c *Coordinator) ReleaseSlot() {}

// Stats reports cumulative wait counters for operational visibility.
type Stats struct {
	Waits     int64
	WaitTotal time.Duration
}

// Stats returns the coordinator's cumulative wait bookkeeping.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Waits: c.waits, WaitTotal: c.waitTotal}
}
