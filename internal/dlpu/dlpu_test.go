package dlpu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func withFakeClock(t *testing.T, now time.Time) (sleeps *[]time.Duration) {
	t.Helper()
	origNow, origSleep := nowFunc, sleepFunc
	sleeps = &[]time.Duration{}
	nowFunc = func() time.Time { return now }
	sleepFunc = func(d time.Duration) { *sleeps = append(*sleeps, d) }
	t.Cleanup(func() {
		nowFunc = origNow
		sleepFunc = origSleep
	})
	return sleeps
}

func TestWaitForSlot_InsideOwnSlot_NoSleep(t *testing.T) {
	// Arrange: epoch-aligned cycle, index 0 owns [0, 200ms).
	now := time.Unix(0, 100*int64(time.Millisecond))
	sleeps := withFakeClock(t, now)
	c := New(zap.NewNop(), 0)

	// Act
	c.WaitForSlot()

	// Assert
	assert.Empty(t, *sleeps)
}

func TestWaitForSlot_BeforeOwnSlot_SleepsUntilOffset(t *testing.T) {
	// Arrange: index 2 owns [400ms, 600ms); current position 100ms.
	now := time.Unix(0, 100*int64(time.Millisecond))
	sleeps := withFakeClock(t, now)
	c := New(zap.NewNop(), 2)

	// Act
	c.WaitForSlot()

	// Assert
	assert.Equal(t, []time.Duration{300 * time.Millisecond}, *sleeps)
}

func TestWaitForSlot_PastOwnSlot_SleepsUntilNextCycle(t *testing.T) {
	// Arrange: index 0 owns [0, 200ms); current position 500ms, so the
	// coordinator must wait until the next cycle's offset (1000ms mark).
	now := time.Unix(0, 500*int64(time.Millisecond))
	sleeps := withFakeClock(t, now)
	c := New(zap.NewNop(), 0)

	// Act
	c.WaitForSlot()

	// Assert
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, *sleeps)
}

func TestWaitForSlot_NeverExceedsOneCycleMinusOneSlot(t *testing.T) {
	// Arrange: index 0 owns [0, 200ms); position just past its own slot
	// end is the worst case for how long the next wait can be.
	now := time.Unix(0, 201*int64(time.Millisecond))
	sleeps := withFakeClock(t, now)
	c := New(zap.NewNop(), 0)

	// Act
	c.WaitForSlot()

	// Assert
	assert.Len(t, *sleeps, 1)
	assert.LessOrEqual(t, (*sleeps)[0], cycleDuration-slotDuration)
}

func TestReleaseSlot_NoOp(t *testing.T) {
	// Arrange
	c := New(zap.NewNop(), 0)

	// Act & Assert: must not panic and must not affect stats.
	c.ReleaseSlot()
	assert.Equal(t, int64(0), c.Stats().Waits)
}

func TestStats_AccumulatesWaits(t *testing.T) {
	// Arrange
	now := time.Unix(0, 500*int64(time.Millisecond))
	withFakeClock(t, now)
	c := New(zap.NewNop(), 0)

	// Act
	c.WaitForSlot()

	// Assert
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Waits)
	assert.Equal(t, 500*time.Millisecond, stats.WaitTotal)
}
