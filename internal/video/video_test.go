package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// fakeDriver returns ready frames up to a limit, then reports not-ready.
type fakeDriver struct {
	readyCount int
	calls      int
	fillByte   byte
}

func (d *fakeDriver) NextFrame(dst []byte) bool {
	d.calls++
	if d.calls > d.readyCount {
		return false
	}
	for i := range dst {
		dst[i] = d.fillByte
	}
	return true
}

func TestCaptureFrame_Success(t *testing.T) {
	// Arrange
	driver := &fakeDriver{readyCount: 1, fillByte: 42}
	src := New(zap.NewNop(), driver, Config{TargetFPS: 10, PoolSize: 2})

	// Act
	buf, err := src.CaptureFrame()

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, frameSize, len(buf.Pixels()))
	assert.Equal(t, byte(42), buf.Pixels()[0])
	assert.Equal(t, int64(1), src.Counters().FramesCaptured)

	buf.Release()
}

func TestCaptureFrame_DriverNotReady_ReturnsDropped(t *testing.T) {
	// Arrange
	driver := &fakeDriver{readyCount: 0}
	src := New(zap.NewNop(), driver, Config{TargetFPS: 10, PoolSize: 2})

	// Act
	buf, err := src.CaptureFrame()

	// Assert
	assert.ErrorIs(t, err, ErrDropped)
	assert.Nil(t, buf)
	assert.Equal(t, int64(1), src.Counters().FramesDropped)
	assert.Equal(t, int64(0), src.Counters().FramesCaptured)
}

func TestRelease_ReturnsBufferToPool(t *testing.T) {
	// Arrange
	driver := &fakeDriver{readyCount: 2}
	src := New(zap.NewNop(), driver, Config{TargetFPS: 10, PoolSize: 1})

	// Act: capture, release, capture again — must reuse the one pooled
	// buffer rather than blocking or dropping.
	buf1, err1 := src.CaptureFrame()
	assert.NoError(t, err1)
	buf1.Release()

	buf2, err2 := src.CaptureFrame()

	// Assert
	assert.NoError(t, err2)
	assert.Equal(t, int64(2), src.Counters().FramesCaptured)
	buf2.Release()
}

func TestCaptureFrame_PoolExhausted_Drops(t *testing.T) {
	// Arrange: pool of 1, never released.
	driver := &fakeDriver{readyCount: 2}
	src := New(zap.NewNop(), driver, Config{TargetFPS: 10, PoolSize: 1})
	buf, err := src.CaptureFrame()
	assert.NoError(t, err)

	// Act: a second capture with the only buffer still outstanding.
	_, err2 := src.CaptureFrame()

	// Assert
	assert.ErrorIs(t, err2, ErrDropped)
	buf.Release()
}
