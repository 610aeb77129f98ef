// Package video implements the frame capture contract: a borrowed buffer
// handle returned from a pool, released back to the pool on every exit path.
// The pooled free-list shape mirrors the pack's jpeg-pool buffer manager.
package video

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrDropped signals the underlying driver was momentarily unready. It is
// expected and counted, never logged as an error.
var ErrDropped = errors.New("video: frame dropped")

const (
	// Width and Height are fixed at configuration time per spec §4.3.
	Width  = 640
	Height = 640
)

// frameSize is the planar luma+chroma (YUV 4:2:0-style, 1.5 bytes/pixel)
// byte size for a 640x640 frame.
const frameSize = Width * Height * 3 / 2

// Buffer is a pooled frame buffer, released back to its pool exactly once.
type Buffer struct {
	pixels []byte
	pool   *Source
}

// Pixels returns the raw planar pixel bytes for this buffer.
func (b *Buffer) Pixels() []byte { return b.pixels }

// Release returns the buffer to the source's pool. Safe to call exactly
// once per successful capture.
func (b *Buffer) Release() {
	b.pool.release(b)
}

// Driver is the underlying capture device. A real implementation talks to
// the camera's video pipeline driver; tests substitute a fake.
type Driver interface {
	// NextFrame fills dst with one frame's worth of pixel bytes, or returns
	// false if the driver has nothing ready this tick.
	NextFrame(dst []byte) bool
}

// Source owns a fixed-size buffer pool and a driver, and tracks capture
// counters.
type Source struct {
	driver   Driver
	fps      int
	logger   *zap.Logger
	freeList chan *Buffer

	mu       sync.Mutex
	captured int64
	dropped  int64
}

// Config holds the video source's startup parameters.
type Config struct {
	TargetFPS int
	PoolSize  int
}

// New constructs a video source at the fixed 640x640 format, with the given
// target frame rate and a pool of reusable buffers.
func New(logger *zap.Logger, driver Driver, cfg Config) *Source {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	s := &Source{
		driver:   driver,
		fps:      cfg.TargetFPS,
		logger:   logger,
		freeList: make(chan *Buffer, poolSize),
	}
	for i := 0; i < poolSize; i++ {
		s.freeList <- &Buffer{pixels: make([]byte, frameSize), pool: s}
	}
	return s
}

// CaptureFrame acquires a buffer from the pool, fills it from the driver,
// and returns it. Returns ErrDropped if the driver has nothing ready; the
// buffer is returned to the pool immediately in that case, not handed back
// to the caller.
func (s *Source) CaptureFrame() (*Buffer, error) {
	var buf *Buffer
	select {
	case buf = <-s.freeList:
	default:
		// Pool exhausted: treat as a transient drop rather than blocking the
		// tick indefinitely.
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		return nil, ErrDropped
	}

	if !s.driver.NextFrame(buf.pixels) {
		s.release(buf)
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		return nil, ErrDropped
	}

	s.mu.Lock()
	s.captured++
	s.mu.Unlock()
	return buf, nil
}

func (s *Source) release(b *Buffer) {
	select {
	case s.freeList <- b:
	default:
		// Pool already full; drop the reference (shouldn't happen with
		// correct accounting, but never block release on a full channel).
	}
}

// Counters reports cumulative capture/drop counts for operational
// visibility.
type Counters struct {
	FramesCaptured int64
	FramesDropped  int64
}

// Counters returns the source's cumulative capture/drop counters.
func (s *Source) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counters{FramesCaptured: s.captured, FramesDropped: s.dropped}
}
