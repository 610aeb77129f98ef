// Package framepublisher implements the on-demand frame-publisher module
// (priority 40): it listens for an asynchronous "frame requested" signal,
// encodes and rate-limits a JPEG+base64 response, and publishes it. See
// spec §4.7.
package framepublisher

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/axis-is/edge-inference/internal/bus"
	"github.com/axis-is/edge-inference/internal/config"
	"github.com/axis-is/edge-inference/internal/metadata"
	"github.com/axis-is/edge-inference/internal/metrics"
	"github.com/axis-is/edge-inference/internal/module"
)

// Name is this module's registration name, custom_data key and config key.
const Name = "frame_publisher"

// Priority runs the frame publisher after detection so a requested frame's
// metadata tick still carries detections.
const Priority = 40

const (
	defaultJPEGQuality  = 85
	minJPEGQuality      = 1
	maxJPEGQuality      = 100
	defaultRateLimitSec = 60
	minRateLimitSec     = 1
)

func init() {
	module.Register(module.Interface{
		Name:     Name,
		Priority: Priority,
		Init:     initModule,
		Process:  process,
		Cleanup:  cleanup,
	})
}

// pendingRequest is the latest unserviced frame request. A depth-1,
// latest-wins slot: a new request overwrites any prior unserviced one, per
// spec §9's design note and the Open Question resolution in DESIGN.md.
type pendingRequest struct {
	mu        sync.Mutex
	set       bool
	requestID string
	reason    string
}

func (p *pendingRequest) set_(id, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set = true
	p.requestID = id
	p.reason = reason
}

// takeIfSet clears and returns the pending request, if any.
func (p *pendingRequest) takeIfSet() (string, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.set {
		return "", "", false
	}
	p.set = false
	id, reason := p.requestID, p.reason
	return id, reason, true
}

// state is this module's private per-process data.
type state struct {
	logger  *zap.Logger
	cameraID string
	enabled  bool
	quality  int
	rateLimit time.Duration

	pending pendingRequest

	lastSentUnixNano int64 // atomic

	framesSent          int64
	requestsReceived     int64
	requestsThrottled    int64
}

// OnFrameRequest implements bus.RequestHandler. It fires on the bus
// consumer-group goroutine, not the tick thread.
func (s *state) OnFrameRequest(req bus.FrameRequest) {
	atomic.AddInt64(&s.requestsReceived, 1)
	metrics.FrameRequestsReceivedTotal.Inc()

	last := atomic.LoadInt64(&s.lastSentUnixNano)
	if last != 0 {
		since := time.Since(time.Unix(0, last))
		if since < s.rateLimit {
			atomic.AddInt64(&s.requestsThrottled, 1)
			metrics.FrameRequestsThrottledTotal.Inc()
			return
		}
	}

	s.pending.set_(req.RequestID, req.Reason)
}

func initModule(ctx *module.Context, cfg *config.Config) error {
	quality := cfg.GetInt("jpeg_quality", defaultJPEGQuality)
	if quality < minJPEGQuality || quality > maxJPEGQuality {
		quality = defaultJPEGQuality
	}

	rateLimitSec := cfg.GetInt("rate_limit_seconds", defaultRateLimitSec)
	if rateLimitSec < minRateLimitSec {
		rateLimitSec = minRateLimitSec
	}

	ctx.State = &state{
		logger:    zap.L().Named(Name),
		cameraID:  cfg.GetString("camera_id", "axis-camera-001"),
		enabled:   cfg.GetBool("enabled", true),
		quality:   quality,
		rateLimit: time.Duration(rateLimitSec) * time.Second,
	}
	return nil
}

func cleanup(ctx *module.Context) {}

// Publisher is the narrow publish surface this module needs; satisfied by
// bus.Publisher.
type Publisher interface {
	Publish(topic string, payload any) error
}

// Encoder converts a raw frame buffer into a Go image for JPEG encoding. A
// production encoder converts the planar luma/chroma buffer into image.Gray
// or image.YCbCr; this seam lets tests supply a fixed image.
type Encoder func(pixels []byte, width, height int) image.Image

// moduleDeps is attached by the orchestrator after Init, since the bus
// publisher and frame encoder are core-owned resources the module borrows,
// not something it constructs for itself.
type moduleDeps struct {
	publisher Publisher
	encode    Encoder
}

var depsByInstance sync.Map // *state -> *moduleDeps

// Wire attaches the publisher and encoder this module needs to publish
// responses. Called once by the orchestrator after module initialization,
// mirroring how the core hands the detection module its inference engine.
func Wire(ctx *module.Context, publisher Publisher, encode Encoder) {
	if st, ok := ctx.State.(*state); ok {
		depsByInstance.Store(st, &moduleDeps{publisher: publisher, encode: encode})
	}
}

func process(ctx *module.Context, frame *metadata.Data) module.Result {
	st, ok := ctx.State.(*state)
	if !ok {
		return module.NotReady
	}

	requestID, reason, hasRequest := st.pending.takeIfSet()
	if !st.enabled || !hasRequest {
		return module.Skip
	}

	depsVal, ok := depsByInstance.Load(st)
	if !ok {
		return module.NotReady
	}
	deps := depsVal.(*moduleDeps)

	img := deps.encode(frame.Pixels, frame.Width, frame.Height)

	encodeStart := time.Now()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: st.quality}); err != nil {
		st.logger.Warn("jpeg encode failed", zap.Error(err), zap.String("request_id", requestID))
		return module.Error
	}
	metrics.JPEGEncodeLatencyMs.Observe(float64(time.Since(encodeStart).Microseconds()) / 1000.0)

	jpegBytes := buf.Bytes()
	encoded := base64.StdEncoding.EncodeToString(jpegBytes)

	payload := map[string]any{
		"request_id":   requestID,
		"timestamp_us": frame.TimestampUs,
		"frame_id":     frame.FrameID,
		"width":        frame.Width,
		"height":       frame.Height,
		"format":       "jpeg",
		"quality":      st.quality,
		"jpeg_size":    len(jpegBytes),
		"image_base64": encoded,
	}

	topic := "axis-is/camera/" + st.cameraID + "/frame"
	if err := deps.publisher.Publish(topic, payload); err != nil {
		st.logger.Warn("frame publish failed", zap.Error(err), zap.String("reason", reason))
		return module.Error
	}

	atomic.StoreInt64(&st.lastSentUnixNano, time.Now().UnixNano())
	atomic.AddInt64(&st.framesSent, 1)
	metrics.FramesSentTotal.Inc()

	frame.Meta.SetModuleData(Name, map[string]any{
		"frames_sent":          atomic.LoadInt64(&st.framesSent),
		"requests_received":    atomic.LoadInt64(&st.requestsReceived),
		"requests_throttled":   atomic.LoadInt64(&st.requestsThrottled),
		"jpeg_size_bytes":      len(jpegBytes),
		"base64_size_bytes":    len(encoded),
	})

	return module.Success
}
