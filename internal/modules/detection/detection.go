// Package detection implements the core detection module (priority 10):
// accelerator inference plus CPU-side scene hash and motion scoring, so the
// pipeline keeps emitting useful metadata even when the model failed to
// load. See spec §4.6.
package detection

import (
	"go.uber.org/zap"

	"github.com/axis-is/edge-inference/internal/config"
	"github.com/axis-is/edge-inference/internal/metadata"
	"github.com/axis-is/edge-inference/internal/metrics"
	"github.com/axis-is/edge-inference/internal/module"
)

// Name is this module's registration name, used as its custom_data key and
// its configuration sub-object key.
const Name = "detection"

// Priority runs the detection module early, before any downstream module
// that depends on detections or motion being present.
const Priority = 10

const (
	sceneHashStride  = 1000
	motionStride     = 100
	motionDeltaThresh = 30
	hashSeed          = 5381
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

// state is this module's private per-process data: the previous frame's
// bytes for motion scoring, and its configuration.
type state struct {
	logger              *zap.Logger
	confidenceThreshold float64
	mlEnabled           bool

	firstFrame  bool
	prevBytes   []byte
}

func initModule(ctx *module.Context, cfg *config.Config) error {
	ctx.State = &state{
		logger:              zap.L().Named(Name),
		confidenceThreshold: cfg.GetFloat("confidence_threshold", 0.25),
		mlEnabled:           true,
		firstFrame:          true,
	}
	return nil
}

func cleanup(ctx *module.Context) {}

func process(ctx *module.Context, frame *metadata.Data) module.Result {
	st, ok := ctx.State.(*state)
	if !ok {
		return module.NotReady
	}

	inferenceMs := 0.0
	numDetections := 0
	mlEnabled := false

	if engine := ctx.Core.Inference(); engine != nil {
		detections, ms, err := engine.Run(frame.Pixels)
		if err != nil {
			st.logger.Warn("inference run failed", zap.Error(err))
			metrics.InferenceFailuresTotal.Inc()
		} else {
			mlEnabled = true
			inferenceMs = ms
			metrics.InferenceLatencyMs.Observe(ms)
			for _, d := range detections {
				frame.Meta.AddDetection(d)
			}
			numDetections = len(detections)
		}
	}

	frame.Meta.SceneHash = sceneHash(frame.Pixels)
	frame.Meta.MotionScore = motionScore(st, frame.Pixels)

	frame.Meta.SetModuleData(Name, map[string]any{
		"inference_time_ms":   inferenceMs,
		"num_detections":      numDetections,
		"confidence_threshold": st.confidenceThreshold,
		"ml_enabled":           mlEnabled,
	})

	return module.Success
}

// sceneHash is a djb2-style hash (h = 5381, h = h*33 + byte) over every
// thousandth byte of the raw frame, truncated to 32 bits.
func sceneHash(pixels []byte) uint32 {
	var h uint64 = hashSeed
	for i := 0; i < len(pixels); i += sceneHashStride {
		h = h*33 + uint64(pixels[i])
	}
	return uint32(h)
}

// motionScore returns 0 on the first frame (after snapshotting it), and on
// subsequent frames the fraction of sampled bytes (every 100th, within
// min(current, stored) size) that changed by more than 30. The stored
// buffer is refreshed to the current frame afterward, and reallocated when
// the frame size changed.
func motionScore(st *state, pixels []byte) float64 {
	if st.firstFrame {
		st.prevBytes = append([]byte(nil), pixels...)
		st.firstFrame = false
		return 0
	}

	limit := len(pixels)
	if len(st.prevBytes) < limit {
		limit = len(st.prevBytes)
	}

	samples := 0
	hits := 0
	for i := 0; i < limit; i += motionStride {
		samples++
		delta := int(pixels[i]) - int(st.prevBytes[i])
		if delta < 0 {
			delta = -delta
		}
		if delta > motionDeltaThresh {
			hits++
		}
	}

	refreshStoredBuffer(st, pixels)

	if samples == 0 {
		return 0
	}
	return float64(hits) / float64(samples)
}

// refreshStoredBuffer reallocates the stored buffer only when the size
// changed, matching the spec's "reallocate if size changed" rule.
func refreshStoredBuffer(st *state, pixels []byte) {
	if len(st.prevBytes) != len(pixels) {
		buf := make([]byte, len(pixels))
		copy(buf, pixels)
		st.prevBytes = buf
		return
	}
	copy(st.prevBytes, pixels)
}
