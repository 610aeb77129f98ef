package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/axis-is/edge-inference/internal/config"
	"github.com/axis-is/edge-inference/internal/metadata"
	"github.com/axis-is/edge-inference/internal/module"
)

type fakeCore struct {
	borrow module.InferenceBorrow
}

func (c fakeCore) Inference() module.InferenceBorrow { return c.borrow }

type fakeEngine struct {
	detections []metadata.Detection
	ms         float64
	err        error
}

func (e fakeEngine) Run(buf []byte) (module.Detections, float64, error) {
	return e.detections, e.ms, e.err
}

func newFrame(pixels []byte) *metadata.Data {
	return &metadata.Data{
		Pixels: pixels,
		Meta:   metadata.NewFrame(0, 0),
	}
}

func TestSceneHash_IdenticalBytesProduceIdenticalHash(t *testing.T) {
	// Arrange
	pixels := make([]byte, 5000)
	for i := range pixels {
		pixels[i] = byte(i % 256)
	}

	// Act
	h1 := sceneHash(pixels)
	h2 := sceneHash(pixels)

	// Assert
	assert.Equal(t, h1, h2)
}

func TestSceneHash_DifferentBytesProduceDifferentHash(t *testing.T) {
	// Arrange
	a := make([]byte, 5000)
	b := make([]byte, 5000)
	for i := range b {
		b[i] = byte(i % 256)
	}

	// Act & Assert
	assert.NotEqual(t, sceneHash(a), sceneHash(b))
}

func TestMotionScore_FirstFrame_ReturnsZero(t *testing.T) {
	// Arrange
	st := &state{firstFrame: true}
	pixels := make([]byte, 1000)

	// Act
	score := motionScore(st, pixels)

	// Assert
	assert.Equal(t, 0.0, score)
	assert.False(t, st.firstFrame)
}

func TestMotionScore_IdenticalFrames_ReturnsZero(t *testing.T) {
	// Arrange
	st := &state{firstFrame: true}
	a := make([]byte, 1000)
	motionScore(st, a) // snapshot

	// Act
	score := motionScore(st, a)

	// Assert
	assert.Equal(t, 0.0, score)
}

func TestMotionScore_AllBytesFlip_ReturnsOne(t *testing.T) {
	// Arrange: frame A all zero, frame B all 255 — every sampled delta is
	// 255 > 30, per spec scenario 2.
	st := &state{firstFrame: true}
	a := make([]byte, 1000)
	motionScore(st, a)
	b := make([]byte, 1000)
	for i := range b {
		b[i] = 255
	}

	// Act
	score := motionScore(st, b)

	// Assert
	assert.Equal(t, 1.0, score)
}

func TestMotionScore_SmallDelta_ReturnsZero(t *testing.T) {
	// Arrange: delta of exactly 30 must not count (threshold is > 30).
	st := &state{firstFrame: true}
	a := make([]byte, 1000)
	motionScore(st, a)
	b := make([]byte, 1000)
	for i := range b {
		b[i] = 30
	}

	// Act
	score := motionScore(st, b)

	// Assert
	assert.Equal(t, 0.0, score)
}

func TestMotionScore_ResizedBuffer_Reallocates(t *testing.T) {
	// Arrange
	st := &state{firstFrame: true}
	a := make([]byte, 1000)
	motionScore(st, a)

	// Act: a differently-sized frame must not panic and must refresh the
	// stored buffer to the new size.
	b := make([]byte, 500)
	score := motionScore(st, b)

	// Assert
	assert.Equal(t, 0.0, score)
	assert.Len(t, st.prevBytes, 500)
}

func TestProcess_NoInferenceEngine_MLDisabled(t *testing.T) {
	// Arrange
	ctx := &module.Context{Core: fakeCore{borrow: nil}}
	initModule(ctx, config.New(nil))
	frame := newFrame(make([]byte, 2000))

	// Act
	result := process(ctx, frame)

	// Assert
	assert.Equal(t, module.Success, result)
	assert.Empty(t, frame.Meta.Detections)
	data := frame.Meta.CustomData[Name].(map[string]any)
	assert.Equal(t, false, data["ml_enabled"])
	assert.Equal(t, 0, data["num_detections"])
}

func TestProcess_WithInferenceEngine_AppendsDetections(t *testing.T) {
	// Arrange
	dets := []metadata.Detection{{ClassID: 3, Confidence: 0.9}}
	ctx := &module.Context{Core: fakeCore{borrow: fakeEngine{detections: dets, ms: 12.5}}}
	initModule(ctx, config.New(nil))
	frame := newFrame(make([]byte, 2000))

	// Act
	result := process(ctx, frame)

	// Assert
	assert.Equal(t, module.Success, result)
	assert.Equal(t, 1, frame.Meta.ObjectCount)
	data := frame.Meta.CustomData[Name].(map[string]any)
	assert.Equal(t, true, data["ml_enabled"])
	assert.Equal(t, 1, data["num_detections"])
	assert.Equal(t, 12.5, data["inference_time_ms"])
}

func TestProcess_InferenceError_KeepsHashAndMotionRunning(t *testing.T) {
	// Arrange
	ctx := &module.Context{Core: fakeCore{borrow: fakeEngine{err: assertErr("accelerator timeout")}}}
	initModule(ctx, config.New(nil))
	frame := newFrame(make([]byte, 2000))

	// Act
	result := process(ctx, frame)

	// Assert
	assert.Equal(t, module.Success, result)
	assert.Empty(t, frame.Meta.Detections)
	data := frame.Meta.CustomData[Name].(map[string]any)
	assert.Equal(t, false, data["ml_enabled"])
	// scene hash/motion must still have run
	assert.NotEqual(t, uint32(0), frame.Meta.SceneHash)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
