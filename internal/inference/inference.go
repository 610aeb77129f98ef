// Package inference wraps the accelerator runtime: loading a quantized
// detection model, running one inference per frame, and parsing the raw
// output tensor into normalized detections. See spec §4.4.
package inference

import (
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/axis-is/edge-inference/internal/metadata"
)

// ErrModelLoad is returned when the accelerator runtime fails to load the
// model. The core tolerates this and proceeds without inference.
var ErrModelLoad = errors.New("inference: model load failed")

const (
	inputWidth     = 640
	inputHeight    = 640
	candidateRows  = 25200
	candidateCols  = 85
	numClasses     = candidateCols - 5
	maxDetections  = 100
)

// Runtime abstracts the accelerator connection so tests can substitute a
// fake without talking to real hardware. A production implementation wraps
// the platform's model-loading and tensor-execution API.
type Runtime interface {
	// Open establishes a private connection to the accelerator and loads
	// the model, returning input/output tensor handles sized for this
	// model's layout.
	Open(modelPath string) (Tensors, error)
}

// Tensors is the loaded model's input/output tensor pair.
type Tensors interface {
	// InputSize is the expected byte size of one input frame.
	InputSize() int
	// Execute copies input into the input tensor, runs inference, and
	// returns the raw output tensor as float32 values in row-major
	// (candidateRows x candidateCols) order.
	Execute(input []byte) ([]float32, error)
	// Close releases the tensor handles and the accelerator connection.
	Close() error
}

// LarodResult is the parsed outcome of one inference call.
type LarodResult struct {
	Detections      []metadata.Detection
	InferenceTimeMs float64
}

// Engine owns a loaded model and runs inference against it. It is owned
// exclusively by the core orchestrator; modules only borrow it.
type Engine struct {
	logger    *zap.Logger
	tensors   Tensors
	threshold float64
}

// Load opens the accelerator runtime and loads the model for the given
// confidence threshold. Returns ErrModelLoad on any runtime failure; the
// caller is expected to proceed without inference in that case.
func Load(logger *zap.Logger, runtime Runtime, modelPath string, confidenceThreshold float64) (*Engine, error) {
	tensors, err := runtime.Open(modelPath)
	if err != nil {
		return nil, errors.Join(ErrModelLoad, err)
	}
	if tensors.InputSize() != inputWidth*inputHeight*3/2 {
		tensors.Close()
		return nil, ErrModelLoad
	}
	return &Engine{logger: logger, tensors: tensors, threshold: confidenceThreshold}, nil
}

// Close releases the accelerator connection. Only the orchestrator calls
// this.
func (e *Engine) Close() error {
	if e == nil || e.tensors == nil {
		return nil
	}
	return e.tensors.Close()
}

// Run executes one inference pass over buf and parses the result.
func (e *Engine) Run(buf []byte) (LarodResult, error) {
	start := time.Now()
	raw, err := e.tensors.Execute(buf)
	elapsed := time.Since(start)
	if err != nil {
		return LarodResult{}, err
	}

	detections := parseOutput(raw, e.threshold)
	return LarodResult{
		Detections:      detections,
		InferenceTimeMs: float64(elapsed.Microseconds()) / 1000.0,
	}, nil
}

// parseOutput walks the tensor in row order: (x, y, w, h, objectness, 80
// class scores). A row is kept only if both objectness and
// objectness*bestClassScore are at or above threshold; ties on class score
// resolve to the lowest class id. Box
// coordinates are normalized by the input dimensions. At most
// maxDetections results are kept, in tensor row order, with no re-ranking.
func parseOutput(raw []float32, threshold float64) []metadata.Detection {
	var detections []metadata.Detection
	if len(raw) < candidateRows*candidateCols {
		return detections
	}

	for row := 0; row < candidateRows && len(detections) < maxDetections; row++ {
		base := row * candidateCols
		objectness := float64(raw[base+4])
		if objectness < threshold {
			continue
		}

		bestClass := 0
		bestScore := float64(raw[base+5])
		for c := 1; c < numClasses; c++ {
			score := float64(raw[base+5+c])
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}

		confidence := objectness * bestScore
		if confidence < threshold {
			continue
		}

		x := float64(raw[base]) / inputWidth
		y := float64(raw[base+1]) / inputHeight
		w := float64(raw[base+2]) / inputWidth
		h := float64(raw[base+3]) / inputHeight

		detections = append(detections, metadata.Detection{
			ClassID:    bestClass,
			Confidence: clamp01(confidence),
			X:          clamp01(x),
			Y:          clamp01(y),
			Width:      clamp01(w),
			Height:     clamp01(h),
		})
	}
	return detections
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
