// Package metadata holds the per-frame data types shared by the core
// orchestrator and every module: detections, the aggregated MetadataFrame,
// and the transient FrameData context passed through the pipeline.
package metadata

// Detection is an immutable object-detection result, normalized to [0,1]
// against the captured frame's dimensions.
type Detection struct {
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

const initialDetectionCapacity = 32

// Frame is the mutable per-frame record created at capture time and owned
// by the orchestrator for the duration of one tick. CustomData holds one
// sub-object per module, keyed by module name.
type Frame struct {
	TimestampUs int64
	Sequence    int64
	MotionScore float64
	ObjectCount int
	SceneHash   uint32
	Detections  []Detection
	CustomData  map[string]any
}

// NewFrame allocates a Frame with the detections slice pre-sized per the
// spec's initial-capacity-32 rule. Go's append already doubles on overflow,
// so no manual growth bookkeeping is needed beyond this initial cap.
func NewFrame(sequence int64, timestampUs int64) *Frame {
	return &Frame{
		TimestampUs: timestampUs,
		Sequence:    sequence,
		Detections:  make([]Detection, 0, initialDetectionCapacity),
		CustomData:  make(map[string]any),
	}
}

// AddDetection appends a detection and keeps ObjectCount in sync, preserving
// the invariant object_count == len(detections) after every mutation.
func (f *Frame) AddDetection(d Detection) {
	f.Detections = append(f.Detections, d)
	f.ObjectCount = len(f.Detections)
}

// SetModuleData writes a module's sub-object into custom_data, keyed by the
// module's own name.
func (f *Frame) SetModuleData(moduleName string, data any) {
	f.CustomData[moduleName] = data
}

// Data is the transient per-tick context handed to every module. It is
// borrowed: modules must not retain Buffer or Pixels past Process returning.
type Data struct {
	Buffer      FrameBuffer
	Pixels      []byte
	Width       int
	Height      int
	Format      string
	TimestampUs int64
	FrameID     int64
	Meta        *Frame
}

// FrameBuffer is the handle a video source hands back on capture and that
// must be released exactly once on every exit path.
type FrameBuffer interface {
	// Release returns the buffer to the source's pool.
	Release()
}
