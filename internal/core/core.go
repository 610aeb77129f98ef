// Package core implements the orchestrator: the single process-wide owner
// of the video source, DLPU coordinator, inference engine, bus client and
// module runtime, driving the cooperative single-threaded tick loop. See
// spec §4.8 and §5.
package core

import (
	"context"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/axis-is/edge-inference/internal/bus"
	"github.com/axis-is/edge-inference/internal/config"
	"github.com/axis-is/edge-inference/internal/dlpu"
	"github.com/axis-is/edge-inference/internal/inference"
	"github.com/axis-is/edge-inference/internal/metadata"
	"github.com/axis-is/edge-inference/internal/metrics"
	"github.com/axis-is/edge-inference/internal/module"
	"github.com/axis-is/edge-inference/internal/modules/framepublisher"
	"github.com/axis-is/edge-inference/internal/video"
)

const defaultModelPath = "/usr/local/packages/edge_inference/model/yolov5n_artpec8_coco_640.tflite"

// engineBorrow narrows *inference.Engine down to the module.InferenceBorrow
// surface so modules can run inference but never reconnect or close it.
type engineBorrow struct{ engine *inference.Engine }

func (b engineBorrow) Run(buf []byte) (module.Detections, float64, error) {
	result, err := b.engine.Run(buf)
	if err != nil {
		return nil, 0, err
	}
	return result.Detections, result.InferenceTimeMs, nil
}

// Context is the process-wide orchestrator state. There is exactly one for
// the lifetime of the process.
type Context struct {
	logger *zap.Logger
	cfg    *config.Config

	cameraID  string
	targetFPS int

	dlpuCoord *dlpu.Coordinator
	videoSrc  *video.Source
	engine    *inference.Engine // nil if load failed
	runtime   *module.Runtime
	publisher bus.Publisher

	sequence  int64
	startTime time.Time
}

// Inference implements module.Core, returning nil when the model failed to
// load at startup.
func (c *Context) Inference() module.InferenceBorrow {
	if c.engine == nil {
		return nil
	}
	return engineBorrow{engine: c.engine}
}

// Options bundles the collaborators New needs to construct that the spec
// treats as external (video driver, accelerator runtime, bus publisher),
// so tests can substitute fakes for all of them.
type Options struct {
	Driver    video.Driver
	Runtime   inference.Runtime
	Publisher bus.Publisher
	Modules   []module.Interface
}

// New builds the orchestrator: loads configuration-derived parameters,
// initializes the DLPU coordinator and video source (fatal on failure, per
// spec §7), attempts to load the inference engine (tolerated on failure),
// and discovers/initializes modules.
func New(logger *zap.Logger, cfg *config.Config, opts Options) (*Context, error) {
	cameraID := cfg.GetString("camera_id", "axis-camera-001")
	targetFPS := cfg.GetInt("target_fps", 10)
	dlpuIndex := cfg.GetInt("dlpu_index", 0)

	c := &Context{
		logger:    logger,
		cfg:       cfg,
		cameraID:  cameraID,
		targetFPS: targetFPS,
		publisher: opts.Publisher,
		startTime: time.Now(),
	}

	c.dlpuCoord = dlpu.New(logger.Named("dlpu"), dlpuIndex)

	c.videoSrc = video.New(logger.Named("video"), opts.Driver, video.Config{
		TargetFPS: targetFPS,
		PoolSize:  4,
	})

	detCfg := cfg.Sub("detection")
	modelPath := detCfg.GetString("model_path", defaultModelPath)
	threshold := detCfg.GetFloat("confidence_threshold", cfg.GetFloat("confidence_threshold", 0.25))

	if opts.Runtime == nil {
		logger.Warn("no accelerator runtime configured, continuing without ML")
	} else if engine, err := inference.Load(logger.Named("inference"), opts.Runtime, modelPath, threshold); err != nil {
		logger.Warn("inference engine failed to load, continuing without ML", zap.Error(err))
	} else {
		c.engine = engine
	}

	modules := opts.Modules
	if modules == nil {
		modules = module.Registered()
	}
	c.runtime = module.New(logger.Named("module"), modules, cfg, c)

	if fpCtx := c.runtime.Context(framepublisher.Name); fpCtx != nil && opts.Publisher != nil {
		framepublisher.Wire(fpCtx, opts.Publisher, decodePlanarFrame)
	}

	return c, nil
}

// decodePlanarFrame converts the engine's planar luma+chroma buffer into a
// grayscale image for JPEG encoding. The spec's frame format is a
// luma-plane-first layout; only the luma plane carries visual detail the
// cloud-side viewer needs, so the chroma plane is dropped rather than
// implementing a full YCbCr-to-RGB conversion the spec never asks for.
func decodePlanarFrame(pixels []byte, width, height int) image.Image {
	img := image.NewGray(image.Rect(0, 0, width, height))
	lumaSize := width * height
	if lumaSize > len(pixels) {
		lumaSize = len(pixels)
	}
	copy(img.Pix, pixels[:lumaSize])
	return img
}

// FrameRequestHandler returns the frame-publisher module's bus.RequestHandler,
// or nil if that module was never registered or failed initialization. The
// caller (the process entrypoint) wires this to the bus subscription; the
// orchestrator itself never talks to the subscriber directly.
func (c *Context) FrameRequestHandler() bus.RequestHandler {
	fpCtx := c.runtime.Context(framepublisher.Name)
	if fpCtx == nil {
		return nil
	}
	if h, ok := fpCtx.State.(bus.RequestHandler); ok {
		return h
	}
	return nil
}

// Start invokes on_start on every surviving module.
func (c *Context) Start() {
	c.runtime.Start()
}

// Tick runs exactly one frame period: wait for the DLPU slot, capture a
// frame, walk every module, publish aggregated metadata, and release
// resources on every exit path. Returns false if the frame was dropped (no
// sequence number consumed, no metadata published).
func (c *Context) Tick() bool {
	c.dlpuCoord.WaitForSlot()

	buf, err := c.videoSrc.CaptureFrame()
	if err != nil {
		metrics.FramesDroppedTotal.Inc()
		c.dlpuCoord.ReleaseSlot()
		return false
	}
	defer buf.Release()

	metrics.FramesCapturedTotal.Inc()

	seq := c.sequence
	c.sequence++

	meta := metadata.NewFrame(seq, time.Now().UnixMicro())
	frameData := &metadata.Data{
		Buffer:      buf,
		Pixels:      buf.Pixels(),
		Width:       video.Width,
		Height:      video.Height,
		Format:      "yuv420p",
		TimestampUs: meta.TimestampUs,
		FrameID:     seq,
		Meta:        meta,
	}

	c.runtime.Process(frameData)

	c.dlpuCoord.ReleaseSlot()

	c.publishMetadata(meta)

	metrics.SequenceGauge.Set(float64(seq))
	return true
}

func (c *Context) publishMetadata(meta *metadata.Frame) {
	detections := make([]map[string]any, 0, len(meta.Detections))
	for _, d := range meta.Detections {
		detections = append(detections, map[string]any{
			"class_id":   d.ClassID,
			"confidence": d.Confidence,
			"x":          d.X,
			"y":          d.Y,
			"width":      d.Width,
			"height":     d.Height,
		})
	}

	payload := map[string]any{
		"camera_id":    c.cameraID,
		"timestamp_us": meta.TimestampUs,
		"sequence":     meta.Sequence,
		"motion_score": meta.MotionScore,
		"object_count": meta.ObjectCount,
		"scene_hash":   meta.SceneHash,
		"detections":   detections,
		"modules":      meta.CustomData,
	}

	topic := "axis-is/camera/" + c.cameraID + "/metadata"
	if err := c.publisher.Publish(topic, payload); err != nil {
		c.logger.Warn("metadata publish failed", zap.Error(err))
		metrics.PublishFailuresTotal.WithLabelValues(topic).Inc()
		return
	}
	metrics.MetadataPublishedTotal.Inc()
}

// Run drives the tick loop at the target frame cadence until ctx is
// cancelled. The current tick always runs to completion before shutdown is
// observed (spec §5).
func (c *Context) Run(ctx context.Context) {
	period := time.Second / time.Duration(c.targetFPS)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Shutdown unwinds initialization in reverse order: modules first, then the
// inference engine, then the video source, then the DLPU coordinator.
func (c *Context) Shutdown() {
	c.runtime.Shutdown()
	if c.engine != nil {
		if err := c.engine.Close(); err != nil {
			c.logger.Warn("inference engine close failed", zap.Error(err))
		}
	}
	// The video source and DLPU coordinator hold no OS handles beyond their
	// in-process buffer pool and sleep timer, so there is nothing left to
	// release explicitly beyond what garbage collection reclaims.
}
