package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/axis-is/edge-inference/internal/bus"
	"github.com/axis-is/edge-inference/internal/core"
	"github.com/axis-is/edge-inference/internal/inference"
)

// platformVideoDriver talks to the board's video capture pipeline. Left
// unimplemented here: the capture driver is an external collaborator the
// spec specifies only by interface (spec §1, §6) — a real build links this
// against the platform SDK.
type platformVideoDriver struct{}

func (platformVideoDriver) NextFrame(dst []byte) bool {
	return false
}

// platformAcceleratorRuntime talks to the board's neural accelerator
// runtime. Left unimplemented here for the same reason: the accelerator
// runtime is an external collaborator (spec §1).
type platformAcceleratorRuntime struct {
	logger *zap.Logger
}

func (r platformAcceleratorRuntime) Open(modelPath string) (inference.Tensors, error) {
	return nil, errors.New("platform accelerator runtime not linked in this build")
}

// wireFrameRequestSubscription connects the bus subscriber to the
// orchestrator's frame-publisher module, so an inbound frame_request
// message reaches the module's latest-wins pending-request slot.
func wireFrameRequestSubscription(ctx context.Context, orchestrator *core.Context, subscriber *bus.Subscriber, topic string) error {
	handler := orchestrator.FrameRequestHandler()
	if handler == nil {
		return errors.New("frame publisher module not active")
	}
	return subscriber.Run(ctx, topic, handler)
}
