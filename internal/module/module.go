// Package module implements the plugin runtime: module registration,
// priority-ordered lifecycle, and the narrow core-API surface every module
// is written against. Modules register themselves statically (via init()
// appending to the package-level registry) rather than through a runtime
// plugin loader — see spec §9's design note on replacing the original's
// linker-section trick.
package module

import (
	"sort"

	"go.uber.org/zap"

	"github.com/axis-is/edge-inference/internal/config"
	"github.com/axis-is/edge-inference/internal/metadata"
	"github.com/axis-is/edge-inference/internal/metrics"
)

// Result is a module's per-tick outcome.
type Result int

const (
	// Success means the module ran normally; continue the pipeline.
	Success Result = iota
	// Skip means the module chose not to participate this tick.
	Skip
	// NotReady means the module has not finished initializing.
	NotReady
	// Error means the module failed; logged as a warning, non-fatal.
	Error
)

// Core is the narrow surface the orchestrator exposes to every module. It
// is passed explicitly to Init/Process rather than reached through a
// global, per spec §9's "prefer to pass the core reference explicitly" note.
type Core interface {
	// Inference returns the core's inference engine, or nil if the model
	// failed to load. Modules borrow it; only the orchestrator closes it.
	Inference() InferenceBorrow
}

// InferenceBorrow is the non-owning handle a module uses to run inference.
// It is intentionally narrower than the full engine type so a module
// cannot reconnect, reload or close it.
type InferenceBorrow interface {
	Run(buf []byte) (Detections, float64, error)
}

// Detections is the slice type returned by an inference run, kept as an
// alias of the metadata type so this package does not need to import the
// inference package directly.
type Detections = []metadata.Detection

// Interface is a module's registration record: name, version, priority
// (lower runs first) and lifecycle hooks.
type Interface struct {
	Name     string
	Version  string
	Priority int

	Init    func(ctx *Context, cfg *config.Config) error
	Process func(ctx *Context, frame *metadata.Data) Result
	Cleanup func(ctx *Context)

	// OnStart and OnStop are optional lifecycle hooks invoked once at
	// orchestrator startup/shutdown.
	OnStart func(ctx *Context)
	OnStop  func(ctx *Context)
}

// Context is a module's private state holder: one per registered module
// for the process lifetime.
type Context struct {
	Name   string
	Config *config.Config
	Core   Core
	State  any
}

var registry []Interface

// Register appends a module to the static registration set. Called from
// each module package's init().
func Register(i Interface) {
	registry = append(registry, i)
}

// Registered returns a copy of the statically registered modules, in
// registration order (before priority sorting).
func Registered() []Interface {
	out := make([]Interface, len(registry))
	copy(out, registry)
	return out
}

// active pairs a surviving module with its context, in priority order.
type active struct {
	iface Interface
	ctx   *Context
}

// Runtime discovers, initializes, runs and tears down the registered
// modules.
type Runtime struct {
	logger *zap.Logger
	active []active
}

// New builds a Runtime from the given modules (normally module.Registered(),
// or an explicit list the caller passes instead), sorted by priority ascending with
// ties broken by registration order (Go's sort.SliceStable preserves input
// order among equal keys).
func New(logger *zap.Logger, modules []Interface, cfg *config.Config, core Core) *Runtime {
	ordered := make([]Interface, len(modules))
	copy(ordered, modules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	rt := &Runtime{logger: logger}
	for _, iface := range ordered {
		ctx := &Context{
			Name:   iface.Name,
			Config: cfg.Sub(iface.Name),
			Core:   core,
		}
		if iface.Init != nil {
			if err := iface.Init(ctx, ctx.Config); err != nil {
				logger.Warn("module init failed, excluding from pipeline",
					zap.String("module", iface.Name), zap.Error(err))
				continue
			}
		}
		rt.active = append(rt.active, active{iface: iface, ctx: ctx})
	}
	return rt
}

// Context returns the active module context for name, or nil if that
// module was never registered or failed initialization. Used to wire
// core-owned resources (like the bus publisher) into a specific module
// after the runtime has constructed its context.
func (r *Runtime) Context(name string) *Context {
	for _, a := range r.active {
		if a.iface.Name == name {
			return a.ctx
		}
	}
	return nil
}

// Start invokes OnStart on every surviving module that defines one.
func (r *Runtime) Start() {
	for _, a := range r.active {
		if a.iface.OnStart != nil {
			a.iface.OnStart(a.ctx)
		}
	}
}

// Process runs every surviving module's Process hook, in priority order,
// for the given frame. A module returning Error is logged and skipped; the
// pipeline never aborts on a single module's failure.
func (r *Runtime) Process(frame *metadata.Data) {
	for _, a := range r.active {
		if a.iface.Process == nil {
			continue
		}
		switch a.iface.Process(a.ctx, frame) {
		case Error:
			r.logger.Warn("module process failed", zap.String("module", a.iface.Name))
			metrics.ModuleErrorsTotal.WithLabelValues(a.iface.Name).Inc()
		case Success, Skip, NotReady:
		}
	}
}

// Shutdown invokes OnStop then Cleanup on every surviving module, in
// reverse priority (i.e. reverse initialization) order.
func (r *Runtime) Shutdown() {
	for i := len(r.active) - 1; i >= 0; i-- {
		a := r.active[i]
		if a.iface.OnStop != nil {
			a.iface.OnStop(a.ctx)
		}
		if a.iface.Cleanup != nil {
			a.iface.Cleanup(a.ctx)
		}
	}
}
