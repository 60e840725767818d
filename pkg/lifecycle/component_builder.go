package lifecycle

import (
	"log/slog"

	"go.opentelemetry.io/otel"

	sserr "github.com/mnemora/mnemora-core/pkg/errors"
)

// BaseComponentBuilder constructs a [BaseComponent] with validated configuration
// and optional lifecycle hooks. Use [NewBaseComponentBuilder] to start building.
//
// The builder follows the fluent API pattern: all configuration methods
// return the builder for chaining. Call [BaseComponentBuilder.Build] to
// validate the configuration and produce the component.
//
// Example:
//
//	component, err := lifecycle.NewBaseComponentBuilder("memory-backend-001", "memory-backend", "1.0.0").
//	    WithCapability(lifecycle.Capability{Name: "memory-write", Version: "1.0.0"}).
//	    WithOnStart(func(ctx context.Context) error {
//	        return db.Health(ctx)
//	    }).
//	    WithOnStop(func(ctx context.Context) error {
//	        db.Close()
//	        return nil
//	    }).
//	    OnStateChange(func(old, new lifecycle.State) {
//	        metrics.ComponentStateTransition(old, new)
//	    }).
//	    Build()
type BaseComponentBuilder struct {
	id            string
	name          string
	version       string
	capabilities  []Capability
	logger        *slog.Logger
	onStart       Hook
	onStop        Hook
	onPause       Hook
	onResume      Hook
	stateHandlers []StateChangeHandler
}

// NewBaseComponentBuilder creates a new builder with the required identity fields.
// The id, name, and version are validated during [BaseComponentBuilder.Build].
//
// Parameters:
//   - id: unique identifier for the component instance (e.g., "memory-backend-a1b2c3")
//   - name: human-readable component type name (e.g., "memory-backend")
//   - version: semantic version of the component implementation (e.g., "1.0.0")
func NewBaseComponentBuilder(id, name, version string) *BaseComponentBuilder {
	return &BaseComponentBuilder{
		id:      id,
		name:    name,
		version: version,
	}
}

// WithCapability adds a single capability to the component. The capability is
// validated and deep-copied during [BaseComponentBuilder.Build] to prevent
// external mutation. Build returns an error if the capability has an empty
// Name or Version.
func (b *BaseComponentBuilder) WithCapability(cap Capability) *BaseComponentBuilder {
	b.capabilities = append(b.capabilities, cap)
	return b
}

// WithCapabilities adds multiple capabilities to the component. Each capability
// is validated and deep-copied during [BaseComponentBuilder.Build].
func (b *BaseComponentBuilder) WithCapabilities(caps []Capability) *BaseComponentBuilder {
	b.capabilities = append(b.capabilities, caps...)
	return b
}

// WithLogger sets a custom [*slog.Logger] for the component. If not called,
// [slog.Default] is used. The logger is used for lifecycle event logging
// and panic recovery messages.
func (b *BaseComponentBuilder) WithLogger(logger *slog.Logger) *BaseComponentBuilder {
	b.logger = logger
	return b
}

// WithOnStart sets the lifecycle hook called during [BaseComponent.Start],
// after the component transitions to [StateStarting] and before it transitions
// to [StateRunning]. Use this to perform component-specific initialization
// (e.g., verifying database connectivity, loading models, subscribing to
// message queues).
func (b *BaseComponentBuilder) WithOnStart(hook Hook) *BaseComponentBuilder {
	b.onStart = hook
	return b
}

// WithOnStop sets the lifecycle hook called during [BaseComponent.Stop],
// after the component transitions to [StateStopping] and before it transitions
// to [StateStopped]. Use this to perform component-specific cleanup (e.g.,
// closing database connections, flushing buffers, unsubscribing from
// message queues).
func (b *BaseComponentBuilder) WithOnStop(hook Hook) *BaseComponentBuilder {
	b.onStop = hook
	return b
}

// WithOnPause sets the lifecycle hook called during [BaseComponent.Pause],
// after the state is validated as [StateRunning] and before the component
// transitions to [StatePaused]. Use this to suspend background workers
// or release non-essential resources while the component is paused.
func (b *BaseComponentBuilder) WithOnPause(hook Hook) *BaseComponentBuilder {
	b.onPause = hook
	return b
}

// WithOnResume sets the lifecycle hook called during [BaseComponent.Resume],
// after the state is validated as [StatePaused] and before the component
// transitions back to [StateRunning]. Use this to restart background
// workers or reacquire resources that were released during pause.
func (b *BaseComponentBuilder) WithOnResume(hook Hook) *BaseComponentBuilder {
	b.onResume = hook
	return b
}

// OnStateChange registers a [StateChangeHandler] that is called on every
// state transition. Multiple handlers may be registered and are called in
// registration order. Handlers execute synchronously under the state mutex
// during [BaseComponent.SetState].
//
// Handlers are defensively copied during [BaseComponentBuilder.Build] to
// prevent external modification of the handler list after construction.
func (b *BaseComponentBuilder) OnStateChange(handler StateChangeHandler) *BaseComponentBuilder {
	b.stateHandlers = append(b.stateHandlers, handler)
	return b
}

// Build validates the configuration and constructs a [*BaseComponent]. Returns
// a [*sserr.Error] with code [sserr.CodeValidation] if any required field
// is empty or any capability has an empty Name or Version.
//
// Build performs defensive copies of all mutable inputs (capabilities,
// state handlers) to prevent external mutation after construction. The
// initial state is [StateUnknown].
func (b *BaseComponentBuilder) Build() (*BaseComponent, error) {
	if b.id == "" {
		return nil, sserr.New(sserr.CodeValidation,
			"lifecycle: component id must not be empty")
	}
	if b.name == "" {
		return nil, sserr.New(sserr.CodeValidation,
			"lifecycle: component name must not be empty")
	}
	if b.version == "" {
		return nil, sserr.New(sserr.CodeValidation,
			"lifecycle: component version must not be empty")
	}

	// Validate and defensively copy capabilities.
	caps := make([]Capability, len(b.capabilities))
	for i, c := range b.capabilities {
		if err := validateCapability(c); err != nil {
			return nil, err
		}
		caps[i] = c.Clone()
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Defensive copy of state handlers.
	handlers := make([]StateChangeHandler, len(b.stateHandlers))
	copy(handlers, b.stateHandlers)

	return &BaseComponent{
		id:            b.id,
		name:          b.name,
		version:       b.version,
		state:         StateUnknown,
		capabilities:  caps,
		tracer:        otel.Tracer(tracerName),
		logger:        logger,
		onStart:       b.onStart,
		onStop:        b.onStop,
		onPause:       b.onPause,
		onResume:      b.onResume,
		stateHandlers: handlers,
	}, nil
}
