package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/mnemora/mnemora-core/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
// It follows the Go module path convention for OTel instrumentation libraries.
const tracerName = "github.com/mnemora/mnemora-core/pkg/lifecycle"

// StateChangeHandler is a callback invoked when a component's lifecycle state
// changes. It receives the previous state and the new state.
//
// Handlers execute synchronously under the component's state mutex during
// [BaseComponent.SetState]. Implementations must not block for extended periods
// or call lifecycle methods on the same component, as this will cause a deadlock.
// Handlers that panic are recovered and logged without preventing the state
// change.
//
// Typical uses include emitting metrics, updating orchestration registries,
// and triggering alerts on failure transitions.
type StateChangeHandler func(old, new State)

// Hook is a function called during a lifecycle transition (start, stop,
// pause, resume). It receives the caller's context, which may carry
// deadlines, cancellation signals, and identity information.
//
// If a hook returns a non-nil error, the lifecycle transition is aborted
// and the component transitions to [StateFailed]. Hooks should perform cleanup
// on error to avoid leaving resources in an inconsistent state.
//
// Hooks execute outside the component's state mutex, so they may safely call
// read-only methods ([BaseComponent.State], [BaseComponent.Info]) on the component
// without causing deadlocks.
type Hook func(ctx context.Context) error

// Component defines the lifecycle contract for all components on the Mnemora
// Cloud Platform. Every component — regardless of its specific functionality —
// implements this interface to provide uniform lifecycle management, health
// reporting, and capability discovery to the orchestration layer.
//
// All methods must be safe for concurrent use by multiple goroutines.
//
// The platform provides [BaseComponent] as a ready-to-use implementation
// with thread-safe state management, OpenTelemetry tracing, and hook
// support. Concrete components embed or compose [BaseComponent] and register
// lifecycle hooks via [BaseComponentBuilder] to inject domain-specific
// startup and shutdown logic.
//
// Example (concrete component using BaseComponent):
//
//	type MemoryBackend struct {
//	    *lifecycle.BaseComponent
//	    db *postgres.Client
//	}
//
//	func NewMemoryBackend(db *postgres.Client) (*MemoryBackend, error) {
//	    mb := &MemoryBackend{db: db}
//	    base, err := lifecycle.NewBaseComponentBuilder("memory-backend-001", "memory-backend", "1.0.0").
//	        WithCapability(lifecycle.Capability{Name: "memory-write", Version: "1.0.0"}).
//	        WithOnStart(mb.onStart).
//	        WithOnStop(mb.onStop).
//	        Build()
//	    if err != nil {
//	        return nil, err
//	    }
//	    mb.BaseComponent = base
//	    return mb, nil
//	}
//
//	func (mb *MemoryBackend) onStart(ctx context.Context) error {
//	    return mb.db.Health(ctx) // verify DB before accepting work
//	}
//
//	func (mb *MemoryBackend) onStop(ctx context.Context) error {
//	    mb.db.Close()
//	    return nil
//	}
type Component interface {
	// ID returns the unique identifier of the component instance. IDs are
	// immutable after construction and typically follow the format
	// "<type>-<uuid>" (e.g., "memory-backend-a1b2c3").
	ID() string

	// Name returns the human-readable name of the component (e.g.,
	// "memory-backend"). Names identify the component type, not the instance.
	Name() string

	// Version returns the semantic version of the component implementation
	// (e.g., "1.2.0").
	Version() string

	// Info returns a point-in-time snapshot of the component's identity,
	// state, capabilities, and uptime. The returned [ComponentInfo] is a
	// deep copy safe to serialize or store.
	Info() ComponentInfo

	// Start begins the component's operation. It transitions the component through
	// [StateStarting] to [StateRunning], executing any registered OnStart
	// hook between the two transitions. If the hook fails, the component
	// transitions to [StateFailed].
	//
	// Start may only be called from [StateUnknown], [StateStopped], or
	// [StateFailed]. Calling Start from any other state returns a
	// [sserr.CodeConflict] error.
	//
	// The context controls the deadline for startup; if the context is
	// canceled, Start returns immediately with a [sserr.CodeTimeout] error.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the component. It transitions the component
	// through [StateStopping] to [StateStopped], executing any registered
	// OnStop hook between the two transitions. If the hook fails, the
	// component transitions to [StateFailed].
	//
	// Stop may be called from [StateRunning], [StatePaused], or
	// [StateStarting]. Calling Stop from a terminal state is a no-op
	// and returns nil. Calling Stop from any other state returns a
	// [sserr.CodeConflict] error.
	Stop(ctx context.Context) error

	// Pause temporarily suspends the component's operation. The component retains
	// its resources but stops processing new work. It transitions from
	// [StateRunning] to [StatePaused], executing any registered OnPause
	// hook. If the hook fails, the component transitions to [StateFailed].
	//
	// Pause may only be called from [StateRunning]. Calling Pause from
	// any other state returns a [sserr.CodeConflict] error.
	Pause(ctx context.Context) error

	// Resume restores a paused component to [StateRunning]. It transitions
	// from [StatePaused] to [StateRunning], executing any registered
	// OnResume hook. If the hook fails, the component transitions to
	// [StateFailed].
	//
	// Resume may only be called from [StatePaused]. Calling Resume from
	// any other state returns a [sserr.CodeConflict] error.
	Resume(ctx context.Context) error

	// State returns the current lifecycle state of the component.
	State() State

	// Capabilities returns the list of capabilities supported by this
	// component. The returned slice is a defensive copy; modifying it does
	// not affect the component's internal state.
	Capabilities() []Capability

	// Health performs a health check on the component. Returns nil if the
	// component is in [StateRunning], or a [sserr.CodeUnavailable] error
	// describing the current state otherwise. Concrete components may
	// override this method to add deeper health checks (e.g., verifying
	// database connectivity).
	Health(ctx context.Context) error
}

// ComponentInfo provides a point-in-time snapshot of a component's identity,
// state, capabilities, and uptime. It is returned by [Component.Info] and
// is safe to serialize to JSON for API responses, health endpoints,
// and orchestration registries.
//
// The Uptime field is computed at the time Info() is called and reflects
// the elapsed time since the component entered [StateRunning]. It is zero
// if the component has not yet started or has been stopped.
type ComponentInfo struct {
	// ID is the unique identifier of the component instance.
	ID string `json:"id"`

	// Name is the human-readable name of the component type.
	Name string `json:"name"`

	// Version is the semantic version of the component implementation.
	Version string `json:"version"`

	// State is the current lifecycle state of the component.
	State State `json:"state"`

	// Capabilities is the list of capabilities the component supports.
	Capabilities []Capability `json:"capabilities"`

	// StartedAt is the time the component entered StateRunning. Nil if the
	// component has not started or has been stopped.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// Uptime is the elapsed time since the component entered StateRunning.
	// Zero if the component is not currently running.
	Uptime time.Duration `json:"uptime,omitempty"`
}

// BaseComponent provides a thread-safe base implementation of the [Component]
// interface with lifecycle state management, observer hooks, and
// OpenTelemetry tracing. It is the recommended foundation for all
// concrete component implementations on the Mnemora Platform.
//
// A BaseComponent is safe for concurrent use by multiple goroutines. Create
// one using [BaseComponentBuilder] and share it across the application.
//
// BaseComponent enforces a state machine that prevents invalid lifecycle
// transitions. All state changes are validated against the transition
// matrix defined in [validTransitions]. State change observers registered
// via [BaseComponentBuilder.OnStateChange] are notified synchronously on
// every transition.
//
// Lifecycle hooks (OnStart, OnStop, OnPause, OnResume) execute outside
// the state mutex to prevent deadlocks. If a hook fails, the component
// transitions to [StateFailed] and the error is wrapped with a platform
// error code.
type BaseComponent struct {
	// Immutable fields — set at construction, never modified. These do
	// not require mutex protection.
	id      string
	name    string
	version string

	// Mutable fields — protected by mu.
	mu           sync.RWMutex
	state        State
	capabilities []Capability
	startedAt    *time.Time

	// Observability — set at construction, never modified.
	tracer trace.Tracer
	logger *slog.Logger

	// Lifecycle hooks — set at construction via builder, never modified.
	onStart  Hook
	onStop   Hook
	onPause  Hook
	onResume Hook

	// State change observers — set at construction via builder, never modified.
	stateHandlers []StateChangeHandler
}

// Compile-time interface compliance check. This ensures that *BaseComponent
// satisfies the Component interface at compile time rather than at runtime.
var _ Component = (*BaseComponent)(nil)

// ID returns the unique identifier of the component. This value is immutable
// after construction.
func (a *BaseComponent) ID() string {
	return a.id
}

// Name returns the human-readable name of the component. This value is
// immutable after construction.
func (a *BaseComponent) Name() string {
	return a.name
}

// Version returns the semantic version of the component. This value is
// immutable after construction.
func (a *BaseComponent) Version() string {
	return a.version
}

// State returns the current lifecycle state of the component. This method
// is safe for concurrent use.
func (a *BaseComponent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Capabilities returns a defensive copy of the component's registered
// capabilities. Modifying the returned slice or its elements does not
// affect the component's internal state. This method is safe for concurrent
// use.
func (a *BaseComponent) Capabilities() []Capability {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return cloneCapabilities(a.capabilities)
}

// Info returns a point-in-time snapshot of the component's identity, state,
// capabilities, and uptime. The returned [ComponentInfo] contains deep copies
// of all mutable fields and is safe to serialize to JSON. This method is
// safe for concurrent use.
func (a *BaseComponent) Info() ComponentInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()

	info := ComponentInfo{
		ID:           a.id,
		Name:         a.name,
		Version:      a.version,
		State:        a.state,
		Capabilities: cloneCapabilities(a.capabilities),
	}

	if a.startedAt != nil && a.state == StateRunning {
		t := *a.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}

	return info
}

// Health performs a health check on the component. Returns nil if the component is
// in [StateRunning], or a [*sserr.Error] with code
// [sserr.CodeUnavailable] if the component is in any other state.
//
// Concrete components may embed BaseComponent and override this method to add
// deeper health checks (e.g., verifying database or vector index
// connectivity).
//
// Example:
//
//	func (mb *MemoryBackend) Health(ctx context.Context) error {
//	    if err := mb.BaseComponent.Health(ctx); err != nil {
//	        return err
//	    }
//	    return mb.db.Health(ctx)
//	}
func (a *BaseComponent) Health(ctx context.Context) error {
	state := a.State()
	if state != StateRunning {
		return sserr.Newf(sserr.CodeUnavailable,
			"lifecycle: component is not running, current state is %q", state)
	}
	return nil
}

// SetState transitions the component to the given state after validating the
// transition against the lifecycle state machine. Returns a
// [*sserr.Error] with code [sserr.CodeConflict] if the transition is
// not allowed.
//
// On a successful transition, all registered [StateChangeHandler]
// functions are called synchronously with the old and new state values.
// Handlers execute under the state mutex; they must not call lifecycle
// methods on the same component or block for extended periods.
//
// SetState is exported for use by concrete component implementations that
// need to set state programmatically (e.g., transitioning to
// [StateFailed] when an internal error is detected).
//
// Example:
//
//	if err := criticalOperation(); err != nil {
//	    slog.ErrorContext(ctx, "lifecycle: critical operation failed", "error", err)
//	    _ = component.SetState(lifecycle.StateFailed)
//	}
func (a *BaseComponent) SetState(new State) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	old := a.state
	if !ValidTransition(old, new) {
		return sserr.Newf(sserr.CodeConflict,
			"lifecycle: invalid state transition from %q to %q", old, new)
	}

	a.state = new

	// Notify state change handlers under the lock to guarantee ordering.
	// Each handler is called in a deferred-recover wrapper to prevent a
	// panicking handler from crashing the component or corrupting state.
	for _, h := range a.stateHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("lifecycle: state change handler panicked",
						"panic", r,
						"component_id", a.id,
						"old_state", string(old),
						"new_state", string(new),
					)
				}
			}()
			h(old, new)
		}()
	}

	return nil
}

// Start begins the component's operation. It transitions the component through
// [StateStarting] to [StateRunning], executing any registered OnStart
// hook between the two transitions.
//
// The context controls the deadline for startup. If the context is
// already canceled, Start returns immediately without modifying state.
//
// If the OnStart hook returns an error, the component transitions to
// [StateFailed] and the error is returned wrapped with
// [sserr.CodeInternal].
func (a *BaseComponent) Start(ctx context.Context) error {
	ctx, span := a.tracer.Start(ctx, "lifecycle.Start",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("component.id", a.id),
			attribute.String("component.name", a.name),
		),
	)
	defer span.End()

	// Check context before acquiring the lock.
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return sserr.Wrap(err, sserr.CodeTimeout,
			"lifecycle: start canceled before execution")
	}

	// Transition to Starting.
	if err := a.SetState(StateStarting); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	a.logger.InfoContext(ctx, "lifecycle: starting component",
		"component_id", a.id,
		"component_name", a.name,
		"component_version", a.version,
	)

	// Execute the OnStart hook outside the lock.
	if a.onStart != nil {
		if err := a.onStart(ctx); err != nil {
			a.logger.ErrorContext(ctx, "lifecycle: start hook failed",
				"component_id", a.id,
				"error", err,
			)
			_ = a.SetState(StateFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return sserr.Wrap(err, sserr.CodeInternal,
				"lifecycle: start hook failed")
		}
	}

	// Transition to Running and record the start timestamp.
	if err := a.SetState(StateRunning); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	now := time.Now().UTC()
	a.mu.Lock()
	a.startedAt = &now
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "lifecycle: component started",
		"component_id", a.id,
		"component_name", a.name,
	)
	span.SetStatus(codes.Ok, "")

	return nil
}

// Stop gracefully shuts down the component. It transitions the component through
// [StateStopping] to [StateStopped], executing any registered OnStop hook
// between the two transitions.
//
// If the component is already in a terminal state ([StateStopped] or
// [StateFailed]), Stop is a no-op and returns nil. This makes it safe
// to call Stop multiple times or in a deferred cleanup.
//
// If the OnStop hook returns an error, the component transitions to
// [StateFailed] and the error is returned wrapped with
// [sserr.CodeInternal].
func (a *BaseComponent) Stop(ctx context.Context) error {
	ctx, span := a.tracer.Start(ctx, "lifecycle.Stop",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("component.id", a.id),
			attribute.String("component.name", a.name),
		),
	)
	defer span.End()

	// Terminal states: Stop is a no-op.
	if a.State().IsTerminal() {
		span.SetStatus(codes.Ok, "")
		return nil
	}

	// Check context before proceeding.
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return sserr.Wrap(err, sserr.CodeTimeout,
			"lifecycle: stop canceled before execution")
	}

	// Transition to Stopping.
	if err := a.SetState(StateStopping); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	a.logger.InfoContext(ctx, "lifecycle: stopping component",
		"component_id", a.id,
		"component_name", a.name,
	)

	// Execute the OnStop hook outside the lock.
	if a.onStop != nil {
		if err := a.onStop(ctx); err != nil {
			a.logger.ErrorContext(ctx, "lifecycle: stop hook failed",
				"component_id", a.id,
				"error", err,
			)
			_ = a.SetState(StateFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return sserr.Wrap(err, sserr.CodeInternal,
				"lifecycle: stop hook failed")
		}
	}

	// Transition to Stopped and clear the start timestamp.
	if err := a.SetState(StateStopped); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	a.mu.Lock()
	a.startedAt = nil
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "lifecycle: component stopped",
		"component_id", a.id,
		"component_name", a.name,
	)
	span.SetStatus(codes.Ok, "")

	return nil
}

// Pause temporarily suspends the component's operation. It transitions from
// [StateRunning] to [StatePaused], executing any registered OnPause hook.
//
// If the OnPause hook returns an error, the component transitions to
// [StateFailed] and the error is returned wrapped with
// [sserr.CodeInternal].
func (a *BaseComponent) Pause(ctx context.Context) error {
	ctx, span := a.tracer.Start(ctx, "lifecycle.Pause",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("component.id", a.id),
			attribute.String("component.name", a.name),
		),
	)
	defer span.End()

	// Check context before proceeding.
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return sserr.Wrap(err, sserr.CodeTimeout,
			"lifecycle: pause canceled before execution")
	}

	// Validate that we're in a state that can be paused (Running).
	// The state machine enforces this: only Running -> Paused is valid.
	if err := a.SetState(StatePaused); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	a.logger.InfoContext(ctx, "lifecycle: pausing component",
		"component_id", a.id,
		"component_name", a.name,
	)

	// Execute the OnPause hook outside the lock.
	if a.onPause != nil {
		if err := a.onPause(ctx); err != nil {
			a.logger.ErrorContext(ctx, "lifecycle: pause hook failed",
				"component_id", a.id,
				"error", err,
			)
			_ = a.SetState(StateFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return sserr.Wrap(err, sserr.CodeInternal,
				"lifecycle: pause hook failed")
		}
	}

	a.logger.InfoContext(ctx, "lifecycle: component paused",
		"component_id", a.id,
		"component_name", a.name,
	)
	span.SetStatus(codes.Ok, "")

	return nil
}

// Resume restores a paused component to [StateRunning]. It transitions from
// [StatePaused] to [StateRunning], executing any registered OnResume hook.
//
// If the OnResume hook returns an error, the component transitions to
// [StateFailed] and the error is returned wrapped with
// [sserr.CodeInternal].
func (a *BaseComponent) Resume(ctx context.Context) error {
	ctx, span := a.tracer.Start(ctx, "lifecycle.Resume",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("component.id", a.id),
			attribute.String("component.name", a.name),
		),
	)
	defer span.End()

	// Check context before proceeding.
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return sserr.Wrap(err, sserr.CodeTimeout,
			"lifecycle: resume canceled before execution")
	}

	// Validate that we're paused. The state machine enforces this:
	// only Paused -> Running is valid for Resume.
	if err := a.SetState(StateRunning); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	a.logger.InfoContext(ctx, "lifecycle: resuming component",
		"component_id", a.id,
		"component_name", a.name,
	)

	// Execute the OnResume hook outside the lock.
	if a.onResume != nil {
		if err := a.onResume(ctx); err != nil {
			a.logger.ErrorContext(ctx, "lifecycle: resume hook failed",
				"component_id", a.id,
				"error", err,
			)
			_ = a.SetState(StateFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return sserr.Wrap(err, sserr.CodeInternal,
				"lifecycle: resume hook failed")
		}
	}

	a.logger.InfoContext(ctx, "lifecycle: component resumed",
		"component_id", a.id,
		"component_name", a.name,
	)
	span.SetStatus(codes.Ok, "")

	return nil
}

// cloneCapabilities returns a deep copy of a capability slice, including
// independent copies of each capability's metadata map.
func cloneCapabilities(caps []Capability) []Capability {
	if caps == nil {
		return []Capability{}
	}
	cloned := make([]Capability, len(caps))
	for i, c := range caps {
		cloned[i] = c.Clone()
	}
	return cloned
}
