package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/eventbus"
	"github.com/hupe1980/agentcore/internal/util"
	"github.com/hupe1980/agentcore/internal/validate"
	"github.com/hupe1980/agentcore/logging"
	"github.com/hupe1980/agentcore/middleware"
	"github.com/hupe1980/agentcore/model"
	"github.com/hupe1980/agentcore/observer"
	"github.com/hupe1980/agentcore/policy"
	"github.com/hupe1980/agentcore/scheduler"
	"github.com/hupe1980/agentcore/tool"
)

type observerEntry struct {
	name      string
	predicate observer.Predicate
	handler   observer.Handler
}

// Engine drives agentic-loop runs for one agent: a model invoker, a tool
// registry, a middleware pipeline and a set of observers.
//
// An Engine is safe for concurrent use; every Run gets its own event bus,
// observer registry and scheduler. Middleware and observers added after a
// run started take effect from the next run on.
type Engine struct {
	invoker  model.Invoker
	registry *tool.Registry
	opts     Options
	pipeline *middleware.Pipeline
	logger   logging.Logger

	mu        sync.RWMutex
	observers []observerEntry
}

// New creates an Engine. A nil registry means the agent has no tools.
//
// The circuit breaker and error threshold policies are installed first,
// followed by the permission policy (when RequirePermissions is set) and
// then Options.Middleware.
func New(invoker model.Invoker, registry *tool.Registry, optFns ...func(o *Options)) (*Engine, error) {
	if invoker == nil {
		return nil, errors.New("engine: model invoker is required")
	}

	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := validate.Struct(opts.Config); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	if registry == nil {
		var err error
		if registry, err = tool.NewRegistry(); err != nil {
			return nil, err
		}
	}
	registry.SetLogger(opts.Logger)

	pipeline := middleware.NewPipeline()
	if opts.CircuitBreakerThreshold > 0 {
		pipeline.Use(policy.NewCircuitBreaker(opts.CircuitBreakerThreshold))
	}
	if opts.MaxConsecutiveErrors > 0 {
		pipeline.Use(policy.NewErrorThreshold(opts.MaxConsecutiveErrors, opts.Classifier))
	}
	if opts.RequirePermissions {
		pipeline.Use(policy.NewPermission(registry.RequiresPermission, func(o *policy.PermissionOptions) {
			o.Timeout = opts.ResponseTimeout
		}))
	}
	pipeline.Use(opts.Middleware...)

	return &Engine{
		invoker:  invoker,
		registry: registry,
		opts:     opts,
		pipeline: pipeline,
		logger:   logging.With(opts.Logger, "agent", opts.Name),
	}, nil
}

// Name returns the agent name.
func (e *Engine) Name() string { return e.opts.Name }

// Registry returns the tool registry.
func (e *Engine) Registry() *tool.Registry { return e.registry }

// Use appends middleware to the pipeline.
func (e *Engine) Use(mws ...middleware.Middleware) {
	e.pipeline.Use(mws...)
}

// AddObserver registers an observer for every subsequent run. A nil
// predicate matches all events.
func (e *Engine) AddObserver(name string, predicate observer.Predicate, handler observer.Handler) error {
	if name == "" {
		return errors.New("engine: observer name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("engine: observer %s: handler must not be nil", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range e.observers {
		if o.name == name {
			return fmt.Errorf("engine: observer %s already registered", name)
		}
	}
	e.observers = append(e.observers, observerEntry{name: name, predicate: predicate, handler: handler})
	return nil
}

// RunOptions configures a single run.
type RunOptions struct {
	// RunID identifies the run; a uuid is generated when empty.
	RunID string

	// State resumes from an existing snapshot. The run's messages are
	// appended to its history.
	State *core.ExecutionState

	// Parent makes the run's bus a child of a parent run's bus so its
	// events bubble up with attribution.
	Parent *eventbus.Bus

	// Variables are available to the instructions template.
	Variables map[string]any

	// OnFinish is called with the final result before the event stream
	// closes.
	OnFinish func(ctx context.Context, res *Result)
}

// Run starts a run in the background and returns its handle. The run is
// bound to ctx; cancelling ctx (or calling Run.Cancel) cancels the run.
func (e *Engine) Run(ctx context.Context, messages []core.Content, optFns ...func(o *RunOptions)) (*Run, error) {
	ro := RunOptions{}
	for _, fn := range optFns {
		fn(&ro)
	}
	if len(messages) == 0 && (ro.State == nil || ro.State.HistoryLen() == 0) {
		return nil, errors.New("engine: run needs at least one message")
	}
	if ro.RunID == "" {
		ro.RunID = core.NewID()
	}

	state := ro.State
	if state == nil {
		state = core.NewExecutionState(messages)
	} else if len(messages) > 0 {
		state = state.AppendHistory(messages...)
	}
	if _, ok := state.IterationBudget(); !ok {
		state = state.WithIterationBudget(e.opts.MaxIterations)
	}

	logger := logging.With(e.logger, "run_id", ro.RunID)

	instructions, err := util.RenderTemplate(e.opts.Instructions, ro.Variables)
	if err != nil {
		return nil, fmt.Errorf("engine: render instructions: %w", err)
	}

	bus := eventbus.New(e.opts.Name, func(o *eventbus.Options) {
		o.Parent = ro.Parent
		o.Logger = logger
	})

	observers, err := e.newObserverRegistry(bus, logger)
	if err != nil {
		bus.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := newRun(ro.RunID, e, bus, observers, cancel, logger)
	r.instructions = instructions
	r.onFinish = ro.OnFinish

	sched, err := scheduler.New(e.registry, func(o *scheduler.Options) {
		o.MaxConcurrency = e.opts.MaxConcurrency
		o.PollInterval = e.opts.PollInterval
		o.Pipeline = e.pipeline
		o.Drainer = r
		o.Logger = logger
		o.Source = e.opts.Name
	})
	if err != nil {
		cancel()
		bus.Close()
		return nil, err
	}
	r.scheduler = sched

	logger.Info("engine.run.start", "messages", state.HistoryLen(), "middleware", e.pipeline.Len())

	go r.drive(runCtx, state)
	return r, nil
}

// RunSync runs to completion, passing every event to handle on the calling
// goroutine. handle may answer requests through Run.SubmitResponse.
func (e *Engine) RunSync(ctx context.Context, messages []core.Content, handle func(r *Run, ev core.Event), optFns ...func(o *RunOptions)) (*Result, error) {
	r, err := e.Run(ctx, messages, optFns...)
	if err != nil {
		return nil, err
	}
	for ev := range r.Events() {
		if handle != nil {
			handle(r, ev)
		}
	}
	return r.Wait()
}

func (e *Engine) newObserverRegistry(bus *eventbus.Bus, logger logging.Logger) (*observer.Registry, error) {
	reg, err := observer.New(func(o *observer.Options) {
		o.FailureThreshold = e.opts.ObserverFailureThreshold
		o.RecoveryThreshold = e.opts.ObserverRecoveryThreshold
		o.ProbeInterval = e.opts.ObserverProbeInterval
		o.Notifier = bus
		o.Logger = logger
	})
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, o := range e.observers {
		if err := reg.Register(o.name, o.predicate, o.handler); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
