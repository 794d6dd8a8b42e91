package observer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/internal/validate"
	"github.com/hupe1980/agentcore/logging"
)

// Predicate selects the events an observer is interested in.
type Predicate func(ev core.Event) bool

// Handler consumes one event. A returned error (or a panic) counts as a
// failure towards the observer's breaker.
type Handler func(ctx context.Context, ev core.Event) error

// Notifier receives observer state change events. The run's event bus
// satisfies it.
type Notifier interface {
	Emit(ev core.Event)
}

// All matches every event.
func All(core.Event) bool { return true }

// Kinds matches events of the given kinds.
func Kinds(kinds ...core.Kind) Predicate {
	set := make(map[core.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return func(ev core.Event) bool {
		_, ok := set[ev.Kind]
		return ok
	}
}

// Config holds the breaker thresholds shared by all observers of a registry.
type Config struct {
	FailureThreshold  uint32        `validate:"gte=1"`
	RecoveryThreshold uint32        `validate:"gte=1"`
	ProbeInterval     time.Duration `validate:"gt=0"`
}

// DefaultConfig provides the default breaker thresholds.
var DefaultConfig = Config{
	FailureThreshold:  10,
	RecoveryThreshold: 3,
	ProbeInterval:     30 * time.Second,
}

// Options configures a Registry.
type Options struct {
	Config
	Notifier Notifier
	Logger   logging.Logger
}

type entry struct {
	name       string
	predicate  Predicate
	handler    Handler
	state      atomic.Uint64
	probeAfter atomic.Int64 // unix nanos
}

// Registry dispatches events to observers asynchronously and isolates each
// observer behind its own circuit breaker.
type Registry struct {
	opts Options

	mu      sync.RWMutex
	entries []*entry
	byName  map[string]*entry

	wg sync.WaitGroup
}

// New creates a Registry. It fails if the resulting configuration is invalid.
func New(optFns ...func(o *Options)) (*Registry, error) {
	opts := Options{Config: DefaultConfig}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := validate.Struct(opts.Config); err != nil {
		return nil, err
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Registry{
		opts:   opts,
		byName: make(map[string]*entry),
	}, nil
}

// Register adds an observer. A nil predicate matches every event.
func (r *Registry) Register(name string, predicate Predicate, handler Handler) error {
	if name == "" {
		return errors.New("observer name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("observer %s: handler must not be nil", name)
	}
	if predicate == nil {
		predicate = All
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("observer %s already registered", name)
	}
	e := &entry{name: name, predicate: predicate, handler: handler}
	e.state.Store(State{Status: StatusEnabled}.pack())
	r.entries = append(r.entries, e)
	r.byName[name] = e
	return nil
}

// Len returns the number of registered observers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// State returns the breaker state of the named observer.
func (r *Registry) State(name string) (State, bool) {
	r.mu.RLock()
	e, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return State{}, false
	}
	return unpack(e.state.Load()), true
}

// Dispatch starts every admitted, matching observer on its own goroutine and
// returns without waiting for them.
func (r *Registry) Dispatch(ctx context.Context, ev core.Event) {
	r.mu.RLock()
	entries := r.entries
	r.mu.RUnlock()

	for _, e := range entries {
		if !e.predicate(ev) {
			continue
		}
		probe, ok := r.admit(e)
		if !ok {
			continue
		}
		r.wg.Add(1)
		go r.run(ctx, e, ev, probe)
	}
}

// Wait blocks until all dispatched handlers have returned.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// admit decides whether e receives the current event and whether that
// dispatch is a probe.
func (r *Registry) admit(e *entry) (probe bool, ok bool) {
	for {
		cur := e.state.Load()
		s := unpack(cur)
		switch s.Status {
		case StatusEnabled:
			return false, true
		case StatusProbing:
			return false, false
		case StatusDisabled:
			if time.Now().UnixNano() < e.probeAfter.Load() {
				return false, false
			}
			next := s
			next.Status = StatusProbing
			if e.state.CompareAndSwap(cur, next.pack()) {
				return true, true
			}
		default:
			return false, false
		}
	}
}

func (r *Registry) run(ctx context.Context, e *entry, ev core.Event, probe bool) {
	defer r.wg.Done()

	err := r.invoke(ctx, e, ev)
	if err != nil {
		r.opts.Logger.Warn("observer.handler.failed",
			"observer", e.name,
			"event_kind", string(ev.Kind),
			"probe", probe,
			"error", err,
		)
	}
	r.record(e, err == nil, probe)
}

func (r *Registry) invoke(ctx context.Context, e *entry, ev core.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &core.PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return e.handler(ctx, ev)
}

func (r *Registry) record(e *entry, success, probe bool) {
	for {
		cur := e.state.Load()
		from := unpack(cur)
		to := from.transition(success, probe, r.opts.FailureThreshold, r.opts.RecoveryThreshold)
		if to == from {
			return
		}

		// Schedule the next probe before publishing Disabled so admit never
		// sees a stale deadline.
		if to.Status == StatusDisabled {
			next := time.Now()
			if !(from.Status == StatusProbing && success) {
				next = next.Add(r.opts.ProbeInterval)
			}
			e.probeAfter.Store(next.UnixNano())
		}

		if !e.state.CompareAndSwap(cur, to.pack()) {
			continue
		}

		switch {
		case from.Status == StatusEnabled && to.Status == StatusDisabled:
			r.notify(e.name, StatusEnabled, StatusDisabled)
		case to.Status == StatusEnabled && from.Status != StatusEnabled:
			r.notify(e.name, StatusDisabled, StatusEnabled)
		}
		return
	}
}

func (r *Registry) notify(name string, from, to Status) {
	r.opts.Logger.Info("observer.state.changed", "observer", name, "from", from.String(), "to", to.String())
	if r.opts.Notifier == nil {
		return
	}
	r.opts.Notifier.Emit(core.NewEvent(core.EventObserverStateChanged, "observer", core.ObserverStatePayload{
		Observer: name,
		From:     from.String(),
		To:       to.String(),
	}))
}
