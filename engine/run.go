package engine

import (
	"context"
	"sync"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/eventbus"
	"github.com/hupe1980/agentcore/logging"
	"github.com/hupe1980/agentcore/model"
	"github.com/hupe1980/agentcore/observer"
	"github.com/hupe1980/agentcore/scheduler"
)

// Result is the outcome of a finished run.
type Result struct {
	RunID       string
	State       *core.ExecutionState
	Termination core.Termination
	// Response is the last model response, nil if the model was never
	// invoked.
	Response *model.Response
}

// Text returns the text of the last model response.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	return r.Response.Text()
}

// Iterations returns the number of completed iterations.
func (r *Result) Iterations() int {
	if r == nil || r.State == nil {
		return 0
	}
	return r.State.Iteration()
}

// Run is the handle of one agentic-loop run.
type Run struct {
	id        string
	engine    *Engine
	bus       *eventbus.Bus
	observers *observer.Registry
	scheduler *scheduler.Scheduler
	logger    logging.Logger
	cancel    context.CancelFunc

	instructions string
	onFinish     func(ctx context.Context, res *Result)

	// outbox is an unbounded queue between the driver and the consumer.
	outMu     sync.Mutex
	outQueue  []core.Event
	outClosed bool
	outSignal chan struct{}
	pumpOnce  sync.Once
	events    chan core.Event

	done   chan struct{}
	result *Result
	err    error
}

func newRun(id string, e *Engine, bus *eventbus.Bus, observers *observer.Registry, cancel context.CancelFunc, logger logging.Logger) *Run {
	return &Run{
		id:        id,
		engine:    e,
		bus:       bus,
		observers: observers,
		cancel:    cancel,
		logger:    logger,
		outSignal: make(chan struct{}, 1),
		events:    make(chan core.Event),
		done:      make(chan struct{}),
	}
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Bus returns the run's event bus, e.g. to parent nested runs.
func (r *Run) Bus() *eventbus.Bus { return r.bus }

// Events returns the run's event stream: observability events and requests
// in drain order, ending with exactly one EventRunTerminated. The channel is
// closed after the terminal event. Events are buffered until first read, so
// the driver never waits for the consumer.
func (r *Run) Events() <-chan core.Event {
	r.pumpOnce.Do(func() { go r.pump() })
	return r.events
}

// SubmitResponse answers a request event. It reports whether the response
// was queued; a response without a waiting request is dropped silently.
// Safe to call from any goroutine.
func (r *Run) SubmitResponse(requestID string, payload any) bool {
	return r.bus.SubmitResponse(requestID, payload)
}

// Cancel cancels the run. Outstanding requests resolve with
// core.ErrCancelled and nothing from the in-flight iteration is committed.
func (r *Run) Cancel() {
	r.cancel()
	r.bus.Cancel()
}

// Done is closed once the run finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finished. Terminal conditions are reported in
// Result.Termination; the error is non-nil only when the run was cancelled.
func (r *Run) Wait() (*Result, error) {
	<-r.done
	return r.result, r.err
}

// DrainOnce drains the run's bus: events are dispatched to observers and
// queued for the consumer, responses resolve waiting requests. Only the
// run's driver calls it.
func (r *Run) DrainOnce(ctx context.Context) {
	for _, ev := range r.bus.TryDrain() {
		r.deliver(ctx, ev)
	}
}

func (r *Run) deliver(ctx context.Context, ev core.Event) {
	r.observers.Dispatch(context.WithoutCancel(ctx), ev)
	r.publish(ev)
}

func (r *Run) publish(ev core.Event) {
	r.outMu.Lock()
	r.outQueue = append(r.outQueue, ev)
	r.outMu.Unlock()
	r.signal()
}

func (r *Run) closeOutbox() {
	r.outMu.Lock()
	r.outClosed = true
	r.outMu.Unlock()
	r.signal()
}

func (r *Run) signal() {
	select {
	case r.outSignal <- struct{}{}:
	default:
	}
}

func (r *Run) pump() {
	for {
		r.outMu.Lock()
		batch := r.outQueue
		r.outQueue = nil
		closed := r.outClosed
		r.outMu.Unlock()

		for _, ev := range batch {
			r.events <- ev
		}
		if closed {
			close(r.events)
			return
		}
		if len(batch) == 0 {
			<-r.outSignal
		}
	}
}

var _ scheduler.Drainer = (*Run)(nil)
