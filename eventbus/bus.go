package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/logging"
)

// Options configures a Bus.
type Options struct {
	// AgentID identifies the owning agent; a uuid is generated when empty.
	AgentID string
	// Parent receives every event emitted on this bus, already attributed.
	Parent *Bus
	// Logger receives diagnostic output.
	Logger logging.Logger
}

type result struct {
	payload any
	err     error
}

type waiter struct {
	ch chan result // buffered(1); receives exactly one result
}

// Bus is a per-agent event channel. Producers call Emit from any goroutine
// without blocking; a single consumer drains the queue with TryDrain.
// Requests are correlated with responses through waiters keyed by request id.
type Bus struct {
	ec     core.ExecutionContext
	parent *Bus
	logger logging.Logger

	ready chan struct{}

	mu        sync.Mutex
	queue     []core.Event
	waiters   map[string]*waiter
	children  map[*Bus]struct{}
	cancelled bool
	closed    bool
}

// New creates a bus for the named agent.
func New(name string, optFns ...func(o *Options)) *Bus {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.AgentID == "" {
		opts.AgentID = core.NewID()
	}

	b := &Bus{
		ec:       core.ExecutionContext{AgentName: name, AgentID: opts.AgentID},
		parent:   opts.Parent,
		logger:   logging.OrNoOp(opts.Logger),
		ready:    make(chan struct{}, 1),
		waiters:  map[string]*waiter{},
		children: map[*Bus]struct{}{},
	}

	if p := opts.Parent; p != nil {
		b.ec.Depth = p.ec.Depth + 1
		b.ec.ParentAgentName = p.ec.AgentName
		b.ec.ParentAgentID = p.ec.AgentID
		p.attach(b)
	}
	return b
}

// WithParent sets the parent bus.
func WithParent(p *Bus) func(o *Options) {
	return func(o *Options) { o.Parent = p }
}

// NewChild creates a bus for a nested agent whose events bubble to b.
func (b *Bus) NewChild(name string, optFns ...func(o *Options)) *Bus {
	return New(name, append([]func(o *Options){WithParent(b), func(o *Options) {
		if o.Logger == nil {
			o.Logger = b.logger
		}
	}}, optFns...)...)
}

// ExecutionContext returns the attribution stamped on events emitted here.
func (b *Bus) ExecutionContext() core.ExecutionContext { return b.ec }

// Parent returns the parent bus or nil for a root bus.
func (b *Bus) Parent() *Bus { return b.parent }

// Ready is signaled (level-triggered, coalesced) whenever events are queued.
func (b *Bus) Ready() <-chan struct{} { return b.ready }

func (b *Bus) attach(child *Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.children[child] = struct{}{}
}

func (b *Bus) detach(child *Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.children, child)
}

func (b *Bus) notify() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// enqueue appends ev to the local queue. It reports false after Close.
func (b *Bus) enqueue(ev core.Event) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()
	b.notify()
	return true
}

// Emit stamps ev with this bus's execution context (unless already stamped),
// queues it and forwards it unchanged to every ancestor. Emit never blocks.
func (b *Bus) Emit(ev core.Event) {
	if ev.Context == nil {
		ec := b.ec
		ev.Context = &ec
	}
	if !b.enqueue(ev) {
		b.logger.Debug("eventbus.emit.dropped", "kind", ev.Kind, "reason", "closed")
		return
	}
	for p := b.parent; p != nil; p = p.parent {
		p.enqueue(ev)
	}
}

// SubmitResponse queues a response for requestID. The matching waiter is
// resolved when the queue is drained; responses without a waiter are
// dropped. It reports whether the response was queued. Safe to call from any
// goroutine.
func (b *Bus) SubmitResponse(requestID string, payload any) bool {
	if requestID == "" {
		return false
	}
	return b.enqueue(core.NewResponseEvent(requestID, payload))
}

// TryDrain removes every queued event without blocking. Responses are
// consumed to resolve waiters (here or in a descendant) and are not
// returned; all other events are returned in emission order.
func (b *Bus) TryDrain() []core.Event {
	b.mu.Lock()
	queued := b.queue
	b.queue = nil
	b.mu.Unlock()

	if len(queued) == 0 {
		return nil
	}

	out := make([]core.Event, 0, len(queued))
	for _, ev := range queued {
		if ev.IsResponse() {
			if !b.route(ev.RequestID, result{payload: ev.Payload}) {
				b.logger.Debug("eventbus.response.dropped", "request_id", ev.RequestID)
			}
			continue
		}
		out = append(out, ev)
	}
	return out
}

// route resolves the waiter for requestID here or in the first descendant
// that owns it.
func (b *Bus) route(requestID string, r result) bool {
	if b.resolve(requestID, r) {
		return true
	}
	b.mu.Lock()
	children := make([]*Bus, 0, len(b.children))
	for c := range b.children {
		children = append(children, c)
	}
	b.mu.Unlock()

	for _, c := range children {
		if c.route(requestID, r) {
			return true
		}
	}
	return false
}

// resolve removes the waiter and hands it r. At most one result is ever
// accepted per waiter.
func (b *Bus) resolve(requestID string, r result) bool {
	b.mu.Lock()
	w, ok := b.waiters[requestID]
	if ok {
		delete(b.waiters, requestID)
	}
	b.mu.Unlock()

	if !ok {
		return false
	}
	w.ch <- r
	return true
}

// register creates the waiter for requestID.
func (b *Bus) register(requestID string) (*waiter, error) {
	if requestID == "" {
		return nil, &core.ProtocolError{RequestID: requestID, Message: "empty request id"}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, core.ErrBusClosed
	}
	if b.cancelled {
		return nil, core.ErrCancelled
	}
	if _, exists := b.waiters[requestID]; exists {
		return nil, &core.ProtocolError{RequestID: requestID, Message: "waiter already registered"}
	}

	w := &waiter{ch: make(chan result, 1)}
	b.waiters[requestID] = w
	return w, nil
}

// remove deletes w if it is still registered. It reports false when another
// path already resolved it.
func (b *Bus) remove(requestID string, w *waiter) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.waiters[requestID]; ok && cur == w {
		delete(b.waiters, requestID)
		return true
	}
	return false
}

func (b *Bus) await(ctx context.Context, requestID string, w *waiter, timeout time.Duration) (any, error) {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case r := <-w.ch:
		return r.payload, r.err
	case <-timeoutC:
		if b.remove(requestID, w) {
			b.logger.Debug("eventbus.request.timeout", "request_id", requestID, "timeout", timeout)
			return nil, fmt.Errorf("request %s: %w", requestID, core.ErrTimeout)
		}
	case <-ctx.Done():
		if b.remove(requestID, w) {
			return nil, fmt.Errorf("request %s: %w: %w", requestID, core.ErrCancelled, ctx.Err())
		}
	}

	// Resolved concurrently with the deadline; the result is buffered.
	r := <-w.ch
	return r.payload, r.err
}

// WaitForResponse registers a waiter for requestID and blocks until the
// matching response is drained, the timeout elapses (core.ErrTimeout) or the
// bus/context is cancelled (core.ErrCancelled). A non-positive timeout waits
// without deadline. The waiter is always removed on return.
func (b *Bus) WaitForResponse(ctx context.Context, requestID string, timeout time.Duration) (any, error) {
	w, err := b.register(requestID)
	if err != nil {
		return nil, err
	}
	return b.await(ctx, requestID, w, timeout)
}

// Request emits a request event and waits for its response. The waiter is
// registered before the event is emitted so a fast response cannot be lost.
func (b *Bus) Request(ctx context.Context, kind core.Kind, source string, payload any, timeout time.Duration) (any, error) {
	ev := core.NewRequestEvent(kind, source, payload)
	w, err := b.register(ev.RequestID)
	if err != nil {
		return nil, err
	}
	b.Emit(ev)
	return b.await(ctx, ev.RequestID, w, timeout)
}

// Pending returns the number of outstanding waiters.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}

// Cancel resolves every outstanding waiter (here and in descendants) with
// core.ErrCancelled and rejects later registrations.
func (b *Bus) Cancel() {
	b.mu.Lock()
	b.cancelled = true
	waiters := b.waiters
	b.waiters = map[string]*waiter{}
	children := make([]*Bus, 0, len(b.children))
	for c := range b.children {
		children = append(children, c)
	}
	b.mu.Unlock()

	for id, w := range waiters {
		w.ch <- result{err: fmt.Errorf("request %s: %w", id, core.ErrCancelled)}
	}
	for _, c := range children {
		c.Cancel()
	}
}

// Close cancels outstanding waiters, drops later emissions and detaches the
// bus from its parent. Queued events remain drainable.
func (b *Bus) Close() {
	b.Cancel()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	if b.parent != nil {
		b.parent.detach(b)
	}
}

var _ core.Emitter = (*Bus)(nil)
