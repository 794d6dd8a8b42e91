package middleware

import (
	"context"
	"slices"
	"sync"
)

// Pipeline runs middleware hooks at the loop's extension points.
//
// Before-hooks (BeforeTurn, BeforeIteration, BeforeToolExecution,
// BeforeFunction) run in registration order; after-hooks (AfterFunction,
// AfterIteration, AfterTurn) run in reverse registration order. The first
// failing hook stops the batch and its error, wrapped in a *HookError, is
// returned to the caller.
//
// Registration is safe for concurrent use, but middleware added while a
// batch is running only takes effect from the next batch on.
type Pipeline struct {
	mu          sync.RWMutex
	middlewares []Middleware
}

// NewPipeline creates a pipeline with the given middleware.
func NewPipeline(mws ...Middleware) *Pipeline {
	p := &Pipeline{}
	p.Use(mws...)
	return p
}

// Use appends middleware. Nil entries are ignored.
func (p *Pipeline) Use(mws ...Middleware) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, mw := range mws {
		if mw != nil {
			p.middlewares = append(p.middlewares, mw)
		}
	}
}

// Middlewares returns the registered middleware in registration order.
func (p *Pipeline) Middlewares() []Middleware {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.middlewares)
}

// Len returns the number of registered middleware.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.middlewares)
}

func (p *Pipeline) BeforeTurn(ctx context.Context, mc *Context) error {
	return runHooks(p.ordered(false), HookBeforeTurn, func(h BeforeTurnHook) error {
		return h.BeforeTurn(ctx, mc)
	})
}

func (p *Pipeline) BeforeIteration(ctx context.Context, mc *Context) error {
	return runHooks(p.ordered(false), HookBeforeIteration, func(h BeforeIterationHook) error {
		return h.BeforeIteration(ctx, mc)
	})
}

func (p *Pipeline) BeforeToolExecution(ctx context.Context, mc *Context) error {
	return runHooks(p.ordered(false), HookBeforeToolExecution, func(h BeforeToolExecutionHook) error {
		return h.BeforeToolExecution(ctx, mc)
	})
}

// BeforeFunction stops early once a hook blocked the call.
func (p *Pipeline) BeforeFunction(ctx context.Context, fc *FunctionContext) error {
	for _, mw := range p.ordered(false) {
		if fc.Blocked() {
			return nil
		}
		h, ok := mw.(BeforeFunctionHook)
		if !ok {
			continue
		}
		if err := h.BeforeFunction(ctx, fc); err != nil {
			return &HookError{Middleware: mw.Name(), Hook: HookBeforeFunction, Err: err}
		}
	}
	return nil
}

func (p *Pipeline) AfterFunction(ctx context.Context, fc *FunctionContext) error {
	return runHooks(p.ordered(true), HookAfterFunction, func(h AfterFunctionHook) error {
		return h.AfterFunction(ctx, fc)
	})
}

func (p *Pipeline) AfterIteration(ctx context.Context, mc *Context) error {
	return runHooks(p.ordered(true), HookAfterIteration, func(h AfterIterationHook) error {
		return h.AfterIteration(ctx, mc)
	})
}

func (p *Pipeline) AfterTurn(ctx context.Context, mc *Context) error {
	return runHooks(p.ordered(true), HookAfterTurn, func(h AfterTurnHook) error {
		return h.AfterTurn(ctx, mc)
	})
}

func (p *Pipeline) ordered(reverse bool) []Middleware {
	mws := p.Middlewares()
	if reverse {
		slices.Reverse(mws)
	}
	return mws
}

func runHooks[H any](mws []Middleware, hook Hook, call func(h H) error) error {
	for _, mw := range mws {
		h, ok := mw.(H)
		if !ok {
			continue
		}
		if err := call(h); err != nil {
			return &HookError{Middleware: mw.Name(), Hook: hook, Err: err}
		}
	}
	return nil
}
