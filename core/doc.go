// Package core provides the foundational domain types shared by every layer of
// the agent execution core. It defines:
//
//   - ExecutionState (immutable, copy-on-write snapshot of one run's progress)
//   - Content / Part (role based conversation entries)
//   - FunctionCall / FunctionInvocation (requested and executed tool calls)
//   - Event / ExecutionContext (observability, request and response events)
//   - Termination and the error taxonomy (ProtocolError, ErrTimeout, ...)
//
// The package deliberately holds no orchestration logic. The event bus,
// observer registry, middleware pipeline, scheduler and loop driver live in
// their own packages and exchange the values defined here.
package core
