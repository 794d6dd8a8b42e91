// Package eventbus implements the per-agent event channel used by a run.
//
// A Bus is an unbounded multi-producer / single-consumer queue: Emit never
// blocks, and one drain loop (the run driver, or the scheduler while a tool
// batch is outstanding) calls TryDrain. Request events are correlated with
// Response events by request id; a caller blocks in Request or
// WaitForResponse until the response is drained, the timeout elapses or the
// bus is cancelled.
//
// Nested agents get a child bus (NewChild). Every event emitted on a child is
// stamped once with the child's ExecutionContext and forwarded unchanged to
// all ancestors, so the root stream carries full provenance. Responses
// submitted to an ancestor are routed down to the bus owning the waiter.
package eventbus
