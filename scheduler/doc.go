// Package scheduler executes the function calls of one loop iteration with
// bounded parallelism.
//
// Results are returned in request order. A failing or panicking function is
// contained to its own invocation and never cancels its siblings. Calls
// blocked by a before-function hook receive the hook's substitute result and
// are never executed.
//
// The caller of Execute usually owns the drain loop of the run's event bus.
// Execute therefore drains through the configured Drainer every
// PollInterval while the batch is outstanding, plus once after it settled,
// so hooks waiting on a response (a permission prompt, for example) can be
// unblocked while sibling calls continue.
package scheduler
