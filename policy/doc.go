// Package policy provides the built-in loop policies, each a
// middleware.Middleware:
//
//   - CircuitBreaker stops runs that repeat an identical call.
//   - ErrorThreshold stops runs after consecutive function failures.
//   - Permission gates protected functions on a consumer decision.
//   - Continuation asks before exceeding the iteration budget.
//   - Logging records every hook.
//
// Retry is not a middleware; it wraps a model.Invoker.
package policy
