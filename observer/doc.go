// Package observer fans run events out to side-effecting observers.
//
// Observers never block the run: each matching handler is started on its own
// goroutine. Every observer sits behind a circuit breaker. After
// FailureThreshold consecutive failures it is disabled; once ProbeInterval has
// passed the next matching event is delivered as a single probe, and
// RecoveryThreshold consecutive probe successes enable it again.
package observer
