// Package logging provides a minimal logging interface and adapters for the
// agent execution core.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the engine, scheduler, event bus and observers use. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NewLogger with json, text and colored tint output
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewConsoleLogger(logging.LogLevelDebug)
//	eng, err := engine.New(invoker, registry, func(o *engine.Options) { o.Logger = logger })
//
// Log messages are dotted event names (engine.run.start,
// eventbus.response.dropped) with key/value attributes.
package logging
