package core

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol is the sentinel matched by every *ProtocolError.
	ErrProtocol = errors.New("protocol error")

	// ErrTimeout is returned to a waiter whose request received no response
	// before its deadline.
	ErrTimeout = errors.New("timed out waiting for response")

	// ErrCancelled is returned to waiters resolved by run cancellation. It is
	// an outcome distinct from failure.
	ErrCancelled = errors.New("cancelled")

	// ErrBusClosed is returned when registering on a closed bus.
	ErrBusClosed = errors.New("event bus closed")
)

// ProtocolError reports misuse of the request/response protocol, e.g. a
// duplicate waiter registration for the same request id.
type ProtocolError struct {
	RequestID string
	Message   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error for request %s: %s", e.RequestID, e.Message)
}

// Is makes errors.Is(err, ErrProtocol) match.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// FunctionExecutionError wraps a failure contained to one function call.
type FunctionExecutionError struct {
	CallID   string
	Function string
	Err      error
}

func (e *FunctionExecutionError) Error() string {
	return fmt.Sprintf("function %s (call %s) failed: %v", e.Function, e.CallID, e.Err)
}

func (e *FunctionExecutionError) Unwrap() error { return e.Err }

// PanicError converts a recovered panic value into an error.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic recovered: %v", e.Value) }
