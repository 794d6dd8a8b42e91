package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Family partitions events into fire-and-forget observability events,
// requests awaiting exactly one response, and responses.
type Family string

const (
	FamilyObservability Family = "observability"
	FamilyRequest       Family = "request"
	FamilyResponse      Family = "response"
)

// Kind tags the payload carried by an Event.
type Kind string

// Observability kinds.
const (
	EventRunStarted           Kind = "run_started"
	EventIterationStarted     Kind = "iteration_started"
	EventModelResponse        Kind = "model_response"
	EventFunctionStarted      Kind = "function_started"
	EventFunctionCompleted    Kind = "function_completed"
	EventIterationCompleted   Kind = "iteration_completed"
	EventObserverStateChanged Kind = "observer_state_changed"
	EventMiddlewareNotice     Kind = "middleware_notice"
	EventRunTerminated        Kind = "run_terminated"
)

// Request kinds.
const (
	EventPermissionRequest    Kind = "permission_request"
	EventClarificationRequest Kind = "clarification_request"
	EventContinuationRequest  Kind = "continuation_request"
)

// EventResponse is the only response kind.
const EventResponse Kind = "response"

// ExecutionContext attributes an event to the agent that emitted it. It is
// attached once at emission and never overwritten while bubbling.
type ExecutionContext struct {
	AgentName       string `json:"agent_name"`
	AgentID         string `json:"agent_id"`
	Depth           int    `json:"depth"`
	ParentAgentName string `json:"parent_agent_name,omitempty"`
	ParentAgentID   string `json:"parent_agent_id,omitempty"`
}

// IsRoot reports whether the emitting agent has no parent.
func (c ExecutionContext) IsRoot() bool { return c.Depth == 0 }

// Event is the unit carried by the event bus. After emission it should be
// treated as immutable.
type Event struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Family    Family            `json:"family"`
	RequestID string            `json:"request_id,omitempty"`
	Source    string            `json:"source,omitempty"`
	Payload   any               `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Context   *ExecutionContext `json:"context,omitempty"`
}

// NewEvent creates an observability event.
func NewEvent(kind Kind, source string, payload any) Event {
	return Event{
		ID:        NewID(),
		Kind:      kind,
		Family:    FamilyObservability,
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// NewRequestEvent creates a request event with a fresh request id.
func NewRequestEvent(kind Kind, source string, payload any) Event {
	e := NewEvent(kind, source, payload)
	e.Family = FamilyRequest
	e.RequestID = NewID()
	return e
}

// NewResponseEvent creates the response matching requestID.
func NewResponseEvent(requestID string, payload any) Event {
	e := NewEvent(EventResponse, "", payload)
	e.Family = FamilyResponse
	e.RequestID = requestID
	return e
}

// NewID generates a new unique identifier for events, requests and runs.
func NewID() string { return uuid.NewString() }

// IsRequest reports whether the event expects a response.
func (e Event) IsRequest() bool { return e.Family == FamilyRequest }

// IsResponse reports whether the event answers a request.
func (e Event) IsResponse() bool { return e.Family == FamilyResponse }

// Emitter is the view of the event bus handed to middleware and tools.
type Emitter interface {
	// Emit enqueues an event without blocking.
	Emit(ev Event)
	// Request emits a request event and blocks until its response, the
	// timeout, or cancellation.
	Request(ctx context.Context, kind Kind, source string, payload any, timeout time.Duration) (any, error)
}

// RunStartedPayload accompanies EventRunStarted.
type RunStartedPayload struct {
	RunID           string `json:"run_id"`
	Messages        int    `json:"messages"`
	IterationBudget int    `json:"iteration_budget"`
}

// IterationPayload accompanies EventIterationStarted.
type IterationPayload struct {
	Iteration int `json:"iteration"`
}

// ModelResponsePayload accompanies EventModelResponse.
type ModelResponsePayload struct {
	Iteration   int            `json:"iteration"`
	Content     Content        `json:"content"`
	Calls       []FunctionCall `json:"calls,omitempty"`
	Substituted bool           `json:"substituted,omitempty"`
}

// FunctionStartedPayload accompanies EventFunctionStarted.
type FunctionStartedPayload struct {
	Call FunctionCall `json:"call"`
}

// FunctionCompletedPayload accompanies EventFunctionCompleted.
type FunctionCompletedPayload struct {
	Invocation FunctionInvocation `json:"invocation"`
	Error      string             `json:"error,omitempty"`
}

// IterationCompletedPayload accompanies EventIterationCompleted.
type IterationCompletedPayload struct {
	Iteration int `json:"iteration"`
	Calls     int `json:"calls"`
	Failures  int `json:"failures"`
}

// ObserverStatePayload accompanies EventObserverStateChanged.
type ObserverStatePayload struct {
	Observer string `json:"observer"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// MiddlewareNoticePayload accompanies EventMiddlewareNotice.
type MiddlewareNoticePayload struct {
	Middleware string `json:"middleware"`
	Message    string `json:"message"`
}

// TerminatedPayload accompanies EventRunTerminated.
type TerminatedPayload struct {
	Termination Termination `json:"termination"`
	Iterations  int         `json:"iterations"`
}

// PermissionRequest asks the consumer to grant or deny a function call.
type PermissionRequest struct {
	CallID      string `json:"call_id"`
	Function    string `json:"function"`
	Arguments   string `json:"arguments,omitempty"`
	Description string `json:"description,omitempty"`
}

// PermissionResponse answers a PermissionRequest. Remember records the
// decision for the rest of the run.
type PermissionResponse struct {
	Approved bool   `json:"approved"`
	Remember bool   `json:"remember,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ContinuationRequest asks whether the run may exceed its iteration budget.
type ContinuationRequest struct {
	Iteration int `json:"iteration"`
	Budget    int `json:"budget"`
	Extension int `json:"extension"`
}

// ContinuationResponse answers a ContinuationRequest. A zero Extension uses
// the requested default.
type ContinuationResponse struct {
	Approved  bool `json:"approved"`
	Extension int  `json:"extension,omitempty"`
}

// ClarificationRequest asks the consumer a free-form question.
type ClarificationRequest struct {
	Question string `json:"question"`
}

// ClarificationResponse answers a ClarificationRequest.
type ClarificationResponse struct {
	Answer string `json:"answer"`
}
