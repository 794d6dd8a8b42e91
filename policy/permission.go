package policy

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/middleware"
)

// DefaultPermissionTimeout bounds how long a call waits for a decision.
const DefaultPermissionTimeout = 5 * time.Minute

// PermissionOptions configures the permission policy.
type PermissionOptions struct {
	// Timeout bounds the wait for a decision. Non-positive waits forever.
	Timeout time.Duration
	// Describe renders the human readable request description.
	Describe func(call core.FunctionCall) string
}

// Permission asks the consumer to approve calls to protected functions
// before they execute. Denied calls are blocked with a denial message as
// their result; calls whose request times out are blocked with an error
// wrapping core.ErrTimeout. Decisions flagged Remember apply to later calls
// of the same function in the run.
type Permission struct {
	requires func(name string) bool
	opts     PermissionOptions
}

// NewPermission creates the policy. requires reports whether a function
// needs approval; a nil requires protects every function.
func NewPermission(requires func(name string) bool, optFns ...func(o *PermissionOptions)) *Permission {
	opts := PermissionOptions{
		Timeout: DefaultPermissionTimeout,
		Describe: func(call core.FunctionCall) string {
			return fmt.Sprintf("Allow function %q to run with arguments %s?", call.Name, call.Arguments)
		},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if requires == nil {
		requires = func(string) bool { return true }
	}
	return &Permission{requires: requires, opts: opts}
}

func (p *Permission) Name() string { return "permission" }

func (p *Permission) BeforeFunction(ctx context.Context, fc *middleware.FunctionContext) error {
	inv := fc.Invocation
	if !p.requires(inv.Name) {
		return nil
	}

	remembered, _ := core.StateValue[map[string]bool](fc.State, p.Name())
	if approved, ok := remembered[inv.Name]; ok {
		if !approved {
			fc.Block(deniedMessage(inv.Name, "previously denied"))
		}
		return nil
	}

	if fc.Events == nil {
		fc.BlockWithError(fmt.Errorf("permission for %s: no event channel to ask", inv.Name))
		return nil
	}

	call := inv.Call()
	payload, err := fc.Events.Request(ctx, core.EventPermissionRequest, p.Name(), core.PermissionRequest{
		CallID:      call.ID,
		Function:    call.Name,
		Arguments:   call.Arguments,
		Description: p.opts.Describe(call),
	}, p.opts.Timeout)
	if err != nil {
		fc.Logger.Warn("policy.permission.unanswered", "function", inv.Name, "error", err)
		fc.BlockWithError(fmt.Errorf("permission for %s: %w", inv.Name, err))
		return nil
	}

	resp, err := asPermissionResponse(payload)
	if err != nil {
		fc.BlockWithError(fmt.Errorf("permission for %s: %w", inv.Name, err))
		return nil
	}

	fc.Logger.Info("policy.permission.decided", "function", inv.Name, "approved", resp.Approved, "remember", resp.Remember)

	if resp.Remember {
		name, approved := inv.Name, resp.Approved
		fc.AddTransform(func(s *core.ExecutionState) *core.ExecutionState {
			prev, _ := core.StateValue[map[string]bool](s, p.Name())
			next := make(map[string]bool, len(prev)+1)
			maps.Copy(next, prev)
			next[name] = approved
			return s.WithMiddlewareState(p.Name(), next)
		})
	}

	if !resp.Approved {
		reason := resp.Reason
		if reason == "" {
			reason = "denied by user"
		}
		fc.Block(deniedMessage(inv.Name, reason))
	}
	return nil
}

func deniedMessage(name, reason string) string {
	return fmt.Sprintf("Permission denied for %s: %s", name, reason)
}

var errUnexpectedPayload = errors.New("unexpected response payload")

func asPermissionResponse(payload any) (core.PermissionResponse, error) {
	switch v := payload.(type) {
	case core.PermissionResponse:
		return v, nil
	case *core.PermissionResponse:
		if v != nil {
			return *v, nil
		}
	case bool:
		return core.PermissionResponse{Approved: v}, nil
	}
	return core.PermissionResponse{}, fmt.Errorf("%w: %T", errUnexpectedPayload, payload)
}
