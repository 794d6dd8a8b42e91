package engine

import (
	"fmt"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/eventbus"
	"github.com/hupe1980/agentcore/tool"
)

type agentToolArgs struct {
	Request string `json:"request" required:"true" description:"The task for the agent, in plain language"`
}

// AsTool exposes the engine as a function another agent can call. Each call
// starts a nested run whose bus is a child of the calling run's bus, so its
// events (including requests) bubble to the parent stream with attribution
// and responses submitted to the parent reach the nested waiter.
func (e *Engine) AsTool(name, description string) (tool.Tool, error) {
	t, err := tool.NewFunctionToolFromStruct(name, description, agentToolArgs{}, func(tc *tool.Context, args map[string]any) (any, error) {
		request, _ := args["request"].(string)
		if request == "" {
			return nil, tool.NewToolError(name, "request must not be empty", tool.CodeValidation)
		}

		var parent *eventbus.Bus
		if b, ok := tc.Emitter().(*eventbus.Bus); ok {
			parent = b
		}

		run, err := e.Run(tc.Context(), []core.Content{core.NewTextContent(core.RoleUser, request)}, func(o *RunOptions) {
			o.Parent = parent
		})
		if err != nil {
			return nil, err
		}
		tc.Logger().Debug("engine.nested.start", "run_id", run.ID(), "agent", e.Name())

		res, err := run.Wait()
		if err != nil {
			return nil, err
		}
		if res.Termination.Kind != core.TerminationNatural {
			text := res.Text()
			if text == "" {
				return nil, fmt.Errorf("agent %s stopped: %s", e.Name(), res.Termination)
			}
			return fmt.Sprintf("%s\n\n(agent %s stopped: %s)", text, e.Name(), res.Termination), nil
		}
		return res.Text(), nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}
