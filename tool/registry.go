package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/logging"
	"github.com/hupe1980/agentcore/model"
)

// Registry maps function names to tools. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger logging.Logger
}

// NewRegistry creates a registry pre-populated with tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: map[string]Tool{}, logger: logging.NoOpLogger{}}
	if err := r.Register(tools...); err != nil {
		return nil, err
	}
	return r, nil
}

// SetLogger sets the logger passed to tool contexts.
func (r *Registry) SetLogger(l logging.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logging.OrNoOp(l)
}

// Register adds tools. Names must be non-empty and unique.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		name := t.Name()
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("tool name must not be empty")
		}
		if _, exists := r.tools[name]; exists {
			return fmt.Errorf("tool %q already registered", name)
		}
		r.tools[name] = t
	}
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Descriptors returns model tool descriptors sorted by name.
func (r *Registry) Descriptors() []model.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, model.ToolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RequiresPermission reports whether the named tool declares that its calls
// need consumer approval.
func (r *Registry) RequiresPermission(name string) bool {
	t, ok := r.Lookup(name)
	if !ok {
		return false
	}
	pt, ok := t.(PermissionedTool)
	return ok && pt.RequiresPermission()
}

// Call decodes the call arguments and executes the named tool.
func (r *Registry) Call(ctx context.Context, call core.FunctionCall, events core.Emitter) (any, error) {
	t, ok := r.Lookup(call.Name)
	if !ok {
		return nil, NewToolError(call.Name, "function not registered", CodeNotFound)
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, &ToolError{
				Tool:    call.Name,
				Message: fmt.Sprintf("arguments are not a JSON object: %v", err),
				Code:    CodeValidation,
				cause:   err,
			}
		}
		if args == nil {
			args = map[string]any{}
		}
	}

	r.mu.RLock()
	logger := r.logger
	r.mu.RUnlock()

	return t.Call(NewContext(ctx, call.ID, call.Name, events, logger), args)
}
