// Package tool holds the functions a model may call during a streamed turn.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/papercomputeco/relay/pkg/llm"
)

// ErrUnknownTool is returned when the model calls a function that is not
// registered.
var ErrUnknownTool = errors.New("unknown tool")

// Result is what a tool function returns. Status follows HTTP semantics:
// anything at or above 300 marks the call as failed.
type Result struct {
	Status     int
	StatusText string
	Data       any
}

// Func executes one tool call with its decoded arguments.
type Func func(ctx context.Context, args map[string]any) (*Result, error)

// Output is the text fed back to the model for one call.
type Output struct {
	Content string
	IsError bool
}

// Registry maps function names to implementations. It is safe for concurrent
// use.
type Registry struct {
	mu    sync.RWMutex
	specs []llm.ToolSpec
	funcs map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds a function. Names must be unique.
func (r *Registry) Register(spec llm.ToolSpec, fn Func) error {
	name := spec.Function.Name
	if name == "" {
		return errors.New("tool name is required")
	}
	if fn == nil {
		return fmt.Errorf("tool %q has no implementation", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.specs = append(r.specs, spec)
	r.funcs[name] = fn
	return nil
}

// Specs returns the declarations in registration order.
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]llm.ToolSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.funcs[name]
	return fn, ok
}

// Invoke runs call. An error means the call could not be made or the
// function failed; a non-nil Output with IsError set means the function ran
// and reported a failure status.
func (r *Registry) Invoke(ctx context.Context, call llm.ToolCall) (Output, error) {
	fn, ok := r.Lookup(call.Function.Name)
	if !ok {
		return Output{}, fmt.Errorf("%w: %s", ErrUnknownTool, call.Function.Name)
	}

	args, err := DecodeArguments(call.Function.Arguments)
	if err != nil {
		return Output{}, fmt.Errorf("tool %s: %w", call.Function.Name, err)
	}

	res, err := fn(ctx, args)
	if err != nil {
		return Output{}, err
	}
	if res == nil {
		return Output{}, nil
	}

	return Output{
		Content: Stringify(res),
		IsError: res.Status >= 300,
	}, nil
}

// DecodeArguments parses the model's argument text. Empty text is an empty
// argument set.
func DecodeArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return args, nil
}

// Stringify renders a result as text: Data when present, otherwise
// StatusText. Non-string data is encoded as JSON.
func Stringify(res *Result) string {
	switch d := res.Data.(type) {
	case nil:
		return res.StatusText
	case string:
		if d == "" {
			return res.StatusText
		}
		return d
	case []byte:
		if len(d) == 0 {
			return res.StatusText
		}
		return string(d)
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Sprint(d)
		}
		return string(b)
	}
}
