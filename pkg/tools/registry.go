package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-voicebot/pkg/inference"
)

// Registry holds the catalog in declaration order.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates a registry from tools. Duplicate names are an error.
func NewRegistry(logger *slog.Logger, tools ...*Tool) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:  make(map[string]*Tool, len(tools)),
		logger: logger.With("component", "tools.registry"),
	}
	for _, t := range tools {
		if _, dup := r.tools[t.Name]; dup {
			return nil, fmt.Errorf("tools: duplicate tool %q", t.Name)
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r, nil
}

// Names returns tool names in declaration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Lookup returns the named tool.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the catalog as offered to the model.
func (r *Registry) Definitions() []inference.Tool {
	defs := make([]inference.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Invoke runs a tool and returns its result or error.
func (r *Registry) Invoke(ctx context.Context, name, arguments string) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t.Call(ctx, arguments)
}

// Execute runs a tool and always returns a string for the model. Errors
// are rendered as text so the conversation can carry on.
func (r *Registry) Execute(ctx context.Context, name, arguments string) string {
	start := time.Now()
	result, err := r.Invoke(ctx, name, arguments)
	switch {
	case errors.Is(err, ErrUnknownTool):
		r.logger.Warn("unknown tool requested", "tool", name)
		return "Unknown tool: " + name
	case errors.Is(err, ErrInvalidArguments):
		r.logger.Warn("invalid tool arguments", "tool", name, "arguments", arguments, "error", err)
		return fmt.Sprintf("Tool execution error: invalid arguments for %s: %v", name, errors.Unwrap(err))
	case err != nil:
		r.logger.Warn("tool failed", "tool", name, "error", err)
		return err.Error()
	}
	r.logger.Info("tool executed",
		"tool", name,
		"result_chars", len(result),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result
}
