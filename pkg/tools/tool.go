// Package tools is the fixed catalog of functions the model may call.
//
// Every tool declares its arguments as a Go struct. The struct is turned into
// a JSON Schema that is both advertised to the model and used to validate
// what the model sends back. Calls always produce a string: failures are
// reported to the model as text and never abort the conversation.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kaptinlin/jsonrepair"

	"github.com/teslashibe/go-voicebot/pkg/inference"
)

// DefaultTimeout bounds a tool call when the tool sets none.
const DefaultTimeout = 5 * time.Second

var (
	// ErrUnknownTool is returned by Invoke for names outside the catalog.
	ErrUnknownTool = errors.New("tools: unknown tool")

	// ErrInvalidArguments wraps argument decode and validation failures.
	ErrInvalidArguments = errors.New("tools: invalid arguments")
)

// Tool is one callable function.
type Tool struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Timeout     time.Duration

	resolved *jsonschema.Resolved
	invoke   func(ctx context.Context, args []byte) (string, error)
}

// New builds a tool whose arguments decode into T.
func New[T any](name, description string, timeout time.Duration, fn func(ctx context.Context, args T) (string, error)) (*Tool, error) {
	schema, err := jsonschema.For[T](&jsonschema.ForOptions{})
	if err != nil {
		return nil, fmt.Errorf("tools: schema for %s: %w", name, err)
	}
	// Models routinely add stray fields; tolerate them.
	schema.AdditionalProperties = nil

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("tools: resolve schema for %s: %w", name, err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Tool{
		Name:        name,
		Description: description,
		Schema:      schema,
		Timeout:     timeout,
		resolved:    resolved,
		invoke: func(ctx context.Context, raw []byte) (string, error) {
			var args T
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
			}
			return fn(ctx, args)
		},
	}, nil
}

// MustNew is New that panics on schema errors. For static catalogs.
func MustNew[T any](name, description string, timeout time.Duration, fn func(ctx context.Context, args T) (string, error)) *Tool {
	t, err := New(name, description, timeout, fn)
	if err != nil {
		panic(err)
	}
	return t
}

// Definition returns the tool as offered to the model.
func (t *Tool) Definition() inference.Tool {
	return inference.NewTool(t.Name, t.Description, t.Schema)
}

// Call decodes, validates and runs the tool within its timeout.
func (t *Tool) Call(ctx context.Context, arguments string) (string, error) {
	raw, err := decodeArguments(arguments)
	if err != nil {
		return "", err
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := t.resolved.Validate(instance); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := t.invoke(ctx, raw)
		done <- outcome{r, err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("tools: %s timed out after %s: %w", t.Name, t.Timeout, ctx.Err())
	case o := <-done:
		return o.result, o.err
	}
}

// decodeArguments normalizes the model's argument string into valid JSON,
// repairing it when it does not parse as is.
func decodeArguments(arguments string) ([]byte, error) {
	arguments = strings.TrimSpace(arguments)
	if arguments == "" || arguments == "null" {
		return []byte("{}"), nil
	}
	if json.Valid([]byte(arguments)) {
		return []byte(arguments), nil
	}
	fixed, err := jsonrepair.JSONRepair(arguments)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return []byte(fixed), nil
}
