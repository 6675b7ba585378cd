// Package tools maps tool names to capabilities and runs them with argument
// validation, a timeout and panic recovery.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	google "github.com/google/jsonschema-go/jsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const DefaultTimeout = 15 * time.Second

var ErrDuplicateTool = errors.New("tool already registered")

// Definition is what the remote model is told about a tool.
type Definition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

type Result struct {
	Content string
}

type registeredTool struct {
	capability Capability
	schema     *google.Resolved
	timeout    time.Duration
}

type Registry struct {
	defaultTimeout time.Duration

	mu    sync.RWMutex
	tools map[string]registeredTool
	order []string

	invocations metric.Int64Counter
}

type RegistryOption func(*Registry)

func WithDefaultTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) { r.defaultTimeout = timeout }
}

type registerOptions struct {
	timeout time.Duration
}

type RegisterOption func(*registerOptions)

// WithTimeout overrides the registry default for one tool.
func WithTimeout(timeout time.Duration) RegisterOption {
	return func(o *registerOptions) { o.timeout = timeout }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		defaultTimeout: DefaultTimeout,
		tools:          map[string]registeredTool{},
	}
	for _, opt := range opts {
		opt(r)
	}

	invocations, err := meter.Int64Counter("ema.tools.invocations",
		metric.WithDescription("Tool invocations by tool and outcome"))
	if err != nil {
		logger.Warn("failed to create tool invocation counter", "error", err)
	}
	r.invocations = invocations
	return r
}

func (r *Registry) Register(name string, capability Capability, opts ...RegisterOption) error {
	if name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if capability == nil {
		return fmt.Errorf("tool %s has no capability", name)
	}

	options := registerOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	schema, err := resolveSchema(capability.Schema())
	if err != nil {
		return fmt.Errorf("invalid schema for tool %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = registeredTool{capability: capability, schema: schema, timeout: options.timeout}
	r.order = append(r.order, name)
	return nil
}

// SetTimeout changes the timeout of a registered tool.
func (r *Registry) SetTimeout(name string, timeout time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	tool, ok := r.tools[name]
	if !ok {
		return false
	}
	tool.timeout = timeout
	r.tools[name] = tool
	return true
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Definitions lists the registered tools in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definitions := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		definitions = append(definitions, Definition{
			Name:        name,
			Description: tool.capability.Description(),
			Parameters:  tool.capability.Schema(),
		})
	}
	return definitions
}

// Invoke validates args and runs the named tool. Any failure is returned as
// a *Error.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (result Result, err error) {
	ctx, span := tracer.Start(ctx, "invoke tool")
	span.SetAttributes(attribute.String("tool.name", name))
	defer func() {
		status := "succeeded"
		if err != nil {
			status = "failed"
			var toolErr *Error
			if errors.As(err, &toolErr) {
				span.SetAttributes(attribute.String("tool.error_kind", string(toolErr.Kind)))
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "tool invocation failed")
		}
		if r.invocations != nil {
			r.invocations.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool.name", name),
				attribute.String("tool.status", status),
			))
		}
		span.End()
	}()

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, &Error{Kind: ErrorKindUnknownTool, Tool: name, Detail: "no tool with this name is registered"}
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var instance any
	if err := json.Unmarshal(args, &instance); err != nil {
		return Result{}, &Error{Kind: ErrorKindInvalidArguments, Tool: name, Detail: "arguments are not valid JSON", Err: err}
	}
	if err := tool.schema.Validate(instance); err != nil {
		return Result{}, &Error{Kind: ErrorKindInvalidArguments, Tool: name, Detail: err.Error(), Err: err}
	}

	// A deadline set by the caller replaces the registry default; a timeout
	// set for this tool still caps it.
	timeout := tool.timeout
	if deadline, ok := ctx.Deadline(); ok && timeout <= 0 {
		timeout = time.Until(deadline).Round(time.Millisecond)
	} else {
		if timeout <= 0 {
			timeout = r.defaultTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", recovered)}
			}
		}()
		value, err := tool.capability.Call(ctx, args)
		done <- outcome{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, &Error{Kind: ErrorKindTimeout, Tool: name, Detail: fmt.Sprintf("no result within %s", timeout), Err: ctx.Err()}
		}
		return Result{}, &Error{Kind: ErrorKindExecutionFailed, Tool: name, Detail: "cancelled", Err: ctx.Err()}

	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return Result{}, &Error{Kind: ErrorKindTimeout, Tool: name, Detail: fmt.Sprintf("no result within %s", timeout), Err: out.err}
			}
			return Result{}, &Error{Kind: ErrorKindExecutionFailed, Tool: name, Detail: out.err.Error(), Err: out.err}
		}
		content, err := encodeResult(out.value)
		if err != nil {
			return Result{}, &Error{Kind: ErrorKindExecutionFailed, Tool: name, Detail: "result is not serializable", Err: err}
		}
		return Result{Content: content}, nil
	}
}

func encodeResult(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "null", nil
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	case []byte:
		return string(v), nil
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
