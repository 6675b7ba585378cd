package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Capability is something the remote model can call by name.
type Capability interface {
	Description() string
	// Schema is the JSON schema of the arguments.
	Schema() json.RawMessage
	// Call runs the capability. The returned value is sent upstream as JSON,
	// strings and json.RawMessage are sent as they are.
	Call(ctx context.Context, args json.RawMessage) (any, error)
}

// Func is a Capability backed by a typed function.
type Func[Args any] struct {
	description string
	schema      json.RawMessage
	fn          func(ctx context.Context, args Args) (any, error)
}

// NewFunc declares a capability whose argument schema is reflected from
// Args.
func NewFunc[Args any](description string, fn func(ctx context.Context, args Args) (any, error)) (*Func[Args], error) {
	schema, err := reflectSchema[Args]()
	if err != nil {
		return nil, err
	}
	return &Func[Args]{description: description, schema: schema, fn: fn}, nil
}

func MustNewFunc[Args any](description string, fn func(ctx context.Context, args Args) (any, error)) *Func[Args] {
	f, err := NewFunc(description, fn)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *Func[Args]) Description() string     { return f.description }
func (f *Func[Args]) Schema() json.RawMessage { return f.schema }

func (f *Func[Args]) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args Args
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("failed to decode arguments: %w", err)
	}
	return f.fn(ctx, args)
}
