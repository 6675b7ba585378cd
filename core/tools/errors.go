package tools

import (
	"encoding/json"
	"fmt"
)

type ErrorKind string

const (
	ErrorKindUnknownTool      ErrorKind = "unknown_tool"
	ErrorKindInvalidArguments ErrorKind = "invalid_arguments"
	ErrorKindExecutionFailed  ErrorKind = "execution_failed"
	ErrorKindTimeout          ErrorKind = "timeout"
)

// Error is returned by Registry.Invoke. Every kind is recoverable: the
// caller reports it to the remote model as a failed tool result.
type Error struct {
	Kind   ErrorKind
	Tool   string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("tool %s: %s", e.Tool, e.Kind)
	}
	return fmt.Sprintf("tool %s: %s: %s", e.Tool, e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Payload is the structured failure sent upstream in place of a result.
func (e *Error) Payload() string {
	payload, _ := json.Marshal(struct {
		Code    ErrorKind `json:"code"`
		Tool    string    `json:"tool"`
		Message string    `json:"message,omitempty"`
	}{Code: e.Kind, Tool: e.Tool, Message: e.Detail})
	return string(payload)
}
