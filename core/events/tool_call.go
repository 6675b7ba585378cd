package events

const (
	// KindToolCallRequested identifies a tool call request from the remote side.
	KindToolCallRequested Kind = "tool_call.requested"
	// KindToolCallStarted identifies tool call execution start.
	KindToolCallStarted Kind = "tool_call.started"
	// KindToolCallCompleted identifies successful tool call completion.
	KindToolCallCompleted Kind = "tool_call.completed"
	// KindToolCallFailed identifies tool call failure.
	KindToolCallFailed Kind = "tool_call.failed"
)

// ToolCallRequested marks a tool call the remote side asked for.
type ToolCallRequested struct {
	Base
	ID        string
	Name      string
	Arguments string
}

// NewToolCallRequested creates a tool call requested event.
func NewToolCallRequested(id, name, arguments string) ToolCallRequested {
	return ToolCallRequested{Base: NewBase(KindToolCallRequested), ID: id, Name: name, Arguments: arguments}
}

// ToolCallStarted marks start of tool execution.
type ToolCallStarted struct {
	Base
	ID        string
	Name      string
	Arguments string
}

// NewToolCallStarted creates a tool call started event.
func NewToolCallStarted(id, name, arguments string) ToolCallStarted {
	return ToolCallStarted{Base: NewBase(KindToolCallStarted), ID: id, Name: name, Arguments: arguments}
}

// ToolCallCompleted marks successful tool execution.
type ToolCallCompleted struct {
	Base
	ID       string
	Name     string
	Response string
}

// NewToolCallCompleted creates a tool call completed event.
func NewToolCallCompleted(id, name, response string) ToolCallCompleted {
	return ToolCallCompleted{Base: NewBase(KindToolCallCompleted), ID: id, Name: name, Response: response}
}

// ToolCallFailed marks failed tool execution. Kind is the tool error kind,
// e.g. "timeout".
type ToolCallFailed struct {
	Base
	ID        string
	Name      string
	ErrorKind string
	Error     string
}

// NewToolCallFailed creates a tool call failed event.
func NewToolCallFailed(id, name, errorKind, err string) ToolCallFailed {
	return ToolCallFailed{Base: NewBase(KindToolCallFailed), ID: id, Name: name, ErrorKind: errorKind, Error: err}
}
