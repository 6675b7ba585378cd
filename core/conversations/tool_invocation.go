package conversations

import (
	"encoding/json"
	"time"
)

type ToolStatus string

const (
	ToolStatusPending   ToolStatus = "pending"
	ToolStatusRunning   ToolStatus = "running"
	ToolStatusSucceeded ToolStatus = "succeeded"
	ToolStatusFailed    ToolStatus = "failed"
)

func (s ToolStatus) IsResolved() bool {
	return s == ToolStatusSucceeded || s == ToolStatusFailed
}

// ToolInvocation records one tool call requested by the remote side and how
// it resolved.
type ToolInvocation struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
	Status    ToolStatus

	Result string
	// ErrorKind and ErrorDetail are set when Status is failed.
	ErrorKind   string
	ErrorDetail string

	RequestedAt time.Time
	ResolvedAt  time.Time
}

func NewToolInvocation(callID, name string, arguments json.RawMessage, now time.Time) ToolInvocation {
	return ToolInvocation{
		CallID:      callID,
		Name:        name,
		Arguments:   arguments,
		Status:      ToolStatusPending,
		RequestedAt: now,
	}
}

func (i *ToolInvocation) MarkRunning() {
	if i.Status == ToolStatusPending {
		i.Status = ToolStatusRunning
	}
}

func (i *ToolInvocation) Succeed(result string, now time.Time) {
	if i.Status.IsResolved() {
		return
	}
	i.Status = ToolStatusSucceeded
	i.Result = result
	i.ResolvedAt = now
}

func (i *ToolInvocation) Fail(kind, detail string, now time.Time) {
	if i.Status.IsResolved() {
		return
	}
	i.Status = ToolStatusFailed
	i.ErrorKind = kind
	i.ErrorDetail = detail
	i.ResolvedAt = now
}
