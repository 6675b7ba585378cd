package orchestration

import (
	"context"
	"errors"
	"slices"

	"github.com/koscakluka/ema-voice/core/channel"
	"github.com/koscakluka/ema-voice/core/conversations"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// dispatchToolCall records the call on the assistant turn and runs the tool
// off the control loop. Results are matched back by call id, so calls may
// complete in any order.
func (s *session) dispatchToolCall(request channel.ToolCallRequested) {
	now := s.engine.now()
	turn := s.ensureTurn(conversations.SpeakerAssistant)

	s.mu.Lock()
	if _, ok := s.toolTurns[request.CallID]; ok {
		s.mu.Unlock()
		logger.Warn("ignoring duplicate tool call", "session_id", s.id, "call_id", request.CallID, "tool", request.Name)
		return
	}
	invocation := conversations.NewToolInvocation(request.CallID, request.Name, request.Args, now)
	invocation.MarkRunning()
	turn.AddToolInvocation(invocation)
	s.toolTurns[request.CallID] = turn
	s.mu.Unlock()

	s.lastActivity[conversations.SpeakerAssistant] = now
	args := string(request.Args)
	s.emitter.Emit(events.NewToolCallRequested(request.CallID, request.Name, args))
	s.emitter.Emit(events.NewToolCallStarted(request.CallID, request.Name, args))

	s.tools.Add(1)
	go func() {
		defer s.tools.Done()

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.toolTimeout(request.Name))
		defer cancel()
		ctx, span := tracer.Start(ctx, "run tool call", trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.String("tool.call_id", request.CallID),
			attribute.String("tool.name", request.Name),
		))
		defer span.End()

		outcome := toolOutcome{callID: request.CallID, name: request.Name}
		if s.engine.registry == nil {
			outcome.err = &tools.Error{Kind: tools.ErrorKindUnknownTool, Tool: request.Name, Detail: "no tools are registered"}
		} else {
			result, err := s.engine.registry.Invoke(ctx, request.Name, request.Args)
			outcome.result, outcome.err = result.Content, err
		}

		select {
		case s.toolResults <- outcome:
		case <-s.ctx.Done():
		}
	}()
}

func (s *session) handleToolOutcome(ctx context.Context, outcome toolOutcome) {
	now := s.engine.now()

	var toolErr *tools.Error
	if outcome.err != nil && !errors.As(outcome.err, &toolErr) {
		toolErr = &tools.Error{Kind: tools.ErrorKindExecutionFailed, Tool: outcome.name, Detail: outcome.err.Error(), Err: outcome.err}
	}

	s.mu.Lock()
	turn, ok := s.toolTurns[outcome.callID]
	if !ok {
		s.mu.Unlock()
		logger.Warn("dropping result of unknown tool call", "session_id", s.id, "call_id", outcome.callID)
		return
	}
	delete(s.toolTurns, outcome.callID)
	if invocation := turn.ToolInvocation(outcome.callID); invocation != nil {
		if toolErr != nil {
			invocation.Fail(string(toolErr.Kind), toolErr.Detail, now)
		} else {
			invocation.Succeed(outcome.result, now)
		}
	}
	if turn.IsFinalised {
		logger.Warn("tool call resolved after its turn was finalised", "session_id", s.id, "call_id", outcome.callID)
	} else if s.openTurns[turn.Speaker] != turn && !turn.HasPendingToolInvocations() {
		s.finaliseLocked(turn, now)
	}
	s.mu.Unlock()

	result := channel.ToolResult{CallID: outcome.callID, Status: channel.ToolResultOK, Content: outcome.result}
	if toolErr != nil {
		logger.Warn("tool call failed", "session_id", s.id, "call_id", outcome.callID, "tool", outcome.name, "error", toolErr)
		s.emitter.Emit(events.NewToolCallFailed(outcome.callID, outcome.name, string(toolErr.Kind), toolErr.Error()))
		result = channel.ToolResult{CallID: outcome.callID, Status: channel.ToolResultFailed, Content: toolErr.Payload()}
	} else {
		s.emitter.Emit(events.NewToolCallCompleted(outcome.callID, outcome.name, outcome.result))
	}

	s.submitToolResult(ctx, result)
}

// submitToolResult answers a tool call upstream. Results that cannot be
// sent now are kept and sent after the next reconnect.
func (s *session) submitToolResult(ctx context.Context, result channel.ToolResult) {
	if s.conn == nil {
		s.pendingResults = append(s.pendingResults, result)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, toolResultSubmitTimeout)
	defer cancel()
	if err := s.conn.SubmitToolResult(ctx, result); err != nil {
		if errors.Is(err, channel.ErrToolResultsUnsupported) {
			logger.Warn("channel does not accept tool results", "session_id", s.id, "call_id", result.CallID)
			return
		}
		logger.Warn("failed to submit tool result, retrying after reconnect", "session_id", s.id, "call_id", result.CallID, "error", err)
		s.pendingResults = append(s.pendingResults, result)
	}
}

// cancelPendingToolCallsLocked fails every unresolved tool call once the session
// is over.
func (s *session) cancelPendingToolCallsLocked() {
	now := s.engine.now()
	for callID, turn := range s.toolTurns {
		if invocation := turn.ToolInvocation(callID); invocation != nil {
			invocation.Fail(string(tools.ErrorKindExecutionFailed), "cancelled", now)
		}
		delete(s.toolTurns, callID)
	}
	for _, turn := range slices.Clone(s.awaiting) {
		s.finaliseLocked(turn, now)
	}
}
