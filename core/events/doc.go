// Package events defines the typed events a voice session pushes to its UI.
//
// The UI is a one-way sink: it receives these events and only calls back
// into the engine through the session lifecycle controls.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - session.*
//   - connection.*
//   - turn.*
//   - tool_call.*
//   - playback.*
//   - capture.*
//
// session events
//
//   - SessionStateChanged (session.state_changed): engine state transition.
//   - SessionFailed (session.failed): the session reached the terminal
//     failed state; a new Start is needed to recover.
//
// connection events
//
//   - ConnectionStateChanged (connection.state_changed): channel connection
//     state transition, including the reconnect attempt number.
//
// turn events
//
//   - TurnStarted (turn.started): a speaker opened a new turn.
//   - TurnUpdated (turn.updated): mutable snapshot of an open turn, committed
//     text plus the pending partial.
//   - TurnFinalized (turn.finalized): immutable final snapshot of the turn.
//
// tool_call events
//
//   - ToolCallRequested (tool_call.requested): the remote side asked for a
//     tool call.
//   - ToolCallStarted (tool_call.started): tool execution started.
//   - ToolCallCompleted (tool_call.completed): tool execution completed.
//   - ToolCallFailed (tool_call.failed): tool execution failed; the failure
//     was still reported upstream.
//
// playback events
//
//   - PlaybackInterrupted (playback.interrupted): queued assistant audio was
//     discarded, by barge-in or an explicit interrupt.
//
// capture events
//
//   - CaptureChunksDropped (capture.chunks_dropped): microphone chunks were
//     discarded because the uplink buffer was full.
package events
