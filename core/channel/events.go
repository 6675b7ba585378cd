package channel

import (
	"encoding/json"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/conversations"
)

// Event is one of SpeechStarted, PartialTranscript, FinalTranscript,
// ToolCallRequested, AudioResponseChunk, TurnEnd or *ChannelError.
type Event interface {
	channelEvent()
}

// SpeechStarted opens a turn for Speaker.
type SpeechStarted struct {
	Speaker conversations.Speaker
}

// PartialTranscript supersedes the previous partial of the open turn.
type PartialTranscript struct {
	Speaker conversations.Speaker
	Text    string
}

type FinalTranscript struct {
	Speaker conversations.Speaker
	Text    string
}

type ToolCallRequested struct {
	CallID string
	Name   string
	Args   json.RawMessage
}

// AudioResponseChunk carries synthesized assistant speech.
type AudioResponseChunk struct {
	Chunk audio.Chunk
}

// TurnEnd ends the open turn of Speaker. Interrupted is set when the remote
// side cut an assistant response short.
type TurnEnd struct {
	Speaker     conversations.Speaker
	Interrupted bool
}

func (SpeechStarted) channelEvent()      {}
func (PartialTranscript) channelEvent()  {}
func (FinalTranscript) channelEvent()    {}
func (ToolCallRequested) channelEvent()  {}
func (AudioResponseChunk) channelEvent() {}
func (TurnEnd) channelEvent()            {}
func (*ChannelError) channelEvent()      {}
