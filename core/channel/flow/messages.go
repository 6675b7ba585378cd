package flow

import "encoding/json"

type clientMessageType string

const (
	messageStartConversation clientMessageType = "StartConversation"
	messageAudioReceived     clientMessageType = "AudioReceived"
	messageToolResult        clientMessageType = "ToolResult"
	messageAudioEnded        clientMessageType = "AudioEnded"
)

type serverMessageType string

const (
	messageConversationStarted  serverMessageType = "ConversationStarted"
	messageConversationEnding   serverMessageType = "ConversationEnding"
	messageConversationEnded    serverMessageType = "ConversationEnded"
	messageAudioAdded           serverMessageType = "AudioAdded"
	messageAddPartialTranscript serverMessageType = "AddPartialTranscript"
	messageAddTranscript        serverMessageType = "AddTranscript"
	messageResponseStarted      serverMessageType = "ResponseStarted"
	messageResponseCompleted    serverMessageType = "ResponseCompleted"
	messageResponseInterrupted  serverMessageType = "ResponseInterrupted"
	messageToolInvoke           serverMessageType = "ToolInvoke"
	messageInfo                 serverMessageType = "Info"
	messageWarning              serverMessageType = "Warning"
	messageError                serverMessageType = "Error"
)

type audioFormat struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type conversationConfig struct {
	TemplateID        string            `json:"template_id"`
	TemplateVariables map[string]string `json:"template_variables,omitempty"`
}

type toolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type tool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type startConversation struct {
	Message            clientMessageType  `json:"message"`
	AudioFormat        audioFormat        `json:"audio_format"`
	ConversationConfig conversationConfig `json:"conversation_config"`
	Tools              []tool             `json:"tools,omitempty"`
}

type audioReceived struct {
	Message   clientMessageType `json:"message"`
	SeqNo     uint64            `json:"seq_no"`
	Buffering float64           `json:"buffering"`
}

type toolResult struct {
	Message clientMessageType `json:"message"`
	ID      string            `json:"id"`
	Status  string            `json:"status"`
	Content string            `json:"content"`
}

type audioEnded struct {
	Message   clientMessageType `json:"message"`
	LastSeqNo uint64            `json:"last_seq_no"`
}

// serverMessage holds the union of the server message fields this adapter
// reads.
type serverMessage struct {
	Message serverMessageType `json:"message"`

	ID    string `json:"id,omitempty"`
	SeqNo uint64 `json:"seq_no,omitempty"`

	Metadata struct {
		Transcript string  `json:"transcript"`
		StartTime  float64 `json:"start_time"`
		EndTime    float64 `json:"end_time"`
	} `json:"metadata"`

	Content string `json:"content,omitempty"`

	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`

	Type   string `json:"type,omitempty"`
	Reason string `json:"reason,omitempty"`
}
