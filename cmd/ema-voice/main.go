// ema-voice is a push-to-talk voice assistant for the terminal.
//
// Usage:
//
//	ema-voice run                       # talk over the Flow channel
//	ema-voice run --channel deepgram    # transcription only
//	ema-voice devices                   # list audio devices
//
// Credentials come from the environment (SPEECHMATICS_AUTH_TOKEN,
// DEEPGRAM_API_KEY, TAVILY_API_KEY, OPENAI_API_KEY) or a YAML config file.
package main

import (
	"os"

	"github.com/koscakluka/ema-voice/cmd/ema-voice/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
