package tts

import (
	"context"

	"github.com/voxdesk/voxdesk/pkg/frames"
)

// StreamingTTS defines the contract for any TTS vendor implementation.
//
// Results carries AudioFrames in the carrier's encoding plus a
// ControlFlushed frame when the provider confirms a flush completed.
type StreamingTTS interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start initializes the TTS connection.
	Start(ctx context.Context) error
	// Close shuts down the TTS connection.
	Close() error
	// SendText queues a text fragment for synthesis.
	SendText(text string) error
	// Flush commits buffered text so the provider synthesizes it now.
	Flush() error
	// Clear discards buffered synthesis. Used on barge-in.
	Clear()
	// Results returns a channel of audio/control frames.
	Results() <-chan frames.Frame
}

// Config contains vendor-agnostic TTS configuration.
type Config struct {
	StreamID   string
	CallSID    string
	TraceID    string
	Voice      string
	SampleRate int
	Channels   int
	Encoding   string
}
