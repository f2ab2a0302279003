package tenant

import "time"

// Snapshot is an immutable view of a tenant's configuration resolved for
// one call. Sessions never reach back to the store mid-call.
type Snapshot struct {
	ID          string
	Name        string
	Industry    string
	Language    string
	Tone        string
	DialNumber  string
	Greeting    Greeting
	Voice       VoiceConfig
	PromptVars  map[string]string
	ToolPolicy  ToolPolicy
	Known       bool
	ResolvedAt  time.Time
}

type Greeting struct {
	Text     string
	AudioURL string
}

type VoiceConfig struct {
	Provider   string
	VoiceID    string
	SampleRate int
	Encoding   string
}

// ToolPolicy bounds tool usage within a single assistant turn.
type ToolPolicy struct {
	MaxCallsPerTurn int
	PerToolTimeout  time.Duration
	TurnTimeout     time.Duration
}

const genericGreeting = "G'day! Thanks for calling. How can I help you today?"

// Generic returns the degraded snapshot used when the tenant cannot be
// resolved: generic greeting, no tenant-scoped collections, default limits.
func Generic() Snapshot {
	return Snapshot{
		ID:       "unknown",
		Name:     "our business",
		Language: "en-AU",
		Tone:     "friendly",
		Greeting: Greeting{Text: genericGreeting},
		Voice: VoiceConfig{
			Provider:   "deepgram",
			VoiceID:    "aura-asteria-en",
			SampleRate: 8000,
			Encoding:   "mulaw",
		},
		ToolPolicy: DefaultToolPolicy(),
		Known:      false,
	}
}

func DefaultToolPolicy() ToolPolicy {
	return ToolPolicy{
		MaxCallsPerTurn: 2,
		PerToolTimeout:  400 * time.Millisecond,
		TurnTimeout:     time.Second,
	}
}
