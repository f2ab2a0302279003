package metrics

// Event names shared across components.
const (
	EventBreakerDenied = "breaker_denied"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventRateLimit     = "rate_limited"

	EventAudioIn        = "audio_in"
	EventAudioOut       = "audio_out"
	EventAudioDropped   = "audio_dropped"
	EventSTTFinal       = "stt_final"
	EventSTTReconnect   = "stt_reconnect"
	EventLLMFirstToken  = "llm_first_token"
	EventLLMDone        = "llm_done"
	EventTTSFirstAudio  = "tts_first_audio"
	EventToolCall       = "tool_call"
	EventBargeIn        = "barge_in"
	EventCallStarted    = "call_started"
	EventCallEnded      = "call_ended"
	EventBookingWritten = "booking_written"
	EventSMSSent        = "sms_sent"
	EventSinkFailure    = "sink_failure"
)
