package frames

// Meta keys attached to frames as they move between the carrier socket,
// the speech providers, and the call session.
const (
	MetaStreamID    = "stream_id"
	MetaCallSID     = "call_sid"
	MetaTraceID     = "trace_id"
	MetaTenantID    = "tenant_id"
	MetaCallerPhone = "caller_phone"
	MetaSource      = "source"

	MetaEncoding = "encoding"
	MetaIsFinal  = "is_final"
	MetaReason   = "reason"
	MetaLanguage = "language"
	MetaMarkName = "mark_name"

	MetaGreetingText   = "greeting_text"
	MetaGreetingPlayed = "greeting_played"
	MetaCallEndReason  = "call_end_reason"
	MetaDTMFDigit      = "dtmf_digit"
	MetaInterrupted    = "interrupted"

	MetaToolCallID = "tool_call_id"
	MetaToolName   = "tool_name"
	MetaToolArgs   = "tool_args"
	MetaToolResult = "tool_result"
	MetaToolStatus = "tool_status"
	MetaToolError  = "tool_error"

	MetaTTSFlush = "tts_flush"
)
