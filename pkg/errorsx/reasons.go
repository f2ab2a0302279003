package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTConnect   ReasonCode = "stt_connect"
	ReasonSTTSend      ReasonCode = "stt_send"
	ReasonSTTRetry     ReasonCode = "stt_retry"
	ReasonSTTRateLimit ReasonCode = "stt_rate_limit"

	ReasonTTSConnect   ReasonCode = "tts_connect"
	ReasonTTSSend      ReasonCode = "tts_send"
	ReasonTTSRetry     ReasonCode = "tts_retry"
	ReasonTTSRateLimit ReasonCode = "tts_rate_limit"

	ReasonLLMGenerate  ReasonCode = "llm_generate"
	ReasonLLMStream    ReasonCode = "llm_stream"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"

	// Tool router taxonomy. Surfaced to the engine as tagged tool
	// results, never fatal to the call.
	ReasonToolSchema   ReasonCode = "tool_schema"
	ReasonToolNotFound ReasonCode = "tool_not_found"
	ReasonToolTimeout  ReasonCode = "tool_timeout"
	ReasonToolEmpty    ReasonCode = "tool_empty"
	ReasonToolUpstream ReasonCode = "tool_upstream"

	ReasonTenantUnknown ReasonCode = "tenant_unknown"
	ReasonTenantStore   ReasonCode = "tenant_store"

	ReasonCarrierClosed             ReasonCode = "carrier_closed"
	ReasonTransportSend             ReasonCode = "transport_send"
	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"

	ReasonSinkBooking ReasonCode = "sink_booking"
	ReasonSinkSMS     ReasonCode = "sink_sms"
	ReasonSinkCallLog ReasonCode = "sink_call_log"
)
