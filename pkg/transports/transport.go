package transports

import (
	"context"

	"github.com/voxdesk/voxdesk/pkg/frames"
)

// Transport is the carrier-facing boundary. It turns carrier traffic into
// frames and frames back into carrier traffic; implementations own their
// network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan frames.Frame
	Send(frames.Frame) error
}

// CallEnder hangs up an active call through the carrier's REST surface.
// The media stream stopping on its own is not reliable enough for farewell
// flows, so sessions end calls explicitly.
type CallEnder interface {
	EndCall(ctx context.Context, callSID string) error
}

// OutboundDialer initiates outbound calls.
type OutboundDialer interface {
	Dial(ctx context.Context, to, from, url string) (callSID string, err error)
}

// DialOptions carries optional outbound dial settings.
type DialOptions struct {
	SendDigits string
}

// OutboundDialerWithOptions extends dialing with optional parameters.
type OutboundDialerWithOptions interface {
	DialWithOptions(ctx context.Context, to, from, url string, opts DialOptions) (callSID string, err error)
}

// ReadyReporter exposes readiness metadata (webhook URLs) for startup logs.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
