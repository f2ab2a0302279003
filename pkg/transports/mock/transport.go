package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/voxdesk/voxdesk/pkg/frames"
)

// Transport is an in-memory carrier for tests. Inbound frames are injected
// with Push; everything the session sends is recorded for inspection.
type Transport struct {
	recvCh chan frames.Frame
	closed atomic.Bool

	mu    sync.Mutex
	sent  []frames.Frame
	ended []string
}

func New() *Transport {
	return &Transport{
		recvCh: make(chan frames.Frame, 256),
	}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	if t.closed.CompareAndSwap(false, true) {
		close(t.recvCh)
	}
	return nil
}

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

func (t *Transport) Send(f frames.Frame) error {
	t.mu.Lock()
	t.sent = append(t.sent, f)
	t.mu.Unlock()
	return nil
}

// EndCall records the hangup instead of hitting a REST API.
func (t *Transport) EndCall(ctx context.Context, callSID string) error {
	t.mu.Lock()
	t.ended = append(t.ended, callSID)
	t.mu.Unlock()
	return nil
}

// Push injects an inbound frame into the transport.
func (t *Transport) Push(f frames.Frame) {
	if t.closed.Load() {
		return
	}
	select {
	case t.recvCh <- f:
	default:
	}
}

// Sent returns a copy of everything sent so far.
func (t *Transport) Sent() []frames.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]frames.Frame, len(t.sent))
	copy(out, t.sent)
	return out
}

// ClearCount counts clear controls sent to the carrier.
func (t *Transport) ClearCount() int {
	n := 0
	for _, f := range t.Sent() {
		if cf, ok := f.(frames.ControlFrame); ok && cf.Code() == frames.ControlClear {
			n++
		}
	}
	return n
}

// EndedCalls returns call SIDs hung up through EndCall.
func (t *Transport) EndedCalls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.ended))
	copy(out, t.ended)
	return out
}
