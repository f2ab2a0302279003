package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/voxdesk/voxdesk/pkg/adapters/stt"
	"github.com/voxdesk/voxdesk/pkg/adapters/tts"
	"github.com/voxdesk/voxdesk/pkg/engine"
	"github.com/voxdesk/voxdesk/pkg/frames"
	"github.com/voxdesk/voxdesk/pkg/logging"
	"github.com/voxdesk/voxdesk/pkg/metrics"
	"github.com/voxdesk/voxdesk/pkg/tenant"
	"github.com/voxdesk/voxdesk/pkg/transports"
)

// Resolver narrows the tenant resolver to what call setup needs.
type Resolver interface {
	Resolve(ctx context.Context, tenantID, dialNumber string) tenant.Snapshot
}

// ProviderFactory builds per-call speech adapters. Each call gets its own
// provider sockets; nothing is shared between calls.
type ProviderFactory interface {
	NewSTT(info Info, snap tenant.Snapshot) stt.StreamingSTT
	NewTTS(info Info, snap tenant.Snapshot) tts.StreamingTTS
}

// RegistryDeps are the call-independent collaborators shared by sessions.
type RegistryDeps struct {
	Transport transports.Transport
	Ender     transports.CallEnder
	Resolver  Resolver
	Providers ProviderFactory
	Engine    *engine.Engine
	Store     tenant.Store
	SMS       SMSSender
	Obs       metrics.Observer
	Log       *slog.Logger
}

// Registry owns the transport receive loop: it creates a session per
// media stream, routes frames to it, and reaps it when the call ends.
type Registry struct {
	cfg  Config
	deps RegistryDeps
	log  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

func NewRegistry(cfg Config, deps RegistryDeps) *Registry {
	base := deps.Log
	if base == nil {
		base = slog.Default()
	}
	return &Registry{
		cfg:      cfg.withDefaults(),
		deps:     deps,
		log:      logging.NewComponentLogger(base, "registry"),
		sessions: make(map[string]*Session),
	}
}

// Run consumes the transport until its channel closes or ctx is done,
// then waits for every active session to finish.
func (r *Registry) Run(ctx context.Context) error {
	defer r.drain()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-r.deps.Transport.Recv():
			if !ok {
				return nil
			}
			r.route(ctx, f)
		}
	}
}

// ActiveSessions reports the number of live calls.
func (r *Registry) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) route(ctx context.Context, f frames.Frame) {
	meta := f.Meta()
	streamID := meta[frames.MetaStreamID]
	if streamID == "" {
		return
	}

	if sys, ok := f.(frames.SystemFrame); ok && sys.Name() == frames.SystemCallStart {
		r.startSession(ctx, streamID, meta)
		return
	}

	r.mu.Lock()
	sess := r.sessions[streamID]
	r.mu.Unlock()
	if sess == nil {
		return
	}
	sess.Deliver(f)
}

func (r *Registry) startSession(ctx context.Context, streamID string, meta map[string]string) {
	info := Info{
		StreamID:       streamID,
		CallSID:        meta[frames.MetaCallSID],
		TraceID:        meta[frames.MetaTraceID],
		CallerPhone:    meta[frames.MetaCallerPhone],
		GreetingPlayed: meta[frames.MetaGreetingPlayed] == "true",
	}
	snap := tenant.Generic()
	if r.deps.Resolver != nil {
		snap = r.deps.Resolver.Resolve(ctx, meta[frames.MetaTenantID], "")
	}

	sess := New(r.cfg, info, Deps{
		Transport: r.deps.Transport,
		Ender:     r.deps.Ender,
		STT:       r.deps.Providers.NewSTT(info, snap),
		TTS:       r.deps.Providers.NewTTS(info, snap),
		Engine:    r.deps.Engine,
		Snapshot:  snap,
		Store:     r.deps.Store,
		SMS:       r.deps.SMS,
		Obs:       r.deps.Obs,
		Log:       r.deps.Log,
	})

	r.mu.Lock()
	old := r.sessions[streamID]
	r.sessions[streamID] = sess
	r.mu.Unlock()
	if old != nil {
		old.Deliver(frames.NewSystemFrame(streamID, 0, frames.SystemCallEnd, map[string]string{
			frames.MetaCallEndReason: "superseded",
		}))
	}

	r.log.Info("session_started",
		slog.String("stream_id", streamID),
		slog.String("call_sid", info.CallSID),
		slog.String("tenant_id", snap.ID))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.remove(streamID, sess)
		if err := sess.Run(ctx); err != nil {
			r.log.Error("session_failed",
				slog.String("stream_id", streamID),
				slog.String("error", err.Error()))
		}
	}()
}

func (r *Registry) remove(streamID string, sess *Session) {
	r.mu.Lock()
	if r.sessions[streamID] == sess {
		delete(r.sessions, streamID)
	}
	r.mu.Unlock()
}

func (r *Registry) drain() {
	r.mu.Lock()
	for id, sess := range r.sessions {
		sess.Deliver(frames.NewSystemFrame(id, 0, frames.SystemCallEnd, map[string]string{
			frames.MetaCallEndReason: "shutdown",
		}))
	}
	r.mu.Unlock()
	r.wg.Wait()
}
