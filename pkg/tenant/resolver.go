package tenant

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxdesk/voxdesk/pkg/configutil"
	"github.com/voxdesk/voxdesk/pkg/errorsx"
)

// Resolver maps a tenant key (from the stream's custom parameters) or a
// dialed number to a Snapshot, caching results with a TTL. An unresolvable
// tenant yields the generic snapshot so the call still proceeds.
type Resolver struct {
	store Store
	ttl   time.Duration
	log   *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
	now   func() time.Time
}

type cacheEntry struct {
	snap      Snapshot
	expiresAt time.Time
}

func NewResolver(store Store, ttl time.Duration, log *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		store: store,
		ttl:   ttl,
		log:   log,
		cache: make(map[string]cacheEntry),
		now:   time.Now,
	}
}

// Resolve looks up by tenant id first, then falls back to the dialed
// number. It never returns an error: failure degrades to Generic().
func (r *Resolver) Resolve(ctx context.Context, tenantID, dialNumber string) Snapshot {
	if tenantID != "" {
		if snap, ok := r.resolveKey(ctx, "id:"+tenantID, func(ctx context.Context) (*Record, error) {
			return r.store.GetTenant(ctx, tenantID)
		}); ok {
			return snap
		}
	}
	if dialNumber != "" {
		if snap, ok := r.resolveKey(ctx, "num:"+dialNumber, func(ctx context.Context) (*Record, error) {
			return r.store.GetTenantByNumber(ctx, dialNumber)
		}); ok {
			return snap
		}
	}
	r.log.Warn("tenant_unresolved", "tenant_id", tenantID, "dial_number", dialNumber)
	return Generic()
}

func (r *Resolver) resolveKey(ctx context.Context, key string, fetch func(context.Context) (*Record, error)) (Snapshot, bool) {
	r.mu.RLock()
	if e, ok := r.cache[key]; ok && r.now().Before(e.expiresAt) {
		r.mu.RUnlock()
		return e.snap, true
	}
	r.mu.RUnlock()

	rec, err := fetch(ctx)
	if err != nil {
		if !errorsx.HasReason(err, errorsx.ReasonTenantUnknown) {
			r.log.Error("tenant_store_error", "key", key, "err", err)
		}
		return Snapshot{}, false
	}
	snap := snapshotFromRecord(rec, r.now())

	r.mu.Lock()
	r.cache[key] = cacheEntry{snap: snap, expiresAt: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return snap, true
}

// Invalidate drops a cached tenant so the next resolve hits the store.
func (r *Resolver) Invalidate(tenantID string) {
	r.mu.Lock()
	delete(r.cache, "id:"+tenantID)
	r.mu.Unlock()
}

func snapshotFromRecord(rec *Record, now time.Time) Snapshot {
	snap := Generic()
	snap.ID = rec.ID
	snap.Known = true
	snap.ResolvedAt = now
	if rec.Name != "" {
		snap.Name = rec.Name
	}
	snap.Industry = rec.Industry
	if rec.Language != "" {
		snap.Language = rec.Language
	}
	if rec.Tone != "" {
		snap.Tone = rec.Tone
	}
	snap.DialNumber = rec.DialNumber
	if rec.GreetingText != "" {
		snap.Greeting.Text = rec.GreetingText
	} else {
		snap.Greeting.Text = "G'day! Welcome to " + snap.Name + ". How can I help you today?"
	}
	snap.Greeting.AudioURL = rec.GreetingURL

	var voice struct {
		Provider   string
		VoiceID    string
		SampleRate int
		Encoding   string
	}
	if err := configutil.DecodeSettings(rec.VoiceConfig, &voice); err == nil {
		if voice.Provider != "" {
			snap.Voice.Provider = voice.Provider
		}
		if voice.VoiceID != "" {
			snap.Voice.VoiceID = voice.VoiceID
		}
		if voice.SampleRate > 0 {
			snap.Voice.SampleRate = voice.SampleRate
		}
		if voice.Encoding != "" {
			snap.Voice.Encoding = voice.Encoding
		}
	}

	var tools struct {
		MaxCallsPerTurn  int
		PerToolTimeoutMs int
		TurnTimeoutMs    int
	}
	if err := configutil.DecodeSettings(rec.ToolConfig, &tools); err == nil {
		if tools.MaxCallsPerTurn > 0 {
			snap.ToolPolicy.MaxCallsPerTurn = tools.MaxCallsPerTurn
		}
		if tools.PerToolTimeoutMs > 0 {
			snap.ToolPolicy.PerToolTimeout = time.Duration(tools.PerToolTimeoutMs) * time.Millisecond
		}
		if tools.TurnTimeoutMs > 0 {
			snap.ToolPolicy.TurnTimeout = time.Duration(tools.TurnTimeoutMs) * time.Millisecond
		}
	}

	if len(rec.PromptVars) > 0 {
		snap.PromptVars = make(map[string]string, len(rec.PromptVars))
		for k, v := range rec.PromptVars {
			if s, ok := v.(string); ok {
				snap.PromptVars[k] = s
			}
		}
	}
	return snap
}
