package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/voxdesk/voxdesk/pkg/metrics"
	"github.com/voxdesk/voxdesk/pkg/tenant"
)

// Status tags a tool outcome for the engine's error taxonomy.
type Status string

const (
	StatusOK       Status = "ok"
	StatusSchema   Status = "schema_error"
	StatusNotFound Status = "not_found"
	StatusTimeout  Status = "timeout"
	StatusEmpty    Status = "empty"
	StatusUpstream Status = "upstream"
)

// Result is the structured outcome of one tool invocation.
type Result struct {
	Status  Status
	Payload map[string]any
	ErrTag  string
	Latency time.Duration
}

// JSON renders the result the way it is fed back to the model.
func (r Result) JSON() string {
	body := r.Payload
	if body == nil {
		body = map[string]any{}
	}
	if r.Status != StatusOK {
		body = map[string]any{"error": r.ErrTag, "status": string(r.Status)}
		if note, ok := r.Payload["note"]; ok {
			body["note"] = note
		}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return `{"error":"encode_failed"}`
	}
	return string(b)
}

// BudgetExhaustedResult is substituted for tool calls requested after the
// per-turn budget is spent, steering the model to answer with what it has.
func BudgetExhaustedResult() Result {
	return Result{
		Status: StatusEmpty,
		ErrTag: "tool_budget_exhausted",
		Payload: map[string]any{
			"note": "tool budget for this turn is exhausted; answer with the information already gathered",
		},
	}
}

// Router dispatches the read-only tool catalogue against the tenant store.
// It holds no mutable state besides the metrics observer.
type Router struct {
	store tenant.Store
	obs   metrics.Observer
	log   *slog.Logger
}

func NewRouter(store tenant.Store, obs metrics.Observer, log *slog.Logger) *Router {
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Router{store: store, obs: obs, log: log}
}

// TurnCache memoizes results within one assistant turn so a repeated call
// with identical arguments returns the identical payload.
type TurnCache struct {
	mu      sync.Mutex
	results map[string]Result
}

func NewTurnCache() *TurnCache {
	return &TurnCache{results: make(map[string]Result)}
}

func (c *TurnCache) key(name string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range keys {
		b, _ := json.Marshal(args[k])
		sb.WriteString("|")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.Write(b)
	}
	return sb.String()
}

// Invoke validates and runs one tool with the tenant id injected from the
// snapshot. The caller's ctx should carry the whole-turn deadline; the
// per-tool timeout from the tenant's policy is applied on top of it.
func (r *Router) Invoke(ctx context.Context, name string, args map[string]any, snap tenant.Snapshot, cache *TurnCache, callerPhone string) Result {
	start := time.Now()

	var cacheKey string
	if cache != nil {
		cacheKey = cache.key(name, args)
		cache.mu.Lock()
		if res, ok := cache.results[cacheKey]; ok {
			cache.mu.Unlock()
			return res
		}
		cache.mu.Unlock()
	}

	res := r.invoke(ctx, name, args, snap, callerPhone)
	res.Latency = time.Since(start)

	r.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventToolCall,
		Time:  time.Now(),
		Value: float64(res.Latency.Milliseconds()),
		Tags: map[string]string{
			"tool":      name,
			"status":    string(res.Status),
			"tenant_id": snap.ID,
		},
	})

	if cache != nil && res.Status != StatusTimeout {
		cache.mu.Lock()
		cache.results[cacheKey] = res
		cache.mu.Unlock()
	}
	return res
}

func (r *Router) invoke(ctx context.Context, name string, args map[string]any, snap tenant.Snapshot, callerPhone string) Result {
	if !knownTool(name) {
		return Result{Status: StatusSchema, ErrTag: "unknown_tool"}
	}
	if !snap.Known {
		return Result{Status: StatusNotFound, ErrTag: "tenant_unknown"}
	}

	timeout := snap.ToolPolicy.PerToolTimeout
	if timeout <= 0 {
		timeout = 400 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res Result
	}
	done := make(chan outcome, 1)
	go func() {
		done <- outcome{res: r.dispatch(ctx, name, args, snap, callerPhone)}
	}()
	select {
	case <-ctx.Done():
		return Result{Status: StatusTimeout, ErrTag: "tool_timeout"}
	case o := <-done:
		return o.res
	}
}

func (r *Router) dispatch(ctx context.Context, name string, args map[string]any, snap tenant.Snapshot, callerPhone string) Result {
	tenantID := snap.ID
	switch name {
	case ToolGetLatestBooking:
		phone := stringArg(args, "customer_phone")
		if phone == "" {
			phone = callerPhone
		}
		if phone == "" {
			return Result{Status: StatusSchema, ErrTag: "missing_customer_phone"}
		}
		b, err := r.store.GetLatestBooking(ctx, tenantID, phone)
		if err != nil {
			return upstream(ctx, err)
		}
		return Result{Status: StatusOK, Payload: map[string]any{"booking": bookingPayload(b)}}

	case ToolGetBookingByID:
		id := stringArg(args, "booking_id")
		if id == "" {
			return Result{Status: StatusSchema, ErrTag: "missing_booking_id"}
		}
		b, err := r.store.GetBookingByID(ctx, tenantID, id)
		if err != nil {
			return upstream(ctx, err)
		}
		if b == nil {
			return Result{Status: StatusNotFound, ErrTag: "booking_not_found"}
		}
		return Result{Status: StatusOK, Payload: map[string]any{"booking": bookingPayload(b)}}

	case ToolGetBusinessServices:
		services, err := r.store.ListServices(ctx, tenantID)
		if err != nil {
			return upstream(ctx, err)
		}
		list := make([]map[string]any, 0, len(services))
		for _, s := range services {
			list = append(list, map[string]any{
				"name":             s.Name,
				"description":      s.Description,
				"duration_minutes": s.DurationMinutes,
				"price":            s.Price,
			})
		}
		return Result{Status: StatusOK, Payload: map[string]any{"services": list}}

	case ToolGetWorkingHours:
		wh, err := r.store.GetWorkingHours(ctx, tenantID)
		if err != nil {
			return upstream(ctx, err)
		}
		if wh == nil {
			return Result{Status: StatusNotFound, ErrTag: "working_hours_not_set"}
		}
		days := make(map[string]any, len(wh.Days))
		for day, h := range wh.Days {
			if h == nil {
				days[day] = nil
				continue
			}
			days[day] = map[string]any{"open": h.Open, "close": h.Close}
		}
		return Result{Status: StatusOK, Payload: map[string]any{"working_hours": days, "timezone": wh.Timezone}}

	case ToolGetPolicies:
		topic := stringArg(args, "topic")
		if topic == "" {
			return Result{Status: StatusEmpty, ErrTag: "missing_topic"}
		}
		policies, err := r.store.GetPolicies(ctx, tenantID, topic)
		if err != nil {
			return upstream(ctx, err)
		}
		list := make([]map[string]any, 0, len(policies))
		for _, p := range policies {
			list = append(list, map[string]any{
				"id":         p.ID,
				"topic":      p.Topic,
				"content":    p.Content,
				"updated_at": p.UpdatedAt,
			})
		}
		return Result{Status: StatusOK, Payload: map[string]any{"topic": topic, "policies": list}}

	case ToolGetFAQs:
		topic := stringArg(args, "topic")
		if topic == "" {
			return Result{Status: StatusEmpty, ErrTag: "missing_topic"}
		}
		faqs, err := r.store.GetFAQs(ctx, tenantID, topic)
		if err != nil {
			return upstream(ctx, err)
		}
		list := make([]map[string]any, 0, len(faqs))
		for _, f := range faqs {
			list = append(list, map[string]any{
				"id":         f.ID,
				"topic":      f.Topic,
				"question":   f.Question,
				"answer":     f.Answer,
				"tags":       f.Tags,
				"updated_at": f.UpdatedAt,
			})
		}
		return Result{Status: StatusOK, Payload: map[string]any{"topic": topic, "faqs": list}}
	}
	return Result{Status: StatusSchema, ErrTag: "unknown_tool"}
}

func upstream(ctx context.Context, err error) Result {
	if ctx.Err() != nil {
		return Result{Status: StatusTimeout, ErrTag: "tool_timeout"}
	}
	return Result{Status: StatusUpstream, ErrTag: "store_error"}
}

func bookingPayload(b *tenant.Booking) map[string]any {
	if b == nil {
		return nil
	}
	out := map[string]any{
		"booking_id":       b.ID,
		"status":           b.Status,
		"service":          b.Service,
		"booking_datetime": b.BookingDatetime,
		"customer_name":    b.CustomerName,
	}
	if b.DurationMinutes > 0 {
		out["duration_minutes"] = b.DurationMinutes
	}
	if b.CustomerPhone != "" {
		out["customer_phone"] = b.CustomerPhone
	}
	return out
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}
