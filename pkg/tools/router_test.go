package tools

import (
	"context"
	"testing"
	"time"

	"github.com/voxdesk/voxdesk/pkg/tenant"
)

func testSnapshot() tenant.Snapshot {
	snap := tenant.Generic()
	snap.ID = "acme-plumb"
	snap.Known = true
	return snap
}

func testStore() *tenant.MemoryStore {
	store := tenant.NewMemoryStore()
	store.Bookings = []tenant.Booking{
		{
			ID:              "bk-1",
			TenantID:        "acme-plumb",
			Status:          "confirmed",
			Service:         "Drain clearing",
			BookingDatetime: "2026-08-25T09:00:00+10:00",
			CustomerName:    "Sam",
			CustomerPhone:   "+61400000001",
			CreatedAt:       time.Now(),
		},
	}
	store.Policies = []tenant.Policy{
		{ID: "pol-1", TenantID: "acme-plumb", Topic: "cancellation", Content: "24 hours notice."},
	}
	store.Hours = map[string]*tenant.WorkingHours{
		"acme-plumb": {
			TenantID: "acme-plumb",
			Timezone: "Australia/Sydney",
			Days: map[string]*tenant.DayHours{
				"monday": {Open: "09:00", Close: "17:00"},
				"sunday": nil,
			},
		},
	}
	return store
}

func TestLatestBookingFallsBackToCallerPhone(t *testing.T) {
	r := NewRouter(testStore(), nil, nil)
	res := r.Invoke(context.Background(), ToolGetLatestBooking, map[string]any{}, testSnapshot(), nil, "+61400000001")
	if res.Status != StatusOK {
		t.Fatalf("expected ok, got %+v", res)
	}
	booking, _ := res.Payload["booking"].(map[string]any)
	if booking["booking_id"] != "bk-1" {
		t.Fatalf("unexpected booking payload: %+v", res.Payload)
	}
}

func TestLatestBookingMissingPhone(t *testing.T) {
	r := NewRouter(testStore(), nil, nil)
	res := r.Invoke(context.Background(), ToolGetLatestBooking, map[string]any{}, testSnapshot(), nil, "")
	if res.Status != StatusSchema || res.ErrTag != "missing_customer_phone" {
		t.Fatalf("expected schema error, got %+v", res)
	}
}

func TestBookingByIDNotFound(t *testing.T) {
	r := NewRouter(testStore(), nil, nil)
	res := r.Invoke(context.Background(), ToolGetBookingByID, map[string]any{"booking_id": "nope"}, testSnapshot(), nil, "")
	if res.Status != StatusNotFound {
		t.Fatalf("expected not found, got %+v", res)
	}
}

func TestPoliciesMissingTopicIsEmpty(t *testing.T) {
	r := NewRouter(testStore(), nil, nil)
	res := r.Invoke(context.Background(), ToolGetPolicies, map[string]any{}, testSnapshot(), nil, "")
	if res.Status != StatusEmpty || res.ErrTag != "missing_topic" {
		t.Fatalf("expected empty, got %+v", res)
	}
}

func TestWorkingHours(t *testing.T) {
	r := NewRouter(testStore(), nil, nil)
	res := r.Invoke(context.Background(), ToolGetWorkingHours, map[string]any{}, testSnapshot(), nil, "")
	if res.Status != StatusOK {
		t.Fatalf("expected ok, got %+v", res)
	}
	if res.Payload["timezone"] != "Australia/Sydney" {
		t.Fatalf("unexpected payload: %+v", res.Payload)
	}
}

func TestUnknownToolRejected(t *testing.T) {
	r := NewRouter(testStore(), nil, nil)
	res := r.Invoke(context.Background(), "drop_tables", map[string]any{}, testSnapshot(), nil, "")
	if res.Status != StatusSchema || res.ErrTag != "unknown_tool" {
		t.Fatalf("expected unknown_tool, got %+v", res)
	}
}

func TestUnknownTenantYieldsNotFound(t *testing.T) {
	r := NewRouter(testStore(), nil, nil)
	res := r.Invoke(context.Background(), ToolGetWorkingHours, map[string]any{}, tenant.Generic(), nil, "")
	if res.Status != StatusNotFound {
		t.Fatalf("expected not found for unknown tenant, got %+v", res)
	}
}

type slowStore struct {
	*tenant.MemoryStore
	delay time.Duration
}

func (s *slowStore) GetPolicies(ctx context.Context, tenantID, topic string) ([]tenant.Policy, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
	}
	return s.MemoryStore.GetPolicies(ctx, tenantID, topic)
}

func TestSlowToolTimesOut(t *testing.T) {
	store := &slowStore{MemoryStore: testStore(), delay: 2 * time.Second}
	r := NewRouter(store, nil, nil)
	snap := testSnapshot()
	snap.ToolPolicy.PerToolTimeout = 50 * time.Millisecond

	start := time.Now()
	res := r.Invoke(context.Background(), ToolGetPolicies, map[string]any{"topic": "cancellation"}, snap, nil, "")
	if res.Status != StatusTimeout {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not enforced promptly")
	}
}

func TestTurnCacheReturnsIdenticalResult(t *testing.T) {
	base := testStore()
	store := &countingPolicyStore{MemoryStore: base}
	r := NewRouter(store, nil, nil)
	cache := NewTurnCache()
	args := map[string]any{"topic": "cancellation"}

	first := r.Invoke(context.Background(), ToolGetPolicies, args, testSnapshot(), cache, "")
	second := r.Invoke(context.Background(), ToolGetPolicies, args, testSnapshot(), cache, "")
	if first.JSON() != second.JSON() {
		t.Fatalf("expected identical payloads, got %q vs %q", first.JSON(), second.JSON())
	}
	if store.hits != 1 {
		t.Fatalf("expected single store hit, got %d", store.hits)
	}
}

type countingPolicyStore struct {
	*tenant.MemoryStore
	hits int
}

func (c *countingPolicyStore) GetPolicies(ctx context.Context, tenantID, topic string) ([]tenant.Policy, error) {
	c.hits++
	return c.MemoryStore.GetPolicies(ctx, tenantID, topic)
}
