package tenant

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/voxdesk/voxdesk/pkg/errorsx"
)

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	Tenants  map[string]*Record
	Bookings []Booking
	Services []Service
	Hours    map[string]*WorkingHours
	Policies []Policy
	FAQs     []FAQ
	Calls    []CallRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Tenants: make(map[string]*Record),
		Hours:   make(map[string]*WorkingHours),
	}
}

func (m *MemoryStore) GetTenant(ctx context.Context, tenantID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.Tenants[tenantID]
	if !ok {
		return nil, errorsx.Wrap(fmt.Errorf("tenant %s not found", tenantID), errorsx.ReasonTenantUnknown)
	}
	return rec, nil
}

func (m *MemoryStore) GetTenantByNumber(ctx context.Context, dialNumber string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.Tenants {
		if rec.DialNumber == dialNumber {
			return rec, nil
		}
	}
	return nil, errorsx.Wrap(fmt.Errorf("no tenant for %s", dialNumber), errorsx.ReasonTenantUnknown)
}

func (m *MemoryStore) GetLatestBooking(ctx context.Context, tenantID, customerPhone string) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var candidates []Booking
	for _, b := range m.Bookings {
		if b.TenantID == tenantID && b.CustomerPhone == customerPhone {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return &candidates[0], nil
}

func (m *MemoryStore) GetBookingByID(ctx context.Context, tenantID, bookingID string) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.Bookings {
		if b.TenantID == tenantID && b.ID == bookingID {
			out := b
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListServices(ctx context.Context, tenantID string) ([]Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Service
	for _, s := range m.Services {
		if s.TenantID == tenantID && s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetWorkingHours(ctx context.Context, tenantID string) (*WorkingHours, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Hours[tenantID], nil
}

func (m *MemoryStore) GetPolicies(ctx context.Context, tenantID, topic string) ([]Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Policy
	for _, p := range m.Policies {
		if p.TenantID == tenantID && (topic == "" || p.Topic == topic) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetFAQs(ctx context.Context, tenantID, topic string) ([]FAQ, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []FAQ
	for _, f := range m.FAQs {
		if f.TenantID == tenantID && (topic == "" || f.Topic == topic) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateBooking(ctx context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	m.Bookings = append(m.Bookings, *b)
	return nil
}

func (m *MemoryStore) CreateCallRecord(ctx context.Context, rec *CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, *rec)
	return nil
}

func (m *MemoryStore) FinishCallRecord(ctx context.Context, callSID, outcome string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Calls {
		if m.Calls[i].CallSID == callSID {
			m.Calls[i].Outcome = outcome
			t := endedAt
			m.Calls[i].EndedAt = &t
			return nil
		}
	}
	return errorsx.Wrap(fmt.Errorf("call %s not found", callSID), errorsx.ReasonSinkCallLog)
}

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
