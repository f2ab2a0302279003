package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/voxdesk/voxdesk/pkg/errorsx"
)

// SupabaseConfig holds connection settings for the tenant database.
type SupabaseConfig struct {
	URL    string
	APIKey string
}

// SupabaseStore implements Store against PostgREST tables: tenants,
// bookings, services, working_hours, policies, faqs, calls.
type SupabaseStore struct {
	client *supabase.Client
}

func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

func (s *SupabaseStore) GetTenant(ctx context.Context, tenantID string) (*Record, error) {
	var rows []Record
	_, err := s.client.From("tenants").
		Select("*", "", false).
		Eq("id", tenantID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTenantStore)
	}
	if len(rows) == 0 {
		return nil, errorsx.Wrap(fmt.Errorf("tenant %s not found", tenantID), errorsx.ReasonTenantUnknown)
	}
	return &rows[0], nil
}

func (s *SupabaseStore) GetTenantByNumber(ctx context.Context, dialNumber string) (*Record, error) {
	var rows []Record
	_, err := s.client.From("tenants").
		Select("*", "", false).
		Eq("dial_number", dialNumber).
		ExecuteTo(&rows)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTenantStore)
	}
	if len(rows) == 0 {
		return nil, errorsx.Wrap(fmt.Errorf("no tenant for %s", dialNumber), errorsx.ReasonTenantUnknown)
	}
	return &rows[0], nil
}

func (s *SupabaseStore) GetLatestBooking(ctx context.Context, tenantID, customerPhone string) (*Booking, error) {
	var rows []Booking
	_, err := s.client.From("bookings").
		Select("*", "", false).
		Eq("tenant_id", tenantID).
		Eq("customer_phone", customerPhone).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTenantStore)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *SupabaseStore) GetBookingByID(ctx context.Context, tenantID, bookingID string) (*Booking, error) {
	var rows []Booking
	_, err := s.client.From("bookings").
		Select("*", "", false).
		Eq("tenant_id", tenantID).
		Eq("id", bookingID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTenantStore)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *SupabaseStore) ListServices(ctx context.Context, tenantID string) ([]Service, error) {
	var rows []Service
	_, err := s.client.From("services").
		Select("*", "", false).
		Eq("tenant_id", tenantID).
		Eq("is_active", "true").
		ExecuteTo(&rows)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTenantStore)
	}
	return rows, nil
}

func (s *SupabaseStore) GetWorkingHours(ctx context.Context, tenantID string) (*WorkingHours, error) {
	var rows []WorkingHours
	_, err := s.client.From("working_hours").
		Select("*", "", false).
		Eq("tenant_id", tenantID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTenantStore)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *SupabaseStore) GetPolicies(ctx context.Context, tenantID, topic string) ([]Policy, error) {
	var rows []Policy
	q := s.client.From("policies").
		Select("*", "", false).
		Eq("tenant_id", tenantID)
	if topic != "" {
		q = q.Eq("topic", topic)
	}
	if _, err := q.ExecuteTo(&rows); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTenantStore)
	}
	return rows, nil
}

func (s *SupabaseStore) GetFAQs(ctx context.Context, tenantID, topic string) ([]FAQ, error) {
	var rows []FAQ
	q := s.client.From("faqs").
		Select("*", "", false).
		Eq("tenant_id", tenantID)
	if topic != "" {
		q = q.Eq("topic", topic)
	}
	if _, err := q.ExecuteTo(&rows); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTenantStore)
	}
	return rows, nil
}

func (s *SupabaseStore) CreateBooking(ctx context.Context, b *Booking) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, _, err := s.client.From("bookings").
		Insert(b, false, "", "", "").
		Execute()
	return errorsx.Wrap(err, errorsx.ReasonSinkBooking)
}

func (s *SupabaseStore) CreateCallRecord(ctx context.Context, rec *CallRecord) error {
	_, _, err := s.client.From("calls").
		Insert(rec, false, "", "", "").
		Execute()
	return errorsx.Wrap(err, errorsx.ReasonSinkCallLog)
}

func (s *SupabaseStore) FinishCallRecord(ctx context.Context, callSID, outcome string, endedAt time.Time) error {
	_, _, err := s.client.From("calls").
		Update(map[string]any{
			"outcome":  outcome,
			"ended_at": endedAt,
		}, "", "").
		Eq("call_sid", callSID).
		Execute()
	return errorsx.Wrap(err, errorsx.ReasonSinkCallLog)
}

func (s *SupabaseStore) Close() error { return nil }

var _ Store = (*SupabaseStore)(nil)
