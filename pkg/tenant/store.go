package tenant

import (
	"context"
	"time"
)

// Store provides read access to tenant configuration and the tenant-scoped
// collections the tools expose, plus the append-only sinks (bookings, call
// records) the session writes through.
type Store interface {
	GetTenant(ctx context.Context, tenantID string) (*Record, error)
	GetTenantByNumber(ctx context.Context, dialNumber string) (*Record, error)

	GetLatestBooking(ctx context.Context, tenantID, customerPhone string) (*Booking, error)
	GetBookingByID(ctx context.Context, tenantID, bookingID string) (*Booking, error)
	ListServices(ctx context.Context, tenantID string) ([]Service, error)
	GetWorkingHours(ctx context.Context, tenantID string) (*WorkingHours, error)
	GetPolicies(ctx context.Context, tenantID, topic string) ([]Policy, error)
	GetFAQs(ctx context.Context, tenantID, topic string) ([]FAQ, error)

	CreateBooking(ctx context.Context, b *Booking) error
	CreateCallRecord(ctx context.Context, rec *CallRecord) error
	FinishCallRecord(ctx context.Context, callSID, outcome string, endedAt time.Time) error

	Close() error
}

// Record is a tenant row as stored; the resolver turns it into a Snapshot.
type Record struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Industry     string         `json:"industry"`
	Language     string         `json:"language"`
	Tone         string         `json:"tone"`
	DialNumber   string         `json:"dial_number"`
	GreetingText string         `json:"greeting_text"`
	GreetingURL  string         `json:"greeting_audio_url"`
	VoiceConfig  map[string]any `json:"voice_config"`
	PromptVars   map[string]any `json:"prompt_vars"`
	ToolConfig   map[string]any `json:"tool_config"`
	IsActive     bool           `json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type Booking struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	Status          string    `json:"status"`
	Service         string    `json:"service"`
	BookingDatetime string    `json:"booking_datetime"`
	DurationMinutes int       `json:"duration_minutes"`
	CustomerName    string    `json:"customer_name"`
	CustomerPhone   string    `json:"customer_phone"`
	Notes           string    `json:"notes"`
	CreatedAt       time.Time `json:"created_at"`
}

type Service struct {
	ID              string  `json:"id"`
	TenantID        string  `json:"tenant_id"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	DurationMinutes int     `json:"duration_minutes"`
	Price           float64 `json:"price"`
	IsActive        bool    `json:"is_active"`
}

// WorkingHours maps weekday name to an open/close range; a nil entry means
// closed that day.
type WorkingHours struct {
	TenantID string                  `json:"tenant_id"`
	Days     map[string]*DayHours    `json:"days"`
	Timezone string                  `json:"timezone"`
}

type DayHours struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

type Policy struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

type FAQ struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Topic     string    `json:"topic"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CallRecord is the append-only call log row.
type CallRecord struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	CallSID     string     `json:"call_sid"`
	CallerPhone string     `json:"caller_phone"`
	Intent      string     `json:"intent"`
	Outcome     string     `json:"outcome"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}
