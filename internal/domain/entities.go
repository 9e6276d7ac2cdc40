package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrDuplicate       = errors.New("duplicate")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrCircuitOpen     = errors.New("circuit open")
	ErrUpstreamTimeout = errors.New("upstream timeout")
	ErrSchemaInvalid   = errors.New("schema invalid")
	ErrInternal        = errors.New("internal error")
)

// EventSource enumerates upstream systems that emit order events.
type EventSource string

const (
	SourceShopify EventSource = "shopify"
	SourceWMS     EventSource = "wms"
	SourceCarrier EventSource = "carrier"
)

// ValidSource reports whether s is one of the known event sources.
func ValidSource(s EventSource) bool {
	switch s {
	case SourceShopify, SourceWMS, SourceCarrier:
		return true
	}
	return false
}

// Tenant is the isolation unit. Every other entity carries its ID and every
// query filters on it.
type Tenant struct {
	ID          string
	DisplayName string
	SLA         SLAPolicy
	Billing     BillingConfig
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BillingConfig holds tenant billing rates; arithmetic on these is out of the
// core's scope but the policy store serves them to collaborators.
type BillingConfig struct {
	Currency       string  `yaml:"currency" json:"currency"`
	PerOrderCents  int64   `yaml:"per_order_cents" json:"per_order_cents"`
	PerBreachCents int64   `yaml:"per_breach_cents" json:"per_breach_cents"`
	DiscountRate   float64 `yaml:"discount_rate" json:"discount_rate"`
}

// OrderEvent is an immutable, append-only record of something that happened to
// an order. Invariant: (Tenant, Source, EventID) is unique; duplicates are
// silently dropped at ingestion.
type OrderEvent struct {
	ID            string
	Tenant        string
	Source        EventSource
	EventType     string
	EventID       string
	OrderID       string
	OccurredAt    time.Time
	Payload       map[string]any
	CorrelationID string
	CreatedAt     time.Time
}

// ExceptionStatus lifecycle states; transitions follow a fixed DAG enforced by
// CanTransition.
type ExceptionStatus string

const (
	StatusOpen         ExceptionStatus = "OPEN"
	StatusAcknowledged ExceptionStatus = "ACKNOWLEDGED"
	StatusInProgress   ExceptionStatus = "IN_PROGRESS"
	StatusResolved     ExceptionStatus = "RESOLVED"
	StatusClosed       ExceptionStatus = "CLOSED"
)

// Severity of an exception.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// CanTransition reports whether moving from from to to is an allowed lifecycle
// transition. Unlisted pairs are rejected.
func CanTransition(from, to ExceptionStatus) bool {
	switch from {
	case StatusOpen:
		return to == StatusAcknowledged || to == StatusInProgress || to == StatusClosed
	case StatusAcknowledged:
		return to == StatusInProgress || to == StatusClosed
	case StatusInProgress:
		return to == StatusResolved || to == StatusClosed
	case StatusResolved:
		return to == StatusClosed || to == StatusOpen // operator reopen
	case StatusClosed:
		return to == StatusResolved // operator reopen of a closed record
	}
	return false
}

// IsTerminalStatus reports whether a status carries resolved_at.
func IsTerminalStatus(s ExceptionStatus) bool {
	return s == StatusResolved || s == StatusClosed
}

// BlockReasonMaxAttempts is set verbatim when the attempt budget is exhausted.
const BlockReasonMaxAttempts = "Maximum resolution attempts reached"

// Exception is a persistent record of a detected problem on an order.
type Exception struct {
	ID                    string
	Tenant                string
	OrderID               string
	ReasonCode            ReasonCode
	Status                ExceptionStatus
	Severity              Severity
	AILabel               string
	AIConfidence          *float64
	OpsNote               string
	ClientNote            string
	ContextData           map[string]any
	CorrelationID         string
	ResolutionAttempts    int
	MaxResolutionAttempts int
	LastResolutionAt      *time.Time
	ResolutionBlocked     bool
	ResolutionBlockReason string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	ResolvedAt            *time.Time
}

// IsEligibleForResolution reports whether another automated attempt may run.
func (e Exception) IsEligibleForResolution() bool {
	if e.Status != StatusOpen && e.Status != StatusInProgress {
		return false
	}
	if e.ResolutionBlocked {
		return false
	}
	return e.ResolutionAttempts < e.MaxResolutionAttempts
}

// DLQStatus of a dead-letter item.
type DLQStatus string

const (
	DLQPending   DLQStatus = "PENDING"
	DLQProcessed DLQStatus = "PROCESSED"
	DLQFailed    DLQStatus = "FAILED"
)

// DLQItem is a failed work item awaiting replay. Payload is the verbatim
// original input so the replay path re-enters the pipeline unchanged.
type DLQItem struct {
	ID              string
	Tenant          string
	Payload         []byte
	ErrorClass      string
	ErrorMessage    string
	StackTrace      string
	Attempts        int
	MaxAttempts     int
	NextRetryAt     time.Time
	Status          DLQStatus
	CorrelationID   string
	SourceOperation string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DLQ source-operation tags; the replay worker dispatches on them.
const (
	OpIngestEvent   = "ingest_event"
	OpAIAnalysis    = "ai_analysis"
	OpSLAEvaluation = "sla_evaluation"
)

// NextRetryDelay returns the backoff before the given attempt number:
// min(5 * 2^attempts, 60) minutes.
func NextRetryDelay(attempts int) time.Duration {
	m := 5 * (1 << attempts)
	if m > 60 {
		m = 60
	}
	return time.Duration(m) * time.Minute
}

// Breach describes one SLA violation detected on an order timeline.
// TerminalEvent is empty for open-ended breaches (terminal event not yet seen).
type Breach struct {
	ReasonCode    ReasonCode
	ActualMinutes float64
	SLAMinutes    float64
	DelayMinutes  float64
	AnchorEvent   string
	TerminalEvent string
}

// SLARule binds a reason code to an anchor/terminal event pair and a threshold.
type SLARule struct {
	Reason           ReasonCode `yaml:"reason" json:"reason"`
	AnchorEvent      string     `yaml:"anchor_event" json:"anchor_event"`
	TerminalEvent    string     `yaml:"terminal_event" json:"terminal_event"`
	ThresholdMinutes float64    `yaml:"threshold_minutes" json:"threshold_minutes"`
}

// SLAPolicy is the tenant SLA configuration evaluated by the SLA engine.
type SLAPolicy struct {
	Rules                []SLARule `yaml:"rules" json:"rules"`
	WeekendMultiplier    float64   `yaml:"weekend_multiplier" json:"weekend_multiplier"`
	HolidayMultiplier    float64   `yaml:"holiday_multiplier" json:"holiday_multiplier"`
	HighVolumeMultiplier float64   `yaml:"high_volume_multiplier" json:"high_volume_multiplier"`
	HighVolumeThreshold  int       `yaml:"high_volume_threshold" json:"high_volume_threshold"`
	Holidays             []string  `yaml:"holidays" json:"holidays"` // YYYY-MM-DD
}

// Context is an alias so the domain stays decoupled from adapters; usecases
// and adapters pass context.Context through.
type Context = context.Context
