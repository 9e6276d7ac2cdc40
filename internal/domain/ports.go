package domain

import "time"

// Repositories (ports)

// EventRepository owns OrderEvent persistence. Insert reports ErrDuplicate on
// a (tenant, source, event_id) unique-index violation.
type EventRepository interface {
	Insert(ctx Context, ev OrderEvent) (string, error)
	// InsertBatch bulk-inserts with ignore-on-conflict semantics and returns
	// the IDs of rows actually written.
	InsertBatch(ctx Context, evs []OrderEvent) ([]string, error)
	// ListByOrder returns the ordered timeline for (tenant, orderID).
	ListByOrder(ctx Context, tenant, orderID string) ([]OrderEvent, error)
	// CountRecent returns the number of events for the tenant in the trailing window.
	CountRecent(ctx Context, tenant string, window time.Duration) (int, error)
}

// ExceptionFilter narrows exception listings; zero values mean "any".
type ExceptionFilter struct {
	Status     ExceptionStatus
	ReasonCode ReasonCode
	Severity   Severity
	OrderID    string
	Page       int
	PageSize   int
}

// ExceptionStats is the aggregate summary served to dashboards.
type ExceptionStats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	BySeverity map[string]int `json:"by_severity"`
	ByReason   map[string]int `json:"by_reason"`
}

// ExceptionRepository holds mutable Exception records. UpsertOpen enforces
// at most one OPEN exception per (tenant, order_id, reason_code).
type ExceptionRepository interface {
	UpsertOpen(ctx Context, ex Exception) (Exception, bool, error)
	Get(ctx Context, tenant, id string) (Exception, error)
	List(ctx Context, tenant string, f ExceptionFilter) ([]Exception, int, error)
	Update(ctx Context, ex Exception) error
	Stats(ctx Context, tenant string) (ExceptionStats, error)
}

// DLQStats summarizes dead-letter state for operators.
type DLQStats struct {
	Pending         int        `json:"pending"`
	Processed       int        `json:"processed"`
	Failed          int        `json:"failed"`
	OldestPendingAt *time.Time `json:"oldest_pending_at,omitempty"`
}

// DLQRepository stores failed work items and their retry bookkeeping.
type DLQRepository interface {
	Enqueue(ctx Context, item DLQItem) (string, error)
	// FetchDue returns up to limit PENDING items with next_retry_at <= now,
	// optionally filtered by tenant (empty = all tenants).
	FetchDue(ctx Context, tenant string, limit int) ([]DLQItem, error)
	MarkProcessed(ctx Context, id string) error
	// MarkFailedAttempt advances the retry bookkeeping; terminal FAILED when
	// attempts reaches max_attempts.
	MarkFailedAttempt(ctx Context, id string, errMsg string) error
	Stats(ctx Context, tenant string) (DLQStats, error)
	// Cleanup hard-deletes PROCESSED/FAILED rows older than the cutoff.
	Cleanup(ctx Context, olderThan time.Duration) (int64, error)
}

// TenantRepository serves tenant records and their policies.
type TenantRepository interface {
	Get(ctx Context, id string) (Tenant, error)
}

// PolicyStore is the cached read-through view over tenant SLA/billing policy
// and the reason-code catalog.
type PolicyStore interface {
	SLAPolicy(ctx Context, tenant string) (SLAPolicy, error)
	Billing(ctx Context, tenant string) (BillingConfig, error)
	ReasonMeta(rc ReasonCode) ReasonMeta
	Invalidate(tenant string)
}

// IdempotencyStore records processed (tenant, source, event_id) triples and
// short-lived exclusive locks on in-flight processing.
type IdempotencyStore interface {
	// AcquireLock returns false if another worker holds the in-flight lock.
	AcquireLock(ctx Context, tenant string, source EventSource, eventID string) (bool, error)
	ReleaseLock(ctx Context, tenant string, source EventSource, eventID string) error
	IsProcessed(ctx Context, tenant string, source EventSource, eventID string) (bool, error)
	MarkProcessed(ctx Context, tenant string, source EventSource, eventID string) error
}

// AI operation results. All confidences are in [0,1].

// Classification is the AI label applied to an exception.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	OpsNote    string  `json:"ops_note"`
	ClientNote string  `json:"client_note"`
	// FallbackUsed marks rule-based output (confidence below threshold or AI down).
	FallbackUsed bool `json:"fallback_used"`
}

// Problem is one issue the analyzer found in a raw order payload.
type Problem struct {
	Type     ReasonCode `json:"type"`
	Field    string     `json:"field"`
	Reason   string     `json:"reason"`
	Severity Severity   `json:"severity"`
}

// ProblemReport is the order analyzer output.
type ProblemReport struct {
	HasProblems     bool      `json:"has_problems"`
	Confidence      float64   `json:"confidence"`
	Problems        []Problem `json:"problems"`
	Reasoning       string    `json:"reasoning"`
	Recommendations []string  `json:"recommendations"`
	AnalysisMethod  string    `json:"analysis_method"`
}

// AutomatedAction is one of the closed set of resolution actions.
type AutomatedAction string

const (
	ActionAddressValidation     AutomatedAction = "ADDRESS_VALIDATION"
	ActionPaymentRetry          AutomatedAction = "PAYMENT_RETRY"
	ActionInventoryReallocation AutomatedAction = "INVENTORY_REALLOCATION"
	ActionSystemRecovery        AutomatedAction = "SYSTEM_RECOVERY"
	ActionCarrierAPIUpdate      AutomatedAction = "CARRIER_API_UPDATE"
)

// ResolutionAnalysis is the AI verdict on whether an exception can be
// resolved without a human.
type ResolutionAnalysis struct {
	CanAutoResolve     bool              `json:"can_auto_resolve"`
	Confidence         float64           `json:"confidence"`
	AutomatedActions   []AutomatedAction `json:"automated_actions"`
	SuccessProbability float64           `json:"success_probability"`
	ResolutionStrategy string            `json:"resolution_strategy"`
	Reasoning          string            `json:"reasoning"`
	FallbackUsed       bool              `json:"fallback_used"`
}

// LintFinding is one issue found while linting operator policy text.
type LintFinding struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Line     int    `json:"line"`
}

// LintReport is the policy lint output.
type LintReport struct {
	OK       bool          `json:"ok"`
	Findings []LintFinding `json:"findings"`
	Summary  string        `json:"summary"`
}

// AIClient is the narrow interface to the external LLM. Implementations are
// bounded, retried, circuit-broken, and redact PII before any request.
type AIClient interface {
	ClassifyException(ctx Context, ex Exception) (Classification, error)
	AnalyzeOrderProblems(ctx Context, rawOrder map[string]any) (ProblemReport, error)
	AnalyzeAutomatedResolution(ctx Context, rawOrder map[string]any, rc ReasonCode) (ResolutionAnalysis, error)
	LintPolicy(ctx Context, policyText, policyType string) (LintReport, error)
}

// ActionExecutor performs one automated action against an external system and
// reports boolean success.
type ActionExecutor interface {
	Execute(ctx Context, action AutomatedAction, ex Exception) (bool, error)
}

// FollowUpKind distinguishes post-ingest work items.
type FollowUpKind string

const (
	FollowUpClassify   FollowUpKind = "classify"
	FollowUpResolution FollowUpKind = "resolution"
	// FollowUpReview flags an exception for manual attention after the
	// automated resolution budget is exhausted.
	FollowUpReview FollowUpKind = "review"
)

// FollowUpTask is one unit of post-ingest asynchronous work.
type FollowUpTask struct {
	Kind          FollowUpKind
	Tenant        string
	ExceptionID   string
	OrderID       string
	CorrelationID string
}

// FollowUpQueue buffers post-ingest work. Enqueue is non-blocking: when the
// queue is full the task is dropped (events are never dropped) and the caller
// records a metric.
type FollowUpQueue interface {
	Enqueue(task FollowUpTask) bool
	Dequeue(ctx Context) (FollowUpTask, error)
	Len() int
}
