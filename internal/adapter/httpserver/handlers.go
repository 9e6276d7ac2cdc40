package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/octup/sentinel/internal/config"
	"github.com/octup/sentinel/internal/domain"
	"github.com/octup/sentinel/internal/observability"
	"github.com/octup/sentinel/internal/resilience"
	"github.com/octup/sentinel/internal/usecase"
)

// AIAdmin is the slice of the AI adapter the admin endpoints need.
type AIAdmin interface {
	LintPolicy(ctx domain.Context, policyText, policyType string) (domain.LintReport, error)
	ClearCache() int
	ReloadPrompts()
	BudgetUsed() int64
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Ingest     *usecase.IngestService
	Exceptions *usecase.ExceptionService
	Resolution *usecase.ResolutionService
	Replay     *usecase.ReplayService
	AI         AIAdmin
	Policy     domain.PolicyStore
	Health     *resilience.HealthChecker
	Breakers   *resilience.Registry
}

// NewServer constructs a Server with all handlers wired.
func NewServer(cfg config.Config, ingest *usecase.IngestService, exceptions *usecase.ExceptionService,
	resolution *usecase.ResolutionService, replay *usecase.ReplayService, aiAdmin AIAdmin,
	policy domain.PolicyStore, health *resilience.HealthChecker, breakers *resilience.Registry) *Server {
	return &Server{
		Cfg: cfg, Ingest: ingest, Exceptions: exceptions, Resolution: resolution,
		Replay: replay, AI: aiAdmin, Policy: policy, Health: health, Breakers: breakers,
	}
}

// ingestResponse is the wire shape for single-event ingestion.
type ingestResponse struct {
	OK               bool     `json:"ok"`
	Status           string   `json:"status"`
	EventID          string   `json:"event_id"`
	OrderID          string   `json:"order_id"`
	ProcessedAt      string   `json:"processed_at"`
	ExceptionCreated bool     `json:"exception_created"`
	ExceptionIDs     []string `json:"exception_ids,omitempty"`
	CorrelationID    string   `json:"correlation_id"`
}

// wireStatus maps pipeline outcomes onto the public status vocabulary.
func wireStatus(s string) string {
	if s == usecase.IngestAccepted {
		return "processed"
	}
	return s
}

// IngestEvent handles POST /ingest/{source}.
func (s *Server) IngestEvent(w http.ResponseWriter, r *http.Request) {
	source := domain.EventSource(chi.URLParam(r, "source"))
	tenant := observability.TenantFromContext(r.Context())

	var in usecase.EventInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body: %v", domain.ErrSchemaInvalid, err), nil)
		return
	}
	res, err := s.Ingest.IngestEvent(r.Context(), tenant, source, in)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{
		OK:               true,
		Status:           wireStatus(res.Status),
		EventID:          res.EventID,
		OrderID:          in.OrderID,
		ProcessedAt:      time.Now().UTC().Format(time.RFC3339Nano),
		ExceptionCreated: len(res.ExceptionIDs) > 0,
		ExceptionIDs:     res.ExceptionIDs,
		CorrelationID:    observability.CorrelationIDFromContext(r.Context()),
	})
}

type batchRequest struct {
	Events   []usecase.EventInput `json:"events"`
	BatchID  string               `json:"batch_id"`
	Priority string               `json:"priority"`
}

type batchResponse struct {
	ProcessedCount   int                       `json:"processed_count"`
	EventIDs         []string                  `json:"event_ids"`
	Status           string                    `json:"status"`
	Message          string                    `json:"message"`
	ProcessingTimeMS int64                     `json:"processing_time_ms"`
	Items            []usecase.BatchItemResult `json:"items"`
	CorrelationID    string                    `json:"correlation_id"`
}

// IngestBatch handles POST /ingest/v2/events/batch. The source defaults to
// the order platform unless items override it via a query parameter.
func (s *Server) IngestBatch(w http.ResponseWriter, r *http.Request) {
	tenant := observability.TenantFromContext(r.Context())
	source := domain.EventSource(r.URL.Query().Get("source"))
	if source == "" {
		source = domain.SourceShopify
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body: %v", domain.ErrSchemaInvalid, err), nil)
		return
	}
	start := time.Now()
	res, err := s.Ingest.IngestBatch(r.Context(), tenant, source, req.Events)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	status := "completed"
	if res.Rejected > 0 || res.Errors > 0 {
		status = "completed_with_errors"
	}
	eventIDs := make([]string, 0, res.Accepted)
	for _, item := range res.Items {
		if item.Status == usecase.IngestAccepted || item.Status == usecase.IngestAcceptedWithErrors {
			eventIDs = append(eventIDs, item.EventID)
		}
	}
	writeJSON(w, http.StatusOK, batchResponse{
		ProcessedCount:   res.Accepted,
		EventIDs:         eventIDs,
		Status:           status,
		Message:          fmt.Sprintf("%d accepted, %d duplicates, %d rejected, %d errors", res.Accepted, res.Duplicates, res.Rejected, res.Errors),
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		Items:            res.Items,
		CorrelationID:    observability.CorrelationIDFromContext(r.Context()),
	})
}

// exceptionDTO is the wire shape of an exception.
type exceptionDTO struct {
	ID                    string         `json:"id"`
	OrderID               string         `json:"order_id"`
	ReasonCode            string         `json:"reason_code"`
	Status                string         `json:"status"`
	Severity              string         `json:"severity"`
	AILabel               string         `json:"ai_label,omitempty"`
	AIConfidence          *float64       `json:"ai_confidence"`
	OpsNote               string         `json:"ops_note,omitempty"`
	ClientNote            string         `json:"client_note,omitempty"`
	ContextData           map[string]any `json:"context_data,omitempty"`
	ResolutionAttempts    int            `json:"resolution_attempts"`
	MaxResolutionAttempts int            `json:"max_resolution_attempts"`
	ResolutionBlocked     bool           `json:"resolution_blocked"`
	ResolutionBlockReason string         `json:"resolution_block_reason,omitempty"`
	CorrelationID         string         `json:"correlation_id,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	ResolvedAt            *time.Time     `json:"resolved_at,omitempty"`
}

func toExceptionDTO(ex domain.Exception) exceptionDTO {
	return exceptionDTO{
		ID:                    ex.ID,
		OrderID:               ex.OrderID,
		ReasonCode:            string(ex.ReasonCode),
		Status:                string(ex.Status),
		Severity:              string(ex.Severity),
		AILabel:               ex.AILabel,
		AIConfidence:          ex.AIConfidence,
		OpsNote:               ex.OpsNote,
		ClientNote:            ex.ClientNote,
		ContextData:           ex.ContextData,
		ResolutionAttempts:    ex.ResolutionAttempts,
		MaxResolutionAttempts: ex.MaxResolutionAttempts,
		ResolutionBlocked:     ex.ResolutionBlocked,
		ResolutionBlockReason: ex.ResolutionBlockReason,
		CorrelationID:         ex.CorrelationID,
		CreatedAt:             ex.CreatedAt,
		UpdatedAt:             ex.UpdatedAt,
		ResolvedAt:            ex.ResolvedAt,
	}
}

// ListExceptions handles GET /exceptions with filters and pagination.
func (s *Server) ListExceptions(w http.ResponseWriter, r *http.Request) {
	tenant := observability.TenantFromContext(r.Context())
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	f := domain.ExceptionFilter{
		Status:     domain.ExceptionStatus(q.Get("status")),
		ReasonCode: domain.ReasonCode(q.Get("reason_code")),
		Severity:   domain.Severity(q.Get("severity")),
		OrderID:    q.Get("order_id"),
		Page:       page,
		PageSize:   pageSize,
	}
	items, total, err := s.Exceptions.List(r.Context(), tenant, f)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	dtos := make([]exceptionDTO, 0, len(items))
	for _, ex := range items {
		dtos = append(dtos, toExceptionDTO(ex))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": dtos,
		"total": total,
		"page":  max(1, page),
	})
}

// GetException handles GET /exceptions/{id}. Another tenant's id is a plain
// 404 so existence never leaks across tenants.
func (s *Server) GetException(w http.ResponseWriter, r *http.Request) {
	tenant := observability.TenantFromContext(r.Context())
	ex, err := s.Exceptions.Get(r.Context(), tenant, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toExceptionDTO(ex))
}

type patchExceptionRequest struct {
	Status                string `json:"status"`
	Severity              string `json:"severity"`
	OpsNote               string `json:"ops_note"`
	ClientNote            string `json:"client_note"`
	ResetResolutionBudget bool   `json:"reset_resolution_budget"`
}

// PatchException handles PATCH /exceptions/{id}.
func (s *Server) PatchException(w http.ResponseWriter, r *http.Request) {
	tenant := observability.TenantFromContext(r.Context())
	var req patchExceptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidArgument, err), nil)
		return
	}
	ex, err := s.Exceptions.UpdateStatus(r.Context(), tenant, chi.URLParam(r, "id"), usecase.StatusUpdate{
		Status:                domain.ExceptionStatus(req.Status),
		Severity:              domain.Severity(req.Severity),
		OpsNote:               req.OpsNote,
		ClientNote:            req.ClientNote,
		ResetResolutionBudget: req.ResetResolutionBudget,
	})
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toExceptionDTO(ex))
}

// ExceptionStats handles GET /exceptions/stats/summary.
func (s *Server) ExceptionStats(w http.ResponseWriter, r *http.Request) {
	tenant := observability.TenantFromContext(r.Context())
	stats, err := s.Exceptions.Stats(r.Context(), tenant)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ResolveException handles POST /exceptions/{id}/resolve: one on-demand
// automated resolution attempt.
func (s *Server) ResolveException(w http.ResponseWriter, r *http.Request) {
	tenant := observability.TenantFromContext(r.Context())
	out, err := s.Resolution.Attempt(r.Context(), tenant, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attempted": out.Attempted,
		"succeeded": out.Succeeded,
		"blocked":   out.Blocked,
		"analysis":  out.Analysis,
		"exception": toExceptionDTO(out.Exception),
	})
}
