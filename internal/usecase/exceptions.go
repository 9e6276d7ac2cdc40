// Package usecase contains the application services orchestrating ingestion,
// exception lifecycle, analysis, resolution and dead-letter replay.
package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/octup/sentinel/internal/adapter/ai"
	"github.com/octup/sentinel/internal/config"
	"github.com/octup/sentinel/internal/domain"
	"github.com/octup/sentinel/internal/observability"
)

const (
	maxOpsNoteLen    = 2000
	maxClientNoteLen = 1000
)

// ExceptionService owns the exception lifecycle: creation, AI-assisted
// classification, operator status transitions and listings.
type ExceptionService struct {
	Exceptions domain.ExceptionRepository
	AI         domain.AIClient
	Policy     domain.PolicyStore
	Cfg        config.Config
}

// NewExceptionService constructs an ExceptionService with its dependencies.
func NewExceptionService(repo domain.ExceptionRepository, aic domain.AIClient, policy domain.PolicyStore, cfg config.Config) *ExceptionService {
	return &ExceptionService{Exceptions: repo, AI: aic, Policy: policy, Cfg: cfg}
}

// Open upserts an OPEN exception for (tenant, orderID, reasonCode). When one
// already exists only its context data is merged. Returns the stored row and
// whether it was newly created.
func (s *ExceptionService) Open(ctx domain.Context, tenant, orderID string, rc domain.ReasonCode, contextData map[string]any, correlationID string) (domain.Exception, bool, error) {
	if tenant == "" || orderID == "" {
		return domain.Exception{}, false, fmt.Errorf("op=exception.open: tenant and order required: %w", domain.ErrInvalidArgument)
	}
	if !domain.ValidReasonCode(rc) {
		rc = domain.ReasonOther
	}
	meta := s.Policy.ReasonMeta(rc)
	ex := domain.Exception{
		Tenant:                tenant,
		OrderID:               orderID,
		ReasonCode:            rc,
		Status:                domain.StatusOpen,
		Severity:              meta.DefaultSeverity,
		ContextData:           contextData,
		CorrelationID:         correlationID,
		MaxResolutionAttempts: s.Cfg.MaxResolutionAttempts,
	}
	stored, created, err := s.Exceptions.UpsertOpen(ctx, ex)
	if err != nil {
		return domain.Exception{}, false, err
	}
	if created {
		observability.ExceptionsCreatedTotal.WithLabelValues(tenant, string(rc)).Inc()
	}
	return stored, created, nil
}

// Classify applies the AI (or rule-based) classification to the exception and
// persists the result. Mode selection:
//
//	full     — AI required, errors surface to the caller
//	fallback — AI bypassed, rule templates only
//	smart    — AI first, rule templates below the confidence floor or on error
func (s *ExceptionService) Classify(ctx domain.Context, tenant, id string) (domain.Exception, error) {
	ex, err := s.Exceptions.Get(ctx, tenant, id)
	if err != nil {
		return domain.Exception{}, err
	}

	var cls domain.Classification
	switch s.Cfg.AIMode {
	case config.AIModeFallback:
		cls = ai.FallbackClassification(ex.ReasonCode)
	case config.AIModeFull:
		// AI is a hard dependency here: failures surface, low confidence is
		// stored as-is rather than silently swapped for rules.
		cls, err = s.AI.ClassifyException(ctx, ex)
		if err != nil {
			return domain.Exception{}, fmt.Errorf("op=exception.classify: %w", err)
		}
	default: // smart
		cls, err = s.AI.ClassifyException(ctx, ex)
		if err != nil || cls.Confidence < s.Cfg.AIMinConfidence {
			if err != nil {
				slog.Info("classification fell back to rules",
					slog.String("tenant", tenant),
					slog.String("exception_id", id),
					slog.Any("error", err))
			}
			cls = ai.FallbackClassification(ex.ReasonCode)
		}
	}

	if cls.FallbackUsed {
		ex.AILabel = cls.Label
		ex.AIConfidence = nil
	} else {
		ex.AILabel = cls.Label
		conf := cls.Confidence
		ex.AIConfidence = &conf
	}
	ex.OpsNote = truncate(cls.OpsNote, maxOpsNoteLen)
	ex.ClientNote = truncate(cls.ClientNote, maxClientNoteLen)
	ex.UpdatedAt = time.Now().UTC()

	if err := s.Exceptions.Update(ctx, ex); err != nil {
		return domain.Exception{}, err
	}
	return ex, nil
}

// StatusUpdate is the operator-facing mutation applied through UpdateStatus.
type StatusUpdate struct {
	Status                domain.ExceptionStatus
	Severity              domain.Severity
	OpsNote               string
	ClientNote            string
	ResetResolutionBudget bool
}

// UpdateStatus applies an operator transition. Moves outside the lifecycle
// graph are rejected with ErrConflict.
func (s *ExceptionService) UpdateStatus(ctx domain.Context, tenant, id string, upd StatusUpdate) (domain.Exception, error) {
	ex, err := s.Exceptions.Get(ctx, tenant, id)
	if err != nil {
		return domain.Exception{}, err
	}

	now := time.Now().UTC()
	if upd.Status != "" && upd.Status != ex.Status {
		if !domain.CanTransition(ex.Status, upd.Status) {
			return domain.Exception{}, fmt.Errorf("op=exception.update: transition %s->%s: %w",
				ex.Status, upd.Status, domain.ErrConflict)
		}
		switch upd.Status {
		case domain.StatusResolved, domain.StatusClosed:
			ex.ResolvedAt = &now
		case domain.StatusOpen:
			// Reopen clears the resolution stamp.
			ex.ResolvedAt = nil
		}
		ex.Status = upd.Status
	}
	if upd.Severity != "" {
		if !validSeverity(upd.Severity) {
			return domain.Exception{}, fmt.Errorf("op=exception.update: severity %q: %w", upd.Severity, domain.ErrInvalidArgument)
		}
		ex.Severity = upd.Severity
	}
	if upd.OpsNote != "" {
		ex.OpsNote = truncate(upd.OpsNote, maxOpsNoteLen)
	}
	if upd.ClientNote != "" {
		ex.ClientNote = truncate(upd.ClientNote, maxClientNoteLen)
	}
	if upd.ResetResolutionBudget {
		ex.ResolutionAttempts = 0
		ex.ResolutionBlocked = false
		ex.ResolutionBlockReason = ""
	}
	ex.UpdatedAt = now

	if err := s.Exceptions.Update(ctx, ex); err != nil {
		return domain.Exception{}, err
	}
	return ex, nil
}

// FlagForReview appends a manual-review marker after the automated budget is
// exhausted; used by the follow-up review task.
func (s *ExceptionService) FlagForReview(ctx domain.Context, tenant, id string) error {
	ex, err := s.Exceptions.Get(ctx, tenant, id)
	if err != nil {
		return err
	}
	note := "Manual review required: automated resolution budget exhausted."
	if ex.OpsNote != "" {
		note = ex.OpsNote + "\n" + note
	}
	ex.OpsNote = truncate(note, maxOpsNoteLen)
	ex.UpdatedAt = time.Now().UTC()
	return s.Exceptions.Update(ctx, ex)
}

// Get returns one exception; cross-tenant ids surface as ErrNotFound.
func (s *ExceptionService) Get(ctx domain.Context, tenant, id string) (domain.Exception, error) {
	return s.Exceptions.Get(ctx, tenant, id)
}

// List returns a filtered page plus the unpaged total.
func (s *ExceptionService) List(ctx domain.Context, tenant string, f domain.ExceptionFilter) ([]domain.Exception, int, error) {
	if f.Status != "" && !validStatus(f.Status) {
		return nil, 0, fmt.Errorf("op=exception.list: status %q: %w", f.Status, domain.ErrInvalidArgument)
	}
	if f.ReasonCode != "" && !domain.ValidReasonCode(f.ReasonCode) {
		return nil, 0, fmt.Errorf("op=exception.list: reason_code %q: %w", f.ReasonCode, domain.ErrInvalidArgument)
	}
	return s.Exceptions.List(ctx, tenant, f)
}

// Stats returns the aggregate summary for dashboards.
func (s *ExceptionService) Stats(ctx domain.Context, tenant string) (domain.ExceptionStats, error) {
	return s.Exceptions.Stats(ctx, tenant)
}

func validStatus(st domain.ExceptionStatus) bool {
	switch st {
	case domain.StatusOpen, domain.StatusAcknowledged, domain.StatusInProgress,
		domain.StatusResolved, domain.StatusClosed:
		return true
	}
	return false
}

func validSeverity(sv domain.Severity) bool {
	switch sv {
	case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
