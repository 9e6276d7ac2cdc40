package usecase

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/octup/sentinel/internal/adapter/ai"
	"github.com/octup/sentinel/internal/config"
	"github.com/octup/sentinel/internal/domain"
)

// BlockReasonLowConfidence is recorded when the resolution analysis falls
// below the low-confidence block threshold.
const BlockReasonLowConfidence = "Resolution confidence below block threshold"

// ResolutionOutcome reports what one Attempt call did.
type ResolutionOutcome struct {
	Attempted bool                      `json:"attempted"`
	Succeeded bool                      `json:"succeeded"`
	Blocked   bool                      `json:"blocked"`
	Analysis  domain.ResolutionAnalysis `json:"analysis"`
	Exception domain.Exception          `json:"exception"`
}

// ResolutionService decides whether an exception can be resolved without a
// human and drives the automated actions.
type ResolutionService struct {
	Exceptions domain.ExceptionRepository
	AI         domain.AIClient
	Executor   domain.ActionExecutor
	Queue      domain.FollowUpQueue
	Cfg        config.Config
}

// NewResolutionService constructs a ResolutionService.
func NewResolutionService(repo domain.ExceptionRepository, aic domain.AIClient, exec domain.ActionExecutor, q domain.FollowUpQueue, cfg config.Config) *ResolutionService {
	return &ResolutionService{Exceptions: repo, AI: aic, Executor: exec, Queue: q, Cfg: cfg}
}

// Attempt runs one automated-resolution cycle for the exception. Execution
// happens only when the analysis clears every gate and the exception is still
// eligible; otherwise the outcome explains why nothing ran.
func (s *ResolutionService) Attempt(ctx domain.Context, tenant, id string) (ResolutionOutcome, error) {
	ex, err := s.Exceptions.Get(ctx, tenant, id)
	if err != nil {
		return ResolutionOutcome{}, err
	}
	if !ex.IsEligibleForResolution() {
		return ResolutionOutcome{Exception: ex}, fmt.Errorf("op=resolution.attempt: exception not eligible: %w", domain.ErrConflict)
	}

	analysis := s.analyze(ctx, ex)
	out := ResolutionOutcome{Analysis: analysis, Exception: ex}

	now := time.Now().UTC()
	if analysis.Confidence < s.Cfg.ResolutionLowConfBlock {
		ex.ResolutionBlocked = true
		ex.ResolutionBlockReason = BlockReasonLowConfidence
		ex.UpdatedAt = now
		if err := s.Exceptions.Update(ctx, ex); err != nil {
			return out, err
		}
		out.Blocked = true
		out.Exception = ex
		return out, nil
	}

	if !analysis.CanAutoResolve ||
		analysis.Confidence < s.Cfg.ResolutionMinConfidence ||
		analysis.SuccessProbability < s.Cfg.ResolutionMinSuccessProb {
		return out, nil
	}

	// The attempt begins: burn one unit of budget up front.
	if ex.Status == domain.StatusOpen || ex.Status == domain.StatusAcknowledged {
		ex.Status = domain.StatusInProgress
	}
	ex.ResolutionAttempts++
	ex.LastResolutionAt = &now
	if ex.ResolutionAttempts >= ex.MaxResolutionAttempts {
		ex.ResolutionBlocked = true
		ex.ResolutionBlockReason = domain.BlockReasonMaxAttempts
	}
	ex.UpdatedAt = now
	if err := s.Exceptions.Update(ctx, ex); err != nil {
		return out, err
	}
	out.Attempted = true

	succeeded := 0
	for _, action := range analysis.AutomatedActions {
		ok, execErr := s.Executor.Execute(ctx, action, ex)
		if execErr != nil {
			slog.Warn("automated action failed",
				slog.String("tenant", tenant),
				slog.String("exception_id", id),
				slog.String("action", string(action)),
				slog.Any("error", execErr))
			continue
		}
		if ok {
			succeeded++
		}
	}

	if succeeded > 0 {
		ex.Status = domain.StatusResolved
		ex.ResolvedAt = &now
		ex.UpdatedAt = time.Now().UTC()
		if err := s.Exceptions.Update(ctx, ex); err != nil {
			return out, err
		}
		out.Succeeded = true
		out.Exception = ex
		return out, nil
	}

	// Total failure: status stays where it is; queue a review when the
	// budget is gone.
	if ex.ResolutionBlocked && s.Queue != nil {
		s.Queue.Enqueue(domain.FollowUpTask{
			Kind:          domain.FollowUpReview,
			Tenant:        tenant,
			ExceptionID:   id,
			OrderID:       ex.OrderID,
			CorrelationID: ex.CorrelationID,
		})
	}
	out.Exception = ex
	return out, nil
}

// analyze consults the AI; on failure or in fallback mode the deterministic
// action table answers instead.
func (s *ResolutionService) analyze(ctx domain.Context, ex domain.Exception) domain.ResolutionAnalysis {
	if s.Cfg.AIMode == config.AIModeFallback {
		return ai.FallbackResolution(ex.ReasonCode)
	}
	analysis, err := s.AI.AnalyzeAutomatedResolution(ctx, rawOrderData(ex), ex.ReasonCode)
	if err != nil {
		slog.Info("resolution analysis fell back to rules",
			slog.String("tenant", ex.Tenant),
			slog.String("exception_id", ex.ID),
			slog.Any("error", err))
		return ai.FallbackResolution(ex.ReasonCode)
	}
	return analysis
}

// rawOrderData extracts the unenriched order payload stored at creation. Only
// the raw payload crosses the AI boundary; computed fields and hint keys are
// stripped even when a producer smuggled them into the stored payload.
func rawOrderData(ex domain.Exception) map[string]any {
	raw, ok := ex.ContextData["raw_order"].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if computedKey(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func computedKey(k string) bool {
	switch k {
	case "can_auto_resolve", "fulfillment_delay_hours", "pre_calculated_flags":
		return true
	}
	return strings.HasPrefix(k, "hint_")
}
