package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octup/sentinel/internal/config"
	"github.com/octup/sentinel/internal/domain"
	"github.com/octup/sentinel/internal/usecase"
)

func reportTypes(r domain.ProblemReport) []domain.ReasonCode {
	out := make([]domain.ReasonCode, 0, len(r.Problems))
	for _, p := range r.Problems {
		out = append(out, p.Type)
	}
	return out
}

func TestAnalyzer_ConfidentAIReportAccepted(t *testing.T) {
	t.Parallel()
	aic := &fakeAIClient{analyzeFn: func(map[string]any) (domain.ProblemReport, error) {
		return domain.ProblemReport{HasProblems: true, Confidence: 0.9, AnalysisMethod: "ai",
			Problems: []domain.Problem{{Type: domain.ReasonPaymentFailed, Field: "financial_status"}}}, nil
	}}
	a := usecase.NewOrderAnalyzer(aic, testConfig())

	out := a.Analyze(context.Background(), map[string]any{"financial_status": "failed"})
	assert.Equal(t, "ai", out.AnalysisMethod)
	assert.Equal(t, []domain.ReasonCode{domain.ReasonPaymentFailed}, reportTypes(out))
}

func TestAnalyzer_UnsureAIFallsBackToRules(t *testing.T) {
	t.Parallel()
	aic := &fakeAIClient{analyzeFn: func(map[string]any) (domain.ProblemReport, error) {
		return domain.ProblemReport{HasProblems: false, Confidence: 0.4, AnalysisMethod: "ai"}, nil
	}}
	a := usecase.NewOrderAnalyzer(aic, testConfig())

	out := a.Analyze(context.Background(), map[string]any{"financial_status": "declined"})
	assert.Equal(t, usecase.AnalysisMethodRules, out.AnalysisMethod)
	assert.True(t, out.HasProblems, "the rule path sees the declined payment the unsure model missed")
}

func TestAnalyzer_AIErrorFallsBackToRules(t *testing.T) {
	t.Parallel()
	a := usecase.NewOrderAnalyzer(&fakeAIClient{}, testConfig())
	out := a.Analyze(context.Background(), map[string]any{"fulfillment_status": "stuck"})
	assert.Equal(t, usecase.AnalysisMethodRules, out.AnalysisMethod)
	assert.Equal(t, []domain.ReasonCode{domain.ReasonSystemError}, reportTypes(out))
}

func TestAnalyzer_FallbackModeSkipsAI(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.AIMode = config.AIModeFallback
	called := false
	aic := &fakeAIClient{analyzeFn: func(map[string]any) (domain.ProblemReport, error) {
		called = true
		return domain.ProblemReport{}, nil
	}}
	a := usecase.NewOrderAnalyzer(aic, cfg)

	_ = a.Analyze(context.Background(), map[string]any{"id": 1})
	assert.False(t, called)
}

func TestAnalyzer_RuleChecks(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.AIMode = config.AIModeFallback
	a := usecase.NewOrderAnalyzer(&fakeAIClient{}, cfg)
	ctx := context.Background()

	cases := []struct {
		name     string
		order    map[string]any
		want     domain.ReasonCode
		severity domain.Severity
	}{
		{
			name:     "fulfillment error",
			order:    map[string]any{"fulfillment_status": "ERROR"},
			want:     domain.ReasonSystemError,
			severity: domain.SeverityCritical,
		},
		{
			name:     "payment voided",
			order:    map[string]any{"financial_status": "voided"},
			want:     domain.ReasonPaymentFailed,
			severity: domain.SeverityHigh,
		},
		{
			name: "missing address fields",
			order: map[string]any{"shipping_address": map[string]any{
				"address1": "1 Main St", "city": " ", "country": "US",
			}},
			want:     domain.ReasonAddressInvalid,
			severity: domain.SeverityHigh,
		},
		{
			name: "inventory short",
			order: map[string]any{"line_items": []any{
				map[string]any{"quantity": float64(5), "available_quantity": float64(2)},
			}},
			want:     domain.ReasonInventoryShortage,
			severity: domain.SeverityHigh,
		},
		{
			name:     "damaged package",
			order:    map[string]any{"package_condition": "Damaged"},
			want:     domain.ReasonDamagedPackage,
			severity: domain.SeverityMedium,
		},
		{
			name:     "customer unavailable",
			order:    map[string]any{"delivery_attempts": float64(3)},
			want:     domain.ReasonCustomerUnavailable,
			severity: domain.SeverityLow,
		},
	}
	for _, tc := range cases {
		out := a.Analyze(ctx, tc.order)
		require.True(t, out.HasProblems, tc.name)
		require.Len(t, out.Problems, 1, tc.name)
		assert.Equal(t, tc.want, out.Problems[0].Type, tc.name)
		assert.Equal(t, tc.severity, out.Problems[0].Severity, tc.name)
		assert.NotEmpty(t, out.Recommendations, tc.name)
	}
}

func TestAnalyzer_RulesFindMultipleProblems(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.AIMode = config.AIModeFallback
	a := usecase.NewOrderAnalyzer(&fakeAIClient{}, cfg)

	out := a.Analyze(context.Background(), map[string]any{
		"fulfillment_status": "failed",
		"financial_status":   "declined",
		"delivery_attempts":  float64(4),
	})
	assert.ElementsMatch(t, []domain.ReasonCode{
		domain.ReasonSystemError, domain.ReasonPaymentFailed, domain.ReasonCustomerUnavailable,
	}, reportTypes(out))
	assert.InDelta(t, 1.0, out.Confidence, 1e-9, "deterministic checks report full confidence")
}

func TestAnalyzer_CleanOrderHasNoProblems(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.AIMode = config.AIModeFallback
	a := usecase.NewOrderAnalyzer(&fakeAIClient{}, cfg)

	out := a.Analyze(context.Background(), map[string]any{
		"fulfillment_status": "fulfilled",
		"financial_status":   "paid",
		"shipping_address":   map[string]any{"address1": "1 Main St", "city": "Springfield", "country": "US"},
		"line_items":         []any{map[string]any{"quantity": float64(1), "available_quantity": float64(10)}},
		"delivery_attempts":  float64(1),
	})
	assert.False(t, out.HasProblems)
	assert.Empty(t, out.Problems)
}

func TestAnalyzer_InventoryWithoutAvailabilityIgnored(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.AIMode = config.AIModeFallback
	a := usecase.NewOrderAnalyzer(&fakeAIClient{}, cfg)

	out := a.Analyze(context.Background(), map[string]any{
		"line_items": []any{map[string]any{"quantity": float64(100)}},
	})
	assert.False(t, out.HasProblems, "no availability data means no shortage claim")
}
