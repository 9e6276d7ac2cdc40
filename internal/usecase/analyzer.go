package usecase

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/octup/sentinel/internal/config"
	"github.com/octup/sentinel/internal/domain"
)

// AnalysisMethodRules marks reports produced by the deterministic inspector.
const AnalysisMethodRules = "rule_based_fallback"

// OrderAnalyzer inspects raw order payloads for problems: AI first, a
// deterministic rule set when the AI is unavailable or unsure.
type OrderAnalyzer struct {
	AI  domain.AIClient
	Cfg config.Config
}

// NewOrderAnalyzer constructs an OrderAnalyzer.
func NewOrderAnalyzer(aic domain.AIClient, cfg config.Config) *OrderAnalyzer {
	return &OrderAnalyzer{AI: aic, Cfg: cfg}
}

// Analyze returns a problem report for the raw payload. The payload is passed
// to the AI unenriched; the rule path never consults the AI output.
func (a *OrderAnalyzer) Analyze(ctx domain.Context, rawOrder map[string]any) domain.ProblemReport {
	if a.Cfg.AIMode != config.AIModeFallback {
		report, err := a.AI.AnalyzeOrderProblems(ctx, rawOrder)
		if err == nil && report.Confidence >= a.Cfg.AnalyzerMinConfidence {
			return report
		}
		if err != nil {
			slog.Info("order analysis fell back to rules", slog.Any("error", err))
		}
	}
	return a.ruleBased(rawOrder)
}

// ruleBased checks fulfillment status, payment status, address validity,
// inventory sufficiency, package condition and delivery-attempt count.
func (a *OrderAnalyzer) ruleBased(rawOrder map[string]any) domain.ProblemReport {
	var problems []domain.Problem
	var recs []string

	if st := lowerString(rawOrder, "fulfillment_status"); st == "error" || st == "failed" || st == "stuck" {
		problems = append(problems, domain.Problem{
			Type:     domain.ReasonSystemError,
			Field:    "fulfillment_status",
			Reason:   fmt.Sprintf("fulfillment status is %q", st),
			Severity: domain.SeverityCritical,
		})
		recs = append(recs, "Inspect fulfillment pipeline logs for this order.")
	}

	switch lowerString(rawOrder, "financial_status") {
	case "failed", "voided", "declined":
		problems = append(problems, domain.Problem{
			Type:     domain.ReasonPaymentFailed,
			Field:    "financial_status",
			Reason:   "payment was not captured",
			Severity: domain.SeverityHigh,
		})
		recs = append(recs, "Retry payment capture or contact the customer.")
	}

	if addr, ok := rawOrder["shipping_address"].(map[string]any); ok {
		if missingAddressFields(addr) {
			problems = append(problems, domain.Problem{
				Type:     domain.ReasonAddressInvalid,
				Field:    "shipping_address",
				Reason:   "required address fields are missing or empty",
				Severity: domain.SeverityHigh,
			})
			recs = append(recs, "Run address validation and request a correction.")
		}
	}

	for _, item := range anySlice(rawOrder["line_items"]) {
		li, ok := item.(map[string]any)
		if !ok {
			continue
		}
		qty := asInt(li["quantity"])
		avail, hasAvail := li["available_quantity"]
		if hasAvail && qty > asInt(avail) {
			problems = append(problems, domain.Problem{
				Type:     domain.ReasonInventoryShortage,
				Field:    "line_items",
				Reason:   fmt.Sprintf("ordered %d, only %d available", qty, asInt(avail)),
				Severity: domain.SeverityHigh,
			})
			recs = append(recs, "Reallocate inventory or backorder the line item.")
			break
		}
	}

	if cond := lowerString(rawOrder, "package_condition"); cond == "damaged" || cond == "crushed" || cond == "wet" {
		problems = append(problems, domain.Problem{
			Type:     domain.ReasonDamagedPackage,
			Field:    "package_condition",
			Reason:   fmt.Sprintf("package reported %q", cond),
			Severity: domain.SeverityMedium,
		})
		recs = append(recs, "Arrange inspection and a replacement shipment.")
	}

	if attempts := asInt(rawOrder["delivery_attempts"]); attempts >= 3 {
		problems = append(problems, domain.Problem{
			Type:     domain.ReasonCustomerUnavailable,
			Field:    "delivery_attempts",
			Reason:   fmt.Sprintf("%d failed delivery attempts", attempts),
			Severity: domain.SeverityLow,
		})
		recs = append(recs, "Schedule a redelivery window with the customer.")
	}

	return domain.ProblemReport{
		HasProblems:     len(problems) > 0,
		Confidence:      1.0,
		Problems:        problems,
		Reasoning:       "Deterministic checks over fulfillment, payment, address, inventory, package condition and delivery attempts.",
		Recommendations: recs,
		AnalysisMethod:  AnalysisMethodRules,
	}
}

func missingAddressFields(addr map[string]any) bool {
	for _, f := range []string{"address1", "city", "country"} {
		s, _ := addr[f].(string)
		if strings.TrimSpace(s) == "" {
			return true
		}
	}
	return false
}

func lowerString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.ToLower(strings.TrimSpace(s))
}

func anySlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	}
	return 0
}
