// Package sla implements breach detection over per-order event timelines.
//
// The engine is a pure function of its inputs: the same timeline, policy,
// clock and volume always yield the same breach list in the same order.
// Consumers upsert results on (tenant, order_id, reason_code).
package sla

import (
	"sort"
	"time"

	"github.com/octup/sentinel/internal/domain"
)

// Input bundles everything a single evaluation depends on.
type Input struct {
	// Events is the ordered timeline for one (tenant, order_id).
	Events []domain.OrderEvent
	Policy domain.SLAPolicy
	// Now anchors open-ended breach detection.
	Now time.Time
	// RecentOrderCount is the rolling hourly order count used by the
	// high-volume multiplier.
	RecentOrderCount int
}

// Evaluate returns zero or more breaches, sorted by the fixed reason-code
// priority table (SYSTEM_ERROR first, OTHER last).
func Evaluate(in Input) []domain.Breach {
	if len(in.Events) == 0 || len(in.Policy.Rules) == 0 {
		return nil
	}

	earliest := earliestByType(in.Events)
	breaches := make([]domain.Breach, 0, 2)

	for _, rule := range in.Policy.Rules {
		anchor, ok := earliest[rule.AnchorEvent]
		if !ok {
			continue
		}
		threshold := rule.ThresholdMinutes * multiplier(in.Policy, anchor, in.RecentOrderCount)

		if terminal, ok := earliest[rule.TerminalEvent]; ok {
			actual := terminal.Sub(anchor).Minutes()
			if actual > threshold {
				breaches = append(breaches, domain.Breach{
					ReasonCode:    rule.Reason,
					ActualMinutes: actual,
					SLAMinutes:    threshold,
					DelayMinutes:  actual - threshold,
					AnchorEvent:   rule.AnchorEvent,
					TerminalEvent: rule.TerminalEvent,
				})
			}
			continue
		}

		// Terminal event missing: open-ended breach once the threshold has
		// elapsed relative to now.
		actual := in.Now.Sub(anchor).Minutes()
		if actual > threshold {
			breaches = append(breaches, domain.Breach{
				ReasonCode:    rule.Reason,
				ActualMinutes: actual,
				SLAMinutes:    threshold,
				DelayMinutes:  actual - threshold,
				AnchorEvent:   rule.AnchorEvent,
				TerminalEvent: "",
			})
		}
	}

	sort.SliceStable(breaches, func(i, j int) bool {
		pi, pj := domain.BreachPriority(breaches[i].ReasonCode), domain.BreachPriority(breaches[j].ReasonCode)
		if pi != pj {
			return pi < pj
		}
		return breaches[i].ReasonCode < breaches[j].ReasonCode
	})
	return breaches
}

// earliestByType maps each event_type to its earliest occurred_at.
func earliestByType(events []domain.OrderEvent) map[string]time.Time {
	m := make(map[string]time.Time, len(events))
	for _, ev := range events {
		if cur, ok := m[ev.EventType]; !ok || ev.OccurredAt.Before(cur) {
			m[ev.EventType] = ev.OccurredAt
		}
	}
	return m
}

// multiplier widens thresholds by condition; conditions compose
// multiplicatively and default to 1.0.
func multiplier(p domain.SLAPolicy, anchor time.Time, recentOrders int) float64 {
	m := 1.0
	if isWeekend(anchor) && p.WeekendMultiplier > 0 {
		m *= p.WeekendMultiplier
	}
	if isHoliday(p, anchor) && p.HolidayMultiplier > 0 {
		m *= p.HolidayMultiplier
	}
	if p.HighVolumeThreshold > 0 && recentOrders > p.HighVolumeThreshold && p.HighVolumeMultiplier > 0 {
		m *= p.HighVolumeMultiplier
	}
	return m
}

func isWeekend(t time.Time) bool {
	wd := t.UTC().Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func isHoliday(p domain.SLAPolicy, t time.Time) bool {
	day := t.UTC().Format("2006-01-02")
	for _, h := range p.Holidays {
		if h == day {
			return true
		}
	}
	return false
}
