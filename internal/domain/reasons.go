package domain

// ReasonCode is the closed-set categorical cause of an exception.
type ReasonCode string

const (
	ReasonPickDelay           ReasonCode = "PICK_DELAY"
	ReasonPackDelay           ReasonCode = "PACK_DELAY"
	ReasonCarrierIssue        ReasonCode = "CARRIER_ISSUE"
	ReasonMissingScan         ReasonCode = "MISSING_SCAN"
	ReasonStockMismatch       ReasonCode = "STOCK_MISMATCH"
	ReasonAddressError        ReasonCode = "ADDRESS_ERROR"
	ReasonSystemError         ReasonCode = "SYSTEM_ERROR"
	ReasonDeliveryDelay       ReasonCode = "DELIVERY_DELAY"
	ReasonAddressInvalid      ReasonCode = "ADDRESS_INVALID"
	ReasonPaymentFailed       ReasonCode = "PAYMENT_FAILED"
	ReasonInventoryShortage   ReasonCode = "INVENTORY_SHORTAGE"
	ReasonDamagedPackage      ReasonCode = "DAMAGED_PACKAGE"
	ReasonCustomerUnavailable ReasonCode = "CUSTOMER_UNAVAILABLE"
	ReasonOther               ReasonCode = "OTHER"
)

// ReasonMeta carries the per-code defaults used across the pipeline.
type ReasonMeta struct {
	Code                 ReasonCode `yaml:"code"`
	DefaultSeverity      Severity   `yaml:"default_severity"`
	EscalationWindowMins int        `yaml:"escalation_window_mins"`
	ClientVisible        bool       `yaml:"client_visible"`
	ApprovalRequired     bool       `yaml:"approval_required"`
	AutoResolveEligible  bool       `yaml:"auto_resolve_eligible"`
}

// breachPriority orders SLA breach output; lower number wins. Codes absent
// from the table sort last, after OTHER.
var breachPriority = map[ReasonCode]int{
	ReasonSystemError:   1,
	ReasonStockMismatch: 2,
	ReasonAddressError:  3,
	ReasonCarrierIssue:  4,
	ReasonPackDelay:     5,
	ReasonPickDelay:     6,
	ReasonMissingScan:   7,
	ReasonOther:         8,
}

// BreachPriority returns the sort rank for a reason code.
func BreachPriority(rc ReasonCode) int {
	if p, ok := breachPriority[rc]; ok {
		return p
	}
	return 9
}

// ValidReasonCode reports whether rc belongs to the closed catalog.
func ValidReasonCode(rc ReasonCode) bool {
	switch rc {
	case ReasonPickDelay, ReasonPackDelay, ReasonCarrierIssue, ReasonMissingScan,
		ReasonStockMismatch, ReasonAddressError, ReasonSystemError, ReasonDeliveryDelay,
		ReasonAddressInvalid, ReasonPaymentFailed, ReasonInventoryShortage,
		ReasonDamagedPackage, ReasonCustomerUnavailable, ReasonOther:
		return true
	}
	return false
}
