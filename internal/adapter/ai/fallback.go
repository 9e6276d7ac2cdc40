package ai

import "github.com/octup/sentinel/internal/domain"

// Rule-based fallbacks used whenever the model is bypassed or unavailable.
// Output is deterministic per reason code; ops notes carry the "[Rules]"
// prefix so operators can tell the two sources apart at a glance.

type fallbackNote struct {
	label      string
	opsNote    string
	clientNote string
}

var classificationTable = map[domain.ReasonCode]fallbackNote{
	domain.ReasonSystemError: {
		label:      "System error",
		opsNote:    "[Rules] Internal processing error detected; check service logs and retry the failed step.",
		clientNote: "We hit a temporary technical issue while processing your order. Our team is on it.",
	},
	domain.ReasonStockMismatch: {
		label:      "Stock mismatch",
		opsNote:    "[Rules] Warehouse stock does not match the reservation; reconcile inventory before releasing the order.",
		clientNote: "We are double-checking item availability for your order and will update you shortly.",
	},
	domain.ReasonAddressError: {
		label:      "Address error",
		opsNote:    "[Rules] Shipping address failed carrier checks; verify and correct the address with the customer.",
		clientNote: "We need to confirm your delivery address to make sure your order arrives safely.",
	},
	domain.ReasonAddressInvalid: {
		label:      "Invalid address",
		opsNote:    "[Rules] Address failed validation; run address validation and request a correction if it still fails.",
		clientNote: "The delivery address on your order could not be verified. Please review it.",
	},
	domain.ReasonCarrierIssue: {
		label:      "Carrier issue",
		opsNote:    "[Rules] Carrier has not progressed the shipment; query the carrier API and open a case if unresponsive.",
		clientNote: "Your shipment is taking longer than expected with the carrier. We are following up.",
	},
	domain.ReasonPackDelay: {
		label:      "Packing delay",
		opsNote:    "[Rules] Packing exceeded the SLA window; check station backlog and reprioritize the order.",
		clientNote: "Your order is taking a little longer to prepare than usual. Thanks for your patience.",
	},
	domain.ReasonPickDelay: {
		label:      "Picking delay",
		opsNote:    "[Rules] Picking exceeded the SLA window; check picker queue depth and reprioritize the order.",
		clientNote: "Your order is taking a little longer to prepare than usual. Thanks for your patience.",
	},
	domain.ReasonMissingScan: {
		label:      "Missing scan",
		opsNote:    "[Rules] No carrier pickup scan after label print; confirm physical handover and re-request a scan.",
		clientNote: "We are confirming your package's pickup with the carrier.",
	},
	domain.ReasonDeliveryDelay: {
		label:      "Delivery delay",
		opsNote:    "[Rules] Shipment exceeded the delivery SLA; check carrier tracking and notify the customer.",
		clientNote: "Your delivery is running behind schedule. We are monitoring it closely.",
	},
	domain.ReasonPaymentFailed: {
		label:      "Payment failed",
		opsNote:    "[Rules] Payment capture failed; review the gateway response before retrying the charge.",
		clientNote: "There was an issue processing the payment for your order. Please check your payment method.",
	},
	domain.ReasonInventoryShortage: {
		label:      "Inventory shortage",
		opsNote:    "[Rules] Insufficient stock to fulfill; check alternative locations or backorder.",
		clientNote: "An item in your order is temporarily out of stock. We are working on it.",
	},
	domain.ReasonDamagedPackage: {
		label:      "Damaged package",
		opsNote:    "[Rules] Package reported damaged; arrange inspection and a replacement shipment if confirmed.",
		clientNote: "Your package may have been damaged in transit. We are arranging a resolution.",
	},
	domain.ReasonCustomerUnavailable: {
		label:      "Customer unavailable",
		opsNote:    "[Rules] Delivery attempts failed with no recipient; schedule a redelivery with the customer.",
		clientNote: "The carrier could not reach you for delivery. Please pick a new delivery window.",
	},
	domain.ReasonOther: {
		label:      "Unclassified exception",
		opsNote:    "[Rules] No matching rule for this reason code; triage manually.",
		clientNote: "We noticed an issue with your order and are looking into it.",
	},
}

// FallbackClassification returns the deterministic template for the reason
// code. Confidence is zero and FallbackUsed set; callers leave the stored
// ai_confidence null.
func FallbackClassification(rc domain.ReasonCode) domain.Classification {
	n, ok := classificationTable[rc]
	if !ok {
		n = classificationTable[domain.ReasonOther]
	}
	return domain.Classification{
		Label:        n.label,
		OpsNote:      n.opsNote,
		ClientNote:   n.clientNote,
		FallbackUsed: true,
	}
}

var resolutionActionTable = map[domain.ReasonCode][]domain.AutomatedAction{
	domain.ReasonAddressInvalid:    {domain.ActionAddressValidation},
	domain.ReasonAddressError:      {domain.ActionAddressValidation},
	domain.ReasonPaymentFailed:     {domain.ActionPaymentRetry},
	domain.ReasonInventoryShortage: {domain.ActionInventoryReallocation},
	domain.ReasonStockMismatch:     {domain.ActionInventoryReallocation},
	domain.ReasonSystemError:       {domain.ActionSystemRecovery},
	domain.ReasonCarrierIssue:      {domain.ActionCarrierAPIUpdate},
	domain.ReasonMissingScan:       {domain.ActionCarrierAPIUpdate},
}

// FallbackResolution consults the reason-code→actions table. Confidence is a
// flat 0.6 and the result is flagged fallback_used; reason codes with no entry
// come back not auto-resolvable.
func FallbackResolution(rc domain.ReasonCode) domain.ResolutionAnalysis {
	actions, ok := resolutionActionTable[rc]
	if !ok {
		return domain.ResolutionAnalysis{
			CanAutoResolve:     false,
			Confidence:         0.6,
			ResolutionStrategy: "manual_review",
			Reasoning:          "No deterministic action mapped for this reason code.",
			FallbackUsed:       true,
		}
	}
	return domain.ResolutionAnalysis{
		CanAutoResolve:     true,
		Confidence:         0.6,
		AutomatedActions:   actions,
		SuccessProbability: 0.6,
		ResolutionStrategy: "rule_table",
		Reasoning:          "Deterministic action table matched the reason code.",
		FallbackUsed:       true,
	}
}
