package domain

// Per-source event type enumerations. Schema validation rejects anything
// outside these sets with ErrSchemaInvalid.

var shopifyEventTypes = map[string]struct{}{
	"order_paid":         {},
	"order_fulfilled":    {},
	"fulfillment_update": {},
	"order_cancelled":    {},
}

var wmsEventTypes = map[string]struct{}{
	"pick_started":       {},
	"pick_completed":     {},
	"pack_started":       {},
	"pack_completed":     {},
	"ship_label_printed": {},
	"label_created":      {},
	"manifested":         {},
	"exception_reported": {},
}

var carrierEventTypes = map[string]struct{}{
	"pickup_scheduled":    {},
	"picked_up":           {},
	"shipment_dispatched": {},
	"in_transit":          {},
	"out_for_delivery":    {},
	"delivered":           {},
	"delivery_failed":     {},
	"returned":            {},
}

// ValidEventType reports whether eventType belongs to the source's enumeration.
func ValidEventType(source EventSource, eventType string) bool {
	var set map[string]struct{}
	switch source {
	case SourceShopify:
		set = shopifyEventTypes
	case SourceWMS:
		set = wmsEventTypes
	case SourceCarrier:
		set = carrierEventTypes
	default:
		return false
	}
	_, ok := set[eventType]
	return ok
}
