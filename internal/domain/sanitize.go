package domain

import "strings"

// The broker's enums evolve without notice, so every string-to-enum mapping
// here is total: unrecognised input lands in a defined fallback branch
// instead of panicking or leaking raw strings into the ledger.

// ParseOrderStatus maps a broker-reported status string onto an OrderStatus.
// Unrecognised values map to OrderStatusUnknown; reconciliation treats that
// as "leave the local status alone".
func ParseOrderStatus(s string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending_new":
		return OrderStatusPendingNew
	case "new":
		return OrderStatusNew
	case "accepted", "accepted_for_bidding":
		return OrderStatusAccepted
	case "partially_filled":
		return OrderStatusPartiallyFilled
	case "filled":
		return OrderStatusFilled
	case "pending_cancel":
		return OrderStatusPendingCancel
	case "canceled", "cancelled":
		return OrderStatusCanceled
	case "expired":
		return OrderStatusExpired
	case "rejected":
		return OrderStatusRejected
	case "replaced":
		return OrderStatusReplaced
	case "done_for_day", "pending_replace", "held":
		// Still live at the broker; closest local equivalent.
		return OrderStatusAccepted
	default:
		return OrderStatusUnknown
	}
}

// ParseOrderType maps a broker-reported order type onto an OrderType. The
// fallback is limit: unlike the status mapping, order type is non-nullable
// on every row, so an unknown value must still land somewhere concrete.
func ParseOrderType(s string) OrderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "market":
		return OrderTypeMarket
	case "limit":
		return OrderTypeLimit
	case "stop":
		return OrderTypeStop
	case "stop_limit":
		return OrderTypeStopLimit
	case "bracket", "oco":
		return OrderTypeBracket
	default:
		return OrderTypeLimit
	}
}

// ParseSide maps a broker-reported side onto a Side, defaulting to sell so a
// mangled exit order can never silently grow a position.
func ParseSide(s string) Side {
	if strings.EqualFold(strings.TrimSpace(s), string(SideBuy)) {
		return SideBuy
	}
	return SideSell
}
