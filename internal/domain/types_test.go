package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestTerminalStatuses(t *testing.T) {
	terminal := []OrderStatus{
		OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired,
		OrderStatusRejected, OrderStatusReplaced, OrderStatusError,
	}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}

	open := []OrderStatus{
		OrderStatusPending, OrderStatusPendingNew, OrderStatusNew,
		OrderStatusAccepted, OrderStatusPartiallyFilled,
		OrderStatusPendingCancel, OrderStatusUnknown,
	}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestAcknowledged(t *testing.T) {
	if OrderStatusPending.Acknowledged() {
		t.Error("PENDING should not count as acknowledged")
	}
	if !OrderStatusPartiallyFilled.Acknowledged() {
		t.Error("PARTIALLY_FILLED should count as acknowledged")
	}
	if OrderStatusFilled.Acknowledged() {
		t.Error("FILLED is terminal, not acknowledged-live")
	}
}

func TestDependencySatisfiedBy(t *testing.T) {
	tests := []struct {
		name    string
		trigger OrderStatus
		parent  OrderStatus
		want    bool
	}{
		{"explicit trigger match", OrderStatusFilled, OrderStatusFilled, true},
		{"explicit trigger mismatch", OrderStatusFilled, OrderStatusCanceled, false},
		{"explicit trigger non-terminal parent", OrderStatusFilled, OrderStatusNew, false},
		{"canceled trigger", OrderStatusCanceled, OrderStatusCanceled, true},
		{"no trigger fires on any terminal", "", OrderStatusRejected, true},
		{"no trigger ignores live parent", "", OrderStatusAccepted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Order{DependsOnID: "parent", DependsOnState: tt.trigger}
			if got := o.DependencySatisfiedBy(tt.parent); got != tt.want {
				t.Errorf("DependencySatisfiedBy(%s) = %v, want %v", tt.parent, got, tt.want)
			}
		})
	}
}

func TestParseOrderStatus(t *testing.T) {
	tests := []struct {
		in   string
		want OrderStatus
	}{
		{"new", OrderStatusNew},
		{"NEW", OrderStatusNew},
		{" filled ", OrderStatusFilled},
		{"partially_filled", OrderStatusPartiallyFilled},
		{"canceled", OrderStatusCanceled},
		{"cancelled", OrderStatusCanceled},
		{"pending_cancel", OrderStatusPendingCancel},
		{"done_for_day", OrderStatusAccepted},
		{"held", OrderStatusAccepted},
		{"some_future_status", OrderStatusUnknown},
		{"", OrderStatusUnknown},
	}
	for _, tt := range tests {
		if got := ParseOrderStatus(tt.in); got != tt.want {
			t.Errorf("ParseOrderStatus(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseOrderTypeFallback(t *testing.T) {
	if got := ParseOrderType("trailing_stop"); got != OrderTypeLimit {
		t.Errorf("unknown type mapped to %s, want limit fallback", got)
	}
	if got := ParseOrderType("stop_limit"); got != OrderTypeStopLimit {
		t.Errorf("ParseOrderType(stop_limit) = %s", got)
	}
	if got := ParseOrderType("oco"); got != OrderTypeBracket {
		t.Errorf("ParseOrderType(oco) = %s, want bracket", got)
	}
}

func TestSideOpposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Error("Opposite() should swap buy and sell")
	}
}

func TestOrderZeroValue(t *testing.T) {
	o := Order{}
	if o.IsLeg() || o.HasDependency() {
		t.Error("zero-value Order should have no parent and no dependency")
	}
	if !o.Qty.Equal(decimal.Zero) || !o.FilledQty.Equal(decimal.Zero) {
		t.Error("zero-value Order quantities should be zero")
	}
}
