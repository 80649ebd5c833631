package schema

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrderStatusTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired}
	for _, status := range terminal {
		if !status.Terminal() {
			t.Errorf("expected %s to be terminal", status)
		}
	}
	open := []OrderStatus{OrderStatusNew, OrderStatusPartiallyFilled}
	for _, status := range open {
		if status.Terminal() {
			t.Errorf("did not expect %s to be terminal", status)
		}
	}
}

func TestOrderUpdateOpen(t *testing.T) {
	update := OrderUpdate{Status: OrderStatusPartiallyFilled}
	if !update.Open() {
		t.Error("partially filled orders are open")
	}
	update.Status = OrderStatusFilled
	if update.Open() {
		t.Error("filled orders are not open")
	}
}

func TestBalanceTotal(t *testing.T) {
	bal := Balance{
		Asset:  "USDT",
		Free:   decimal.RequireFromString("100.5"),
		Locked: decimal.RequireFromString("24.5"),
	}
	if !bal.Total().Equal(decimal.RequireFromString("125")) {
		t.Errorf("Total = %s, want 125", bal.Total())
	}
}
