package calc

import (
	"testing"

	"github.com/shopspring/decimal"

	"scalp-trading-bot/internal/exchange"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestQuantityFromNotional(t *testing.T) {
	qty, err := QuantityFromNotional(d("1000"), d("100"), 8, d("0.001"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !qty.Equal(d("10")) {
		t.Errorf("expected qty 10, got %s", qty)
	}

	// Truncation to quantity precision, not rounding.
	qty, err = QuantityFromNotional(d("100"), d("3"), 4, d("0.001"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !qty.Equal(d("33.3333")) {
		t.Errorf("expected qty 33.3333, got %s", qty)
	}
}

func TestQuantityFromNotionalBelowMinimum(t *testing.T) {
	if _, err := QuantityFromNotional(d("1"), d("100000"), 5, d("0.001")); err == nil {
		t.Error("expected error for quantity below minimum order size")
	}
}

func TestQuantityFromNotionalInvalidPrice(t *testing.T) {
	if _, err := QuantityFromNotional(d("1000"), decimal.Zero, 8, d("0.001")); err == nil {
		t.Error("expected error for zero entry price")
	}
}

func TestStopLossAndTakeProfitPrices(t *testing.T) {
	sl := StopLossPrice(exchange.SideBuy, d("100"), d("1.5"))
	if !sl.Equal(d("98.5")) {
		t.Errorf("buy stop loss: expected 98.5, got %s", sl)
	}
	tp := TakeProfitPrice(exchange.SideBuy, d("100"), d("3"))
	if !tp.Equal(d("103")) {
		t.Errorf("buy take profit: expected 103, got %s", tp)
	}

	sl = StopLossPrice(exchange.SideSell, d("100"), d("1.5"))
	if !sl.Equal(d("101.5")) {
		t.Errorf("sell stop loss: expected 101.5, got %s", sl)
	}
	tp = TakeProfitPrice(exchange.SideSell, d("100"), d("3"))
	if !tp.Equal(d("97")) {
		t.Errorf("sell take profit: expected 97, got %s", tp)
	}
}

func TestPnL(t *testing.T) {
	pnl := PnL(exchange.SideBuy, d("100"), d("103.2"), d("10"))
	if !pnl.Equal(d("32")) {
		t.Errorf("buy pnl: expected 32, got %s", pnl)
	}

	pnl = PnL(exchange.SideBuy, d("100"), d("98.2"), d("10"))
	if !pnl.Equal(d("-18")) {
		t.Errorf("buy pnl: expected -18, got %s", pnl)
	}

	pnl = PnL(exchange.SideSell, d("100"), d("98"), d("5"))
	if !pnl.Equal(d("10")) {
		t.Errorf("sell pnl: expected 10, got %s", pnl)
	}
}

func TestTrailingStopBuy(t *testing.T) {
	// Price makes a new high; watermark moves and the stop trails 1% below.
	hwm, stop := TrailingStop(exchange.SideBuy, d("100"), d("103"), d("1"))
	if !hwm.Equal(d("103")) {
		t.Errorf("expected watermark 103, got %s", hwm)
	}
	if !stop.Equal(d("101.97")) {
		t.Errorf("expected proposed stop 101.97, got %s", stop)
	}

	// Price below the watermark leaves it unchanged.
	hwm, stop = TrailingStop(exchange.SideBuy, d("103"), d("101"), d("1"))
	if !hwm.Equal(d("103")) {
		t.Errorf("expected watermark to stay 103, got %s", hwm)
	}
	if !stop.Equal(d("101.97")) {
		t.Errorf("expected proposed stop 101.97, got %s", stop)
	}
}

func TestTrailingStopSell(t *testing.T) {
	hwm, stop := TrailingStop(exchange.SideSell, d("100"), d("97"), d("1"))
	if !hwm.Equal(d("97")) {
		t.Errorf("expected watermark 97, got %s", hwm)
	}
	if !stop.Equal(d("97.97")) {
		t.Errorf("expected proposed stop 97.97, got %s", stop)
	}
}

func TestMoreProtective(t *testing.T) {
	if !MoreProtective(exchange.SideBuy, d("101.97"), d("98.5")) {
		t.Error("higher stop should be more protective for buy")
	}
	if MoreProtective(exchange.SideBuy, d("98.5"), d("101.97")) {
		t.Error("lower stop should not be more protective for buy")
	}
	if MoreProtective(exchange.SideBuy, d("98.5"), d("98.5")) {
		t.Error("equal stop is not strictly more protective")
	}
	if !MoreProtective(exchange.SideSell, d("101"), d("102")) {
		t.Error("lower stop should be more protective for sell")
	}
}

func TestStopAndTargetHit(t *testing.T) {
	if !StopHit(exchange.SideBuy, d("98.5"), d("98.5")) {
		t.Error("buy stop should trigger at exactly the stop price")
	}
	if StopHit(exchange.SideBuy, d("98.6"), d("98.5")) {
		t.Error("buy stop should not trigger above the stop price")
	}
	if !StopHit(exchange.SideSell, d("101.5"), d("101.5")) {
		t.Error("sell stop should trigger at exactly the stop price")
	}

	if !TargetHit(exchange.SideBuy, d("103.2"), d("103")) {
		t.Error("buy target should trigger above the target price")
	}
	if TargetHit(exchange.SideBuy, d("102.9"), d("103")) {
		t.Error("buy target should not trigger below the target price")
	}
	if !TargetHit(exchange.SideSell, d("96.9"), d("97")) {
		t.Error("sell target should trigger below the target price")
	}
}
