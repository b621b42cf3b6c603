package metrics

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"scalp-trading-bot/internal/database"
)

// ProfitFactorInfinite is the sentinel reported when there are profits and
// no losses, since the true profit factor is unbounded.
var ProfitFactorInfinite = decimal.NewFromInt(math.MaxInt64)

// Store reads closed positions for aggregation.
type Store interface {
	ListClosedPositions(ctx context.Context) ([]*database.Position, error)
}

// Summary is the aggregate view over all closed positions. Monetary values
// are rounded half-up to presentation scale.
type Summary struct {
	TotalTrades    int             `json:"total_trades"`
	Wins           int             `json:"wins"`
	Losses         int             `json:"losses"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	WinRate        decimal.Decimal `json:"win_rate_pct"`
	ProfitFactor   decimal.Decimal `json:"profit_factor"`
	MaxDrawdownPct decimal.Decimal `json:"max_drawdown_pct"`
	AverageWin     decimal.Decimal `json:"average_win"`
	AverageLoss    decimal.Decimal `json:"average_loss"`
	AveragePnL     decimal.Decimal `json:"average_pnl"`
	AverageHolding string          `json:"average_holding"`
	RealizedToday  decimal.Decimal `json:"realized_today"`
}

// presentationScale is the half-up rounding applied at the API boundary.
const presentationScale = 8

// Service computes trading statistics. Positions closed without a known PnL
// (external closes) are excluded from the aggregates.
type Service struct {
	store          Store
	initialCapital decimal.Decimal
}

// NewService creates a metrics service. initialCapital anchors the equity
// curve for drawdown.
func NewService(store Store, initialCapital float64) *Service {
	return &Service{
		store:          store,
		initialCapital: decimal.NewFromFloat(initialCapital),
	}
}

// Summary aggregates all closed positions in close order.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	closed, err := s.store.ListClosedPositions(ctx)
	if err != nil {
		return nil, err
	}

	var (
		total        = decimal.Zero
		grossProfit  = decimal.Zero
		grossLoss    = decimal.Zero
		wins, losses int
		holding      time.Duration
		counted      int
	)

	equity := s.initialCapital
	peak := equity
	maxDrawdownPct := decimal.Zero
	today := decimal.Zero
	midnight := utcMidnight(time.Now().UTC())

	for _, p := range closed {
		if p.PnL == nil {
			continue
		}
		pnl := *p.PnL
		counted++
		total = total.Add(pnl)

		switch {
		case pnl.Sign() > 0:
			wins++
			grossProfit = grossProfit.Add(pnl)
		case pnl.Sign() < 0:
			losses++
			grossLoss = grossLoss.Add(pnl.Neg())
		}

		if p.ClosedAt != nil {
			holding += p.ClosedAt.Sub(p.OpenedAt)
			if !p.ClosedAt.Before(midnight) {
				today = today.Add(pnl)
			}
		}

		equity = equity.Add(pnl)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if peak.Sign() > 0 {
			dd := peak.Sub(equity).Div(peak).Mul(decimal.NewFromInt(100))
			if dd.GreaterThan(maxDrawdownPct) {
				maxDrawdownPct = dd
			}
		}
	}

	out := &Summary{
		TotalTrades:    counted,
		Wins:           wins,
		Losses:         losses,
		TotalPnL:       round(total),
		MaxDrawdownPct: round(maxDrawdownPct),
		RealizedToday:  round(today),
	}

	if counted > 0 {
		out.WinRate = round(decimal.NewFromInt(int64(wins)).
			Div(decimal.NewFromInt(int64(counted))).
			Mul(decimal.NewFromInt(100)))
		out.AveragePnL = round(total.Div(decimal.NewFromInt(int64(counted))))
		out.AverageHolding = (holding / time.Duration(counted)).Round(time.Second).String()
	}
	if wins > 0 {
		out.AverageWin = round(grossProfit.Div(decimal.NewFromInt(int64(wins))))
	}
	if losses > 0 {
		out.AverageLoss = round(grossLoss.Div(decimal.NewFromInt(int64(losses))).Neg())
	}

	switch {
	case grossLoss.Sign() > 0:
		out.ProfitFactor = round(grossProfit.Div(grossLoss))
	case grossProfit.Sign() > 0:
		out.ProfitFactor = ProfitFactorInfinite
	}

	return out, nil
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(presentationScale)
}

func utcMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
