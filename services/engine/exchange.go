package engine

// Fees, slippage and trade settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// SlippageModel returns the slippage charged on an exit, in points
type SlippageModel interface {
	Points(status ExitStatus) float64
}

// FixedTicksSlippage charges a fixed number of ticks on losing and forced exits only
type FixedTicksSlippage struct{ Ticks float64 }

func (s FixedTicksSlippage) Points(status ExitStatus) float64 {
	if status == StatusWin {
		return 0
	}
	return s.Ticks * tickSize
}

// FeeModel returns the commission of one round trip
type FeeModel interface {
	RoundTrip() decimal.Decimal
}

type FixedFeeModel struct{ PerRoundTrip decimal.Decimal }

func (m FixedFeeModel) RoundTrip() decimal.Decimal { return m.PerRoundTrip }

// Accountant converts closed positions into trade records
type Accountant struct {
	Slippage   SlippageModel
	Fees       FeeModel
	PointValue decimal.Decimal
}

func NewAccountant(cfg Config) Accountant {
	return Accountant{
		Slippage:   FixedTicksSlippage{Ticks: cfg.SlippageTicks},
		Fees:       FixedFeeModel{PerRoundTrip: decimal.NewFromFloat(cfg.CommissionPerRoundTrip)},
		PointValue: decimal.NewFromFloat(cfg.PointValue),
	}
}

// Settle realizes pos at exit price
func (a Accountant) Settle(pos *Position, exit float64, status ExitStatus, at time.Time) Trade {
	raw := pos.PointsAt(exit)
	slipPts := a.Slippage.Points(status)

	gross := decimal.NewFromFloat(raw).Mul(a.PointValue)
	commission := a.Fees.RoundTrip()
	slippage := decimal.NewFromFloat(slipPts).Mul(a.PointValue)

	return Trade{
		ID:           pos.ID,
		Date:         at.Format(dateLayout),
		EntryTime:    pos.EntryTime,
		ExitTime:     at,
		Direction:    pos.Direction,
		LevelTag:     pos.LevelTag,
		LevelPrice:   pos.LevelPrice,
		EntryPrice:   pos.Entry,
		ExitPrice:    exit,
		PnLPoints:    raw - slipPts,
		PnL:          gross.Sub(commission).Sub(slippage),
		MaxFavorable: pos.MaxFavorable,
		Status:       status,
		Costs: CostBreakdown{
			Gross:          gross,
			Commission:     commission,
			Slippage:       slippage,
			SlippagePoints: slipPts,
		},
	}
}
