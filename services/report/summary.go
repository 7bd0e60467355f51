package report

// Trade statistics: KPIs, per-level breakdown and drawdown

import (
	"sort"

	"github.com/shopspring/decimal"

	"fade-backtest/services/engine"
)

var (
	hundred         = decimal.NewFromInt(100)
	profitFactorCap = decimal.RequireFromString("99.99")
	cent            = decimal.RequireFromString("0.01")
)

// TradeSummary holds the headline KPIs of a run
type TradeSummary struct {
	TotalTrades  int             `json:"total_trades"`
	Wins         int             `json:"wins"`
	Losses       int             `json:"losses"`
	WinRate      decimal.Decimal `json:"win_rate"`
	NetPnL       decimal.Decimal `json:"net_pnl"`
	NetPoints    float64         `json:"net_points"`
	GrossWin     decimal.Decimal `json:"gross_win"`
	GrossLoss    decimal.Decimal `json:"gross_loss"`
	ProfitFactor decimal.Decimal `json:"profit_factor"`
	AvgWin       decimal.Decimal `json:"avg_win"`
	AvgLoss      decimal.Decimal `json:"avg_loss"`
	RewardRatio  decimal.Decimal `json:"reward_ratio"`
	Expectancy   decimal.Decimal `json:"expectancy"`
	WorstDay     string          `json:"worst_day"`
	WorstDayPnL  decimal.Decimal `json:"worst_day_pnl"`
	MaxDrawdown  decimal.Decimal `json:"max_drawdown"`
	TotalCosts   decimal.Decimal `json:"total_costs"`
}

// GenerateSummary computes KPIs. A trade is a win when its net points are positive.
func GenerateSummary(trades []engine.Trade) TradeSummary {
	s := TradeSummary{WorstDay: "-"}
	if len(trades) == 0 {
		return s
	}

	dayPnL := make(map[string]decimal.Decimal)
	var equity, peak decimal.Decimal
	for _, t := range trades {
		s.NetPnL = s.NetPnL.Add(t.PnL)
		s.NetPoints += t.PnLPoints
		s.TotalCosts = s.TotalCosts.Add(t.Costs.Commission).Add(t.Costs.Slippage)
		if t.PnLPoints > 0 {
			s.Wins++
			s.GrossWin = s.GrossWin.Add(t.PnL)
		} else {
			s.Losses++
			s.GrossLoss = s.GrossLoss.Add(t.PnL.Abs())
		}
		dayPnL[t.Date] = dayPnL[t.Date].Add(t.PnL)

		equity = equity.Add(t.PnL)
		peak = decimal.Max(peak, equity)
		s.MaxDrawdown = decimal.Max(s.MaxDrawdown, peak.Sub(equity))
	}

	s.TotalTrades = len(trades)
	s.WinRate = decimal.NewFromInt(int64(s.Wins)).Div(decimal.NewFromInt(int64(s.TotalTrades))).Mul(hundred)

	switch {
	case s.GrossLoss.LessThan(cent) && s.GrossWin.IsPositive():
		s.ProfitFactor = profitFactorCap
	case s.GrossLoss.LessThan(cent):
		s.ProfitFactor = decimal.Zero
	default:
		s.ProfitFactor = s.GrossWin.Div(s.GrossLoss)
	}

	if s.Wins > 0 {
		s.AvgWin = s.GrossWin.Div(decimal.NewFromInt(int64(s.Wins)))
	}
	if s.Losses > 0 {
		s.AvgLoss = s.GrossLoss.Div(decimal.NewFromInt(int64(s.Losses)))
	}
	if s.AvgLoss.GreaterThanOrEqual(cent) {
		s.RewardRatio = s.AvgWin.Div(s.AvgLoss)
	}
	s.Expectancy = s.NetPnL.Div(decimal.NewFromInt(int64(s.TotalTrades)))

	days := make([]string, 0, len(dayPnL))
	for d := range dayPnL {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days {
		if v := dayPnL[d]; v.LessThan(s.WorstDayPnL) {
			s.WorstDay, s.WorstDayPnL = d, v
		}
	}
	return s
}

// LevelStats is the per-level breakdown of a run
type LevelStats struct {
	Level   engine.LevelTag `json:"level"`
	Count   int             `json:"count"`
	Wins    int             `json:"wins"`
	WinRate decimal.Decimal `json:"win_rate"`
	PnL     decimal.Decimal `json:"pnl"`
}

// StatsByLevel groups trades by level tag, sorted by tag
func StatsByLevel(trades []engine.Trade) []LevelStats {
	byLevel := make(map[engine.LevelTag]*LevelStats)
	for _, t := range trades {
		st, ok := byLevel[t.LevelTag]
		if !ok {
			st = &LevelStats{Level: t.LevelTag}
			byLevel[t.LevelTag] = st
		}
		st.Count++
		st.PnL = st.PnL.Add(t.PnL)
		if t.PnLPoints > 0 {
			st.Wins++
		}
	}

	out := make([]LevelStats, 0, len(byLevel))
	for _, st := range byLevel {
		st.WinRate = decimal.NewFromInt(int64(st.Wins)).Div(decimal.NewFromInt(int64(st.Count))).Mul(hundred)
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

// EquityPoint is one step of the cumulative currency curve
type EquityPoint struct {
	TradeID  int             `json:"trade_id"`
	Equity   decimal.Decimal `json:"equity"`
	Drawdown decimal.Decimal `json:"drawdown"`
}

func EquityCurve(trades []engine.Trade) []EquityPoint {
	out := make([]EquityPoint, 0, len(trades))
	var equity, peak decimal.Decimal
	for _, t := range trades {
		equity = equity.Add(t.PnL)
		peak = decimal.Max(peak, equity)
		out = append(out, EquityPoint{TradeID: t.ID, Equity: equity, Drawdown: peak.Sub(equity)})
	}
	return out
}
