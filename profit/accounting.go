package profit

import (
	"sync"
	"time"

	"grid_hedge_bot/exchange"
	"grid_hedge_bot/metrics"
	"grid_hedge_bot/strategy"

	"github.com/shopspring/decimal"
)

// CycleResult is the realized outcome of one closed ladder.
type CycleResult struct {
	CycleID     string
	Symbol      string
	Reason      strategy.CloseReason
	Legs        []strategy.PositionLeg
	CloseFills  []exchange.Fill
	LongPnL     decimal.Decimal
	ShortPnL    decimal.Decimal
	RealizedPnL decimal.Decimal
	StartedAt   time.Time
	ClosedAt    time.Time
}

// Summary is the running total over all settled cycles.
type Summary struct {
	Cycles      int
	Wins        int
	Losses      int
	ByReason    map[strategy.CloseReason]int
	RealizedPnL decimal.Decimal
	BestCycle   decimal.Decimal
	WorstCycle  decimal.Decimal
}

// Accountant settles closed cycles and tracks cumulative realized PnL.
type Accountant struct {
	mu      sync.Mutex
	summary Summary
	history []CycleResult
}

func NewAccountant() *Accountant {
	return &Accountant{
		summary: Summary{ByReason: make(map[strategy.CloseReason]int)},
	}
}

// SettleCycle prices every leg against the average close fill of its side.
// markPrice stands in for a side whose close produced no fill, which happens
// when the exchange already reported it flat.
func (a *Accountant) SettleCycle(cycleID string, reason strategy.CloseReason, legs []strategy.PositionLeg, report *exchange.CloseReport, markPrice decimal.Decimal, closedAt time.Time) CycleResult {
	res := CycleResult{
		CycleID:  cycleID,
		Reason:   reason,
		Legs:     append([]strategy.PositionLeg(nil), legs...),
		LongPnL:  decimal.Zero,
		ShortPnL: decimal.Zero,
		ClosedAt: closedAt,
	}
	if report != nil {
		res.CloseFills = append([]exchange.Fill(nil), report.Fills...)
	}
	if len(legs) > 0 {
		res.StartedAt = legs[0].OpenedAt
	}

	longExit := exitPrice(report, exchange.Long, markPrice)
	shortExit := exitPrice(report, exchange.Short, markPrice)
	for _, leg := range legs {
		switch leg.Side {
		case strategy.Long:
			res.LongPnL = res.LongPnL.Add(longExit.Sub(leg.EntryPrice).Mul(leg.Quantity))
		case strategy.Short:
			res.ShortPnL = res.ShortPnL.Add(leg.EntryPrice.Sub(shortExit).Mul(leg.Quantity))
		}
	}
	res.RealizedPnL = res.LongPnL.Add(res.ShortPnL)

	a.mu.Lock()
	defer a.mu.Unlock()
	s := &a.summary
	if s.Cycles == 0 || res.RealizedPnL.GreaterThan(s.BestCycle) {
		s.BestCycle = res.RealizedPnL
	}
	if s.Cycles == 0 || res.RealizedPnL.LessThan(s.WorstCycle) {
		s.WorstCycle = res.RealizedPnL
	}
	s.Cycles++
	s.ByReason[reason]++
	if res.RealizedPnL.IsNegative() {
		s.Losses++
	} else {
		s.Wins++
	}
	s.RealizedPnL = s.RealizedPnL.Add(res.RealizedPnL)
	a.history = append(a.history, res)

	metrics.Cycles.WithLabelValues(string(reason)).Inc()
	metrics.RealizedPnL.Set(s.RealizedPnL.InexactFloat64())
	return res
}

func exitPrice(report *exchange.CloseReport, side exchange.PositionSide, fallback decimal.Decimal) decimal.Decimal {
	if p := report.AvgPrice(side); p.IsPositive() {
		return p
	}
	return fallback
}

// Summary returns a copy of the running totals.
func (a *Accountant) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.summary
	s.ByReason = make(map[strategy.CloseReason]int, len(a.summary.ByReason))
	for k, v := range a.summary.ByReason {
		s.ByReason[k] = v
	}
	return s
}

// History returns the settled cycles, oldest first.
func (a *Accountant) History() []CycleResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]CycleResult(nil), a.history...)
}

// GetRealizedPNL returns cumulative realized profit.
func (a *Accountant) GetRealizedPNL() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summary.RealizedPnL
}
