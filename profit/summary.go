package profit

import (
	"sort"

	"grid_hedge_bot/logs"
	"grid_hedge_bot/strategy"
)

// PrintFinalSummary logs the totals at shutdown.
func (a *Accountant) PrintFinalSummary(symbol string) {
	s := a.Summary()
	logs.Info("--- Final PnL Summary ---")
	logs.Infof("Symbol: %s", symbol)
	logs.Infof("Cycles closed: %d (wins %d, losses %d)", s.Cycles, s.Wins, s.Losses)

	reasons := make([]string, 0, len(s.ByReason))
	for r := range s.ByReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		logs.Infof("  %-15s %d", r, s.ByReason[strategy.CloseReason(r)])
	}
	if s.Cycles > 0 {
		logs.Infof("Best cycle: %s USDT, worst cycle: %s USDT", s.BestCycle.StringFixed(4), s.WorstCycle.StringFixed(4))
	}
	logs.Infof("Total realized profit: %s USDT", s.RealizedPnL.StringFixed(4))
	logs.Info("-------------------------")
}
