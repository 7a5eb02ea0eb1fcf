// Package algos holds the handful of reference Algo implementations used
// to exercise the engine's Algo/Stack contract in tests and in the
// cmd/backtest demo. spec.md's Non-goals explicitly exclude a general
// algorithm-composition layer as a product feature — user strategy logic
// is an external collaborator (spec.md §4.5) — so this package stays
// deliberately small rather than growing into a strategy library.
package algos

import (
	"math"
	"sort"

	"github.com/markcheno/go-talib"

	"github.com/aristath/backtree/internal/engine"
)

// RunOnce returns true exactly once per target, then false forever after —
// the canonical way to drive the algo stack's short-circuit path in a
// demo: "select/allocate runs the first tick only, then the stack stops."
type RunOnce struct {
	ran map[*engine.Strategy]bool
}

// NewRunOnce builds a fresh RunOnce gate.
func NewRunOnce() *RunOnce {
	return &RunOnce{ran: make(map[*engine.Strategy]bool)}
}

func (r *RunOnce) Run(target *engine.Strategy) bool {
	if r.ran[target] {
		return false
	}
	r.ran[target] = true
	return true
}

// SelectAll stashes every symbol in target's working universe that has a
// non-NaN price as of now into target.Temp()["selected"], for downstream
// algos (WeighEqually, MomentumSMA) to read.
type SelectAll struct{}

func (SelectAll) Run(target *engine.Strategy) bool {
	u := target.Universe()
	var selected []string
	for _, sym := range u.Symbols() {
		price, ok := u.Price(sym, target.Now())
		if ok && !math.IsNaN(price) {
			selected = append(selected, sym)
		}
	}
	sort.Strings(selected)
	target.Temp()["selected"] = selected
	return true
}

// WeighEqually rebalances every symbol in target.Temp()["selected"] (as
// left by SelectAll or a similar algo) to an equal weight.
type WeighEqually struct{}

func (WeighEqually) Run(target *engine.Strategy) bool {
	selected, _ := target.Temp()["selected"].([]string)
	if len(selected) == 0 {
		return true
	}
	weight := 1.0 / float64(len(selected))
	base := target.Value()
	for _, sym := range selected {
		if err := target.Rebalance(weight, sym, base, true); err != nil {
			return false
		}
	}
	return true
}

// MomentumSMA ranks selected symbols by their price's distance above a
// short simple moving average (via markcheno/go-talib's Sma) and
// overweights the single leader, a small demo of a real algo touching a
// technical-indicator library without that library becoming part of the
// engine itself. Grounded on trader-go/pkg/formulas's talib.Sma/Rsi usage.
type MomentumSMA struct {
	Period int
}

// NewMomentumSMA builds a MomentumSMA algo using the given SMA lookback
// period (e.g. 20 for a 20-day trend filter).
func NewMomentumSMA(period int) *MomentumSMA {
	return &MomentumSMA{Period: period}
}

func (m *MomentumSMA) Run(target *engine.Strategy) bool {
	selected, _ := target.Temp()["selected"].([]string)
	if len(selected) == 0 {
		return true
	}

	u := target.Universe()
	var leader string
	var leaderScore float64
	hasLeader := false

	for _, sym := range selected {
		closes := u.SeriesUpTo(sym, target.Now())
		if len(closes) < m.Period+1 {
			continue
		}
		sma := talib.Sma(closes, m.Period)
		last := closes[len(closes)-1]
		smaLast := sma[len(sma)-1]
		if math.IsNaN(smaLast) || smaLast == 0 {
			continue
		}
		score := last/smaLast - 1
		if !hasLeader || score > leaderScore {
			leader, leaderScore, hasLeader = sym, score, true
		}
	}
	if !hasLeader {
		return true
	}

	base := target.Value()
	if err := target.Rebalance(0.5, leader, base, true); err != nil {
		return false
	}
	return true
}
