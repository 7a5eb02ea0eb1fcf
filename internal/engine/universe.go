package engine

import (
	"fmt"
	"math"
	"time"
)

// dateAxis is the shared, ordered date index backing a Universe and every
// filtered view derived from it.
type dateAxis struct {
	dates []time.Time
	index map[time.Time]int
}

func newDateAxis(dates []time.Time) (*dateAxis, error) {
	idx := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		if i > 0 && !dates[i-1].Before(d) {
			return nil, fmt.Errorf("engine: dates must be strictly increasing (%s is not after %s)", d, dates[i-1])
		}
		idx[d] = i
	}
	return &dateAxis{dates: dates, index: idx}, nil
}

func (a *dateAxis) indexOf(d time.Time) (int, bool) {
	i, ok := a.index[d]
	if !ok || i >= len(a.dates) {
		return 0, false
	}
	return i, true
}

// Universe is the external price panel described by spec §6: rows are an
// ordered, strictly increasing date axis, columns are symbol names, and
// NaN marks an unavailable observation. Views derived from a Universe
// (per-strategy ticker filtering, sub-strategy column injection) share the
// same underlying column slices as the panel they were filtered from, so a
// write through one view is visible through every other view over the same
// symbol — this is what lets a security that a strategy materializes on its
// working universe read the sub-strategy prices that strategy writes there,
// without a copy.
type Universe struct {
	axis    *dateAxis
	columns map[string][]float64
}

// NewUniverse builds a Universe from an ordered date axis and a set of
// symbol -> price columns. Every column must have exactly len(dates) rows.
func NewUniverse(dates []time.Time, columns map[string][]float64) (*Universe, error) {
	axis, err := newDateAxis(dates)
	if err != nil {
		return nil, err
	}
	cols := make(map[string][]float64, len(columns))
	for sym, col := range columns {
		if len(col) != len(dates) {
			return nil, fmt.Errorf("engine: column %q has %d rows, want %d", sym, len(col), len(dates))
		}
		cols[sym] = col
	}
	return &Universe{axis: axis, columns: cols}, nil
}

// Dates returns the full date axis.
func (u *Universe) Dates() []time.Time { return u.axis.dates }

// Symbols returns every column name currently visible through this view.
func (u *Universe) Symbols() []string {
	out := make([]string, 0, len(u.columns))
	for s := range u.columns {
		out = append(out, s)
	}
	return out
}

// HasSymbol reports whether a column exists in this view.
func (u *Universe) HasSymbol(symbol string) bool {
	_, ok := u.columns[symbol]
	return ok
}

// Price returns the panel price for symbol at date, and whether the symbol
// exists at all in this view. A date outside the axis with a known symbol
// returns NaN.
func (u *Universe) Price(symbol string, date time.Time) (float64, bool) {
	col, ok := u.columns[symbol]
	if !ok {
		return 0, false
	}
	i, ok := u.axis.indexOf(date)
	if !ok {
		return math.NaN(), true
	}
	return col[i], true
}

// Set writes a price into an existing column. Every view sharing that
// column's backing slice observes the write immediately.
func (u *Universe) Set(symbol string, date time.Time, price float64) error {
	col, ok := u.columns[symbol]
	if !ok {
		return fmt.Errorf("engine: universe has no column %q", symbol)
	}
	i, ok := u.axis.indexOf(date)
	if !ok {
		return fmt.Errorf("engine: date %s not in universe", date)
	}
	col[i] = price
	return nil
}

// filterSymbols returns a new view limited to the intersection of symbols
// and this universe's columns, sharing the underlying slices.
func (u *Universe) filterSymbols(symbols []string) *Universe {
	if len(symbols) == 0 {
		return u.clone()
	}
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	cols := make(map[string][]float64, len(symbols))
	for sym, col := range u.columns {
		if want[sym] {
			cols[sym] = col
		}
	}
	return &Universe{axis: u.axis, columns: cols}
}

// clone returns a shallow copy of the view: a new column map referencing
// the same underlying slices, safe to extend with withColumn.
func (u *Universe) clone() *Universe {
	cols := make(map[string][]float64, len(u.columns))
	for sym, col := range u.columns {
		cols[sym] = col
	}
	return &Universe{axis: u.axis, columns: cols}
}

// withColumn returns a view carrying an additional all-NaN column for name
// if one isn't already present — used to reserve a slot a sub-strategy's
// synthesized price will be written into every tick.
func (u *Universe) withColumn(name string) *Universe {
	if _, ok := u.columns[name]; ok {
		return u
	}
	v := u.clone()
	col := make([]float64, len(u.axis.dates))
	for i := range col {
		col[i] = math.NaN()
	}
	v.columns[name] = col
	return v
}

// SeriesUpTo returns the dense price history for symbol up to and
// including upTo, or nil if symbol isn't in this view. Used by algos that
// need a full lookback window (e.g. a moving-average indicator) rather
// than a single date's price.
func (u *Universe) SeriesUpTo(symbol string, upTo time.Time) []float64 {
	col, ok := u.columns[symbol]
	if !ok {
		return nil
	}
	n := len(u.axis.dates)
	if i, ok := u.axis.indexOf(upTo); ok {
		n = i + 1
	}
	out := make([]float64, n)
	copy(out, col[:n])
	return out
}

// Slice returns a read-only view restricted to dates up to and including
// upTo, sharing storage with u — the view an algo sees as target.universe.
func (u *Universe) Slice(upTo time.Time) *Universe {
	n := len(u.axis.dates)
	if i, ok := u.axis.indexOf(upTo); ok {
		n = i + 1
	}
	axis := &dateAxis{dates: u.axis.dates[:n], index: u.axis.index}
	return &Universe{axis: axis, columns: u.columns}
}
