package engine

import (
	"fmt"
	"math"
	"time"
)

// Strategy is an inner node: a capital allocator that owns cash, a set of
// named children (securities or nested strategies), and tracks its own
// index price the way a fund's NAV evolves.
type Strategy struct {
	base

	capital float64
	value   float64
	price   float64

	netFlows  float64
	lastValue float64
	lastPrice float64
	lastFee   float64

	// stale is only meaningful on the root: any mutation that could
	// invalidate a cached read sets it, and the next read of a cached
	// property clears it via a full root update.
	stale bool

	universeTickers []string
	stratChildren   []string

	commissionFn CommissionFunc

	paperTrade       bool
	paperSeedCapital float64
	paper            *Strategy

	children *childSet

	originalData    *Universe
	workingUniverse *Universe

	prices *series
	values *series
	cash   *series
	fees   *series

	algos *Stack
	temp  map[string]interface{}
	perm  map[string]interface{}
}

// NewStrategy builds a strategy and, if given, wires in an initial set of
// children. The strategy starts as its own parent/root (i.e. a root) —
// addChild reparents it, and everything beneath it, when it's attached
// under another strategy.
func NewStrategy(name string, children ...Node) *Strategy {
	s := &Strategy{
		base:             base{name: name, weight: 1},
		price:            100,
		lastPrice:        100,
		commissionFn:     DefaultCommission,
		paperSeedCapital: 1_000_000,
		children:         newChildSet(),
		temp:             make(map[string]interface{}),
		perm:             make(map[string]interface{}),
	}
	s.base.parent = s
	s.base.root = s
	for _, c := range children {
		s.addChild(c)
	}
	return s
}

// SetUniverseTickers restricts the strategy's working universe to this
// whitelist (intersected with whatever the universe it's set up with
// actually carries).
func (s *Strategy) SetUniverseTickers(tickers []string) { s.universeTickers = tickers }

// SetCommissionFunc overrides the default commission model for every
// security allocated to directly under this strategy.
func (s *Strategy) SetCommissionFunc(fn CommissionFunc) { s.commissionFn = fn }

// SetAlgos wires the algo stack Run() invokes against this strategy every
// tick.
func (s *Strategy) SetAlgos(stack *Stack) { s.algos = stack }

// SetPaperSeedCapital overrides the fixed capital a paper-trade twin is
// funded with at setup time (default 1,000,000).
func (s *Strategy) SetPaperSeedCapital(amount float64) { s.paperSeedCapital = amount }

func (s *Strategy) Capital() float64    { return s.capital }
func (s *Strategy) NetFlows() float64   { return s.netFlows }
func (s *Strategy) LastValue() float64  { return s.lastValue }
func (s *Strategy) LastPrice() float64  { return s.lastPrice }
func (s *Strategy) LastFee() float64    { return s.lastFee }
func (s *Strategy) Children() []Node    { return s.children.list() }
func (s *Strategy) Temp() map[string]interface{} { return s.temp }
func (s *Strategy) Perm() map[string]interface{} { return s.perm }

func (s *Strategy) Child(name string) (Node, bool) { return s.children.get(name) }

// Universe returns the date-sliced view of this strategy's working
// universe up to and including now — what an algo reads as target.Universe().
func (s *Strategy) Universe() *Universe {
	return s.workingUniverse.Slice(s.now)
}

func (s *Strategy) FullName() string {
	if s.parent == s {
		return s.name
	}
	return s.parent.FullName() + "." + s.name
}

func (s *Strategy) Members() []Node {
	out := []Node{s}
	for _, c := range s.children.list() {
		out = append(out, c.Members()...)
	}
	return out
}

func (s *Strategy) String() string {
	return fmt.Sprintf("Strategy(%s, value=%.2f, price=%.4f, capital=%.2f)", s.FullName(), s.value, s.price, s.capital)
}

// setRootRecursive overrides base's version so that attaching a strategy
// subtree under a new parent re-roots every descendant, not just the
// attach point.
func (s *Strategy) setRootRecursive(r *Strategy) {
	s.base.root = r
	for _, c := range s.children.list() {
		c.setRootRecursive(r)
	}
}

func (s *Strategy) addChild(c Node) {
	c.attachParent(s)
	c.setRootRecursive(s.root)
	if !s.children.has(c.Name()) {
		if _, ok := c.(*Strategy); ok {
			s.stratChildren = append(s.stratChildren, c.Name())
		}
	}
	s.children.add(c)
}

func cloneNode(n Node) Node {
	switch v := n.(type) {
	case *Strategy:
		return v.Clone()
	case *Security:
		return v.Clone()
	default:
		panic(fmt.Sprintf("engine: unknown node type %T", n))
	}
}

// Clone returns a structurally identical, detached strategy (name, tree
// shape, commission function, universe ticker whitelist, algo stack) with
// all trading state zeroed. Used to build a paper-trade twin before any
// trading has happened — setup() calls it before the strategy it's cloning
// has itself been set up, so there is no time-series state yet to carry
// over.
func (s *Strategy) Clone() *Strategy {
	clone := &Strategy{
		base:             base{name: s.name, weight: 1},
		price:            100,
		lastPrice:        100,
		commissionFn:     s.commissionFn,
		paperSeedCapital: s.paperSeedCapital,
		universeTickers:  append([]string(nil), s.universeTickers...),
		algos:            s.algos,
		children:         newChildSet(),
		temp:             make(map[string]interface{}),
		perm:             make(map[string]interface{}),
	}
	clone.base.parent = clone
	clone.base.root = clone
	for _, c := range s.children.list() {
		clone.addChild(cloneNode(c))
	}
	return clone
}

// Setup is a one-shot pass: store the full panel, optionally build and
// fund a paper-trade twin, build this strategy's restricted working
// universe, size its time-series buffers, and recurse into children using
// the original (unfiltered) universe.
func (s *Strategy) Setup(universe *Universe) error {
	s.originalData = universe

	if s.parent != s {
		paper := s.Clone()
		paper.paperTrade = false
		if err := paper.Setup(s.originalData); err != nil {
			return fmt.Errorf("%s: setting up paper twin: %w", s.FullName(), err)
		}
		if err := paper.Adjust(s.paperSeedCapital, true, true, 0); err != nil {
			return fmt.Errorf("%s: funding paper twin: %w", s.FullName(), err)
		}
		s.paperTrade = true
		s.paper = paper
	}

	working := universe
	if len(s.universeTickers) > 0 {
		working = working.filterSymbols(s.universeTickers)
	} else {
		working = working.clone()
	}
	for _, name := range s.stratChildren {
		working = working.withColumn(name)
	}
	s.workingUniverse = working

	axis := working.axis
	s.prices = newSeries(axis)
	s.values = newSeries(axis)
	s.cash = newSeries(axis)
	s.fees = newSeries(axis)

	for _, c := range s.children.list() {
		if err := c.Setup(universe); err != nil {
			return err
		}
	}
	return nil
}

// Update refreshes this strategy's value, price and weight tree for date,
// recursing into children first. See the update-protocol design note for
// why the stale flag and the per-security need-update flag are checked
// independently.
func (s *Strategy) Update(date time.Time, data map[string]float64) error {
	s.root.stale = false

	newpt := false
	if s.now.IsZero() {
		newpt = true
	} else if !date.Equal(s.now) {
		s.netFlows = 0
		s.lastPrice = s.price
		s.lastValue = s.value
		s.lastFee = 0
		newpt = true
	}
	s.now = date

	val := s.capital
	for _, c := range s.children.list() {
		if sec, ok := c.(*Security); ok && !sec.needsUpd {
			continue
		}
		if err := c.Update(date, data); err != nil {
			return err
		}
		val += c.Value()
	}

	if s.parent == s && val < 0 {
		return fmt.Errorf("%s: %w", s.FullName(), ErrNegativeRootValue)
	}

	if newpt || s.value != val {
		s.value = val
		s.values.Set(date, val)

		denom := s.lastValue + s.netFlows
		var ret float64
		if denom == 0 {
			if s.value != 0 {
				return fmt.Errorf("%s: last value %v, net flows %v, current value %v: %w",
					s.FullName(), s.lastValue, s.netFlows, s.value, ErrDivisionByZeroInReturn)
			}
		} else {
			ret = s.value/denom - 1
		}
		s.price = s.lastPrice * (1 + ret)
		s.prices.Set(date, s.price)
	}

	for _, c := range s.children.list() {
		if sec, ok := c.(*Security); ok && !sec.needsUpd {
			continue
		}
		if val == 0 {
			c.setWeight(0)
		} else {
			c.setWeight(c.Value() / val)
		}
	}

	for _, name := range s.stratChildren {
		if child, ok := s.children.get(name); ok {
			_ = s.workingUniverse.Set(name, date, child.Price())
		}
	}

	s.cash.Set(date, s.capital)
	s.fees.Set(date, s.lastFee)

	if newpt && s.paperTrade {
		if err := s.paper.Update(date, nil); err != nil {
			return err
		}
		if err := s.paper.Run(); err != nil {
			return err
		}
		if err := s.paper.Update(date, nil); err != nil {
			return err
		}
		s.price = s.paper.Price()
		s.prices.Set(date, s.price)
	}

	return nil
}

func (s *Strategy) Price() float64 {
	mustUpdate(s.root)
	return s.price
}

func (s *Strategy) Value() float64 {
	mustUpdate(s.root)
	return s.value
}

func (s *Strategy) Weight() float64 {
	mustUpdate(s.root)
	return s.weight
}

// Adjust mutates capital directly and adds fee to last_fee whether or not
// the adjustment is a flow. Flows (injections/withdrawals) must not affect
// returns, so their amount is also added to net_flows, which shifts the
// return denominator; non-flow adjustments (security outlays, which already
// include their fee) leave net_flows alone and so do affect the tick's
// return.
func (s *Strategy) Adjust(amount float64, update bool, flow bool, fee float64) error {
	s.capital += amount
	s.lastFee += fee
	if flow {
		s.netFlows += amount
	}
	if update {
		s.root.stale = true
	}
	return nil
}

// Allocate gives this strategy amount of new capital from its parent (or,
// if it is the root, from the outside world), then cascades the same
// capital growth proportionally into its existing children using their
// last-committed weights, so relative weights are unchanged by the
// allocation itself.
func (s *Strategy) Allocate(amount float64, update bool) error {
	if amount == 0 {
		return nil
	}

	if s.parent == s {
		if err := s.parent.Adjust(-amount, false, true, 0); err != nil {
			return err
		}
	} else {
		if err := s.parent.Adjust(-amount, false, false, 0); err != nil {
			return err
		}
	}
	if err := s.Adjust(amount, false, true, 0); err != nil {
		return err
	}

	for _, c := range s.children.list() {
		if err := c.Allocate(c.rawWeight()*amount, false); err != nil {
			return err
		}
	}

	if update {
		s.root.stale = true
	}
	return nil
}

// AllocateToChild allocates amount of cash into the named child,
// materializing a new security under that name first if it isn't already
// present.
func (s *Strategy) AllocateToChild(childName string, amount float64, update bool) error {
	c, ok := s.children.get(childName)
	if !ok {
		sec := NewSecurity(childName)
		if err := sec.Setup(s.workingUniverse); err != nil {
			return err
		}
		if err := sec.Update(s.now, nil); err != nil {
			return err
		}
		s.addChild(sec)
		c = sec
	}
	return c.Allocate(amount, update)
}

// Rebalance drives the named child's weight to the target weight, measured
// against base (the strategy's current value if base is NaN). base lets a
// caller pin a multi-child sweep's denominator against the pre-rebalance
// value so earlier moves in the same tick don't skew later targets.
func (s *Strategy) Rebalance(weight float64, childName string, base float64, update bool) error {
	if weight == 0 {
		return s.Close(childName)
	}
	if math.IsNaN(base) {
		base = s.Value()
	}

	c, ok := s.children.get(childName)
	if !ok {
		sec := NewSecurity(childName)
		if err := sec.Setup(s.workingUniverse); err != nil {
			return err
		}
		if err := sec.Update(s.now, nil); err != nil {
			return err
		}
		s.addChild(sec)
		c = sec
	}

	delta := weight - c.Weight()
	return c.Allocate(delta*base, update)
}

// Close drives a named child's value to zero, first flattening its own
// children if it has any. Closing an unknown child name is a no-op — an
// open question the spec leaves either way; this implementation chooses
// the forgiving option so `close` composes safely with `flatten`.
func (s *Strategy) Close(childName string) error {
	c, ok := s.children.get(childName)
	if !ok {
		return nil
	}
	if cs, ok := c.(*Strategy); ok && cs.children.len() > 0 {
		if err := cs.Flatten(); err != nil {
			return err
		}
	}
	return c.Allocate(-c.Value(), true)
}

// Flatten drives every child with a nonzero value to zero.
func (s *Strategy) Flatten() error {
	for _, c := range s.children.list() {
		if v := c.Value(); v != 0 {
			if err := c.Allocate(-v, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run clears temp, invokes the algo stack against this strategy, then
// recurses into every child strategy's own Run (securities have no run
// behavior). A paper-trade twin's Run recurses the same way, since it is a
// structural clone of the tree it was cloned from.
func (s *Strategy) Run() error {
	for k := range s.temp {
		delete(s.temp, k)
	}
	if s.algos != nil {
		s.algos.Run(s)
	}
	for _, c := range s.children.list() {
		if cs, ok := c.(*Strategy); ok {
			if err := cs.Run(); err != nil {
				return err
			}
		}
	}
	return nil
}
