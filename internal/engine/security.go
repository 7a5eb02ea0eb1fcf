package engine

import (
	"fmt"
	"math"
	"time"
)

// Security is a leaf node: a tradeable instrument with a signed integer-ish
// position (expressed as float64 but always allocated to whole units by
// Allocate), a multiplier (e.g. futures contract size), and a price pulled
// either from the shared Universe or from an externally supplied data map.
type Security struct {
	base

	position   float64
	multiplier float64
	price      float64
	value      float64
	lastPos    float64

	// needsUpd mirrors Python's _needupdate: independent of the root's
	// stale flag, it marks "this security has a pending position/weight
	// change that its own price/value haven't reflected yet". It goes
	// false once both weight and position settle at zero, so dormant
	// securities stop paying the update cost every tick.
	needsUpd bool

	// pricesSet is true when this security's price column already exists
	// in the universe it was set up with (the common case); false means
	// its price must come from the data map passed into Update.
	pricesSet bool
	universe  *Universe
	ownPrices *series

	values    *series
	positions *series
}

// NewSecurity creates an unparented security. multiplier defaults to 1 if
// omitted (e.g. a futures contract's notional size per unit).
func NewSecurity(name string, multiplier ...float64) *Security {
	m := 1.0
	if len(multiplier) > 0 {
		m = multiplier[0]
	}
	return &Security{
		base:       base{name: name},
		multiplier: m,
		price:      0,
		needsUpd:   true,
	}
}

func (sec *Security) Multiplier() float64 { return sec.multiplier }
func (sec *Security) Position() float64   { return sec.position }

func (sec *Security) FullName() string {
	if sec.parent == nil {
		return sec.name
	}
	return sec.parent.FullName() + "." + sec.name
}

func (sec *Security) Members() []Node { return []Node{sec} }

func (sec *Security) String() string {
	return fmt.Sprintf("Security(%s, position=%.2f, price=%.4f, value=%.2f)", sec.FullName(), sec.position, sec.price, sec.value)
}

// Clone returns a structurally identical, detached security with a fresh
// needs-update flag and zeroed trading state — used when a parent strategy
// builds its paper-trade twin before any trading has happened.
func (sec *Security) Clone() *Security {
	return &Security{
		base:       base{name: sec.name},
		multiplier: sec.multiplier,
		needsUpd:   true,
	}
}

// Setup binds the security to the universe it will read its price from. If
// the universe already carries a column named after this security, prices
// come straight from that shared slice (the common case); otherwise prices
// must be supplied externally through Update's data map.
func (sec *Security) Setup(universe *Universe) error {
	sec.universe = universe
	axis := universe.axis
	sec.pricesSet = universe.HasSymbol(sec.name)
	if !sec.pricesSet {
		sec.ownPrices = newSeries(axis)
	}
	sec.values = newSeries(axis)
	sec.positions = newSeries(axis)
	return nil
}

// Update refreshes price/value/position for date. It is a no-op if date
// hasn't changed and the position hasn't moved since the last tick.
func (sec *Security) Update(date time.Time, data map[string]float64) error {
	if date.Equal(sec.now) && sec.lastPos == sec.position {
		return nil
	}
	sec.now = date

	var price float64
	if sec.pricesSet {
		p, _ := sec.universe.Price(sec.name, date)
		price = p
	} else {
		price = math.NaN()
		if data != nil {
			if p, ok := data[sec.name]; ok {
				price = p
			}
		}
		sec.ownPrices.Set(date, price)
	}
	sec.price = price

	sec.positions.Set(date, sec.position)
	sec.lastPos = sec.position

	// A flat position is worth zero even when the price is a NaN gap.
	if sec.position == 0 {
		sec.value = 0
	} else {
		sec.value = sec.position * sec.price * sec.multiplier
	}
	sec.values.Set(date, sec.value)

	if sec.weight == 0 && sec.position == 0 {
		sec.needsUpd = false
	}

	return nil
}

// Price returns the current price, triggering a self-update first if this
// security has a pending position change its price hasn't reflected yet.
// Unlike Value, Price does not separately check the root's stale flag —
// grounded on the original's asymmetric price/value getters (see design
// notes): price only needs to reflect a position the security itself made.
func (sec *Security) Price() float64 {
	if sec.needsUpd {
		_ = sec.Update(sec.root.now, nil)
	}
	return sec.price
}

// Value returns the current value, first settling a pending position
// change (like Price) and then, separately, triggering a full root update
// if the tree is stale — a value reading participates in parent-level
// accounting, so it must reflect the whole tree's latest state.
func (sec *Security) Value() float64 {
	if sec.needsUpd {
		_ = sec.Update(sec.root.now, nil)
	}
	mustUpdate(sec.root)
	return sec.value
}

func (sec *Security) Weight() float64 {
	mustUpdate(sec.root)
	return sec.weight
}

func (sec *Security) commission(quantity, price float64) float64 {
	return sec.parent.commissionFn(quantity, price)
}

// outlay computes the signed cash impact (negative means cash leaves the
// parent) of trading q units at the security's current price, plus the fee
// charged for that trade.
func (sec *Security) outlay(q float64) (outlay, fee float64) {
	unitPrice := sec.price * sec.multiplier
	fee = sec.commission(q, unitPrice)
	outlay = q*unitPrice + fee
	return outlay, fee
}

// quantityFor converts a cash amount into a whole-unit quantity. It floors
// while the position is long (or flat and the amount is positive) and ceils
// otherwise, so opening or extending a long never buys more than amount and
// opening or extending a short never sells more than amount. When a trade
// reduces an existing position the same rule rounds away from zero (a
// partial sale of a long floors, selling up to one unit more than amount).
func (sec *Security) quantityFor(amount float64) float64 {
	q := amount / (sec.price * sec.multiplier)
	longExtending := sec.position > 0 || (sec.position == 0 && amount > 0)
	if longExtending {
		return math.Floor(q)
	}
	return math.Ceil(q)
}

// Allocate trades this security by cash amount, debiting the parent
// strategy's capital by the resulting outlay (trade notional plus fee).
func (sec *Security) Allocate(amount float64, update bool) error {
	// sec.parent == nil (Go's stand-in for the original's self-parented
	// sentinel) guards the sec.parent.now read below without reordering the
	// documented self-update -> amount==0 -> orphan -> invalid-price checks.
	if sec.parent != nil && (sec.needsUpd || !sec.now.Equal(sec.parent.now)) {
		if err := sec.Update(sec.parent.now, nil); err != nil {
			return err
		}
	}
	if amount == 0 {
		return nil
	}
	if sec.parent == nil {
		return fmt.Errorf("%s: %w", sec.name, ErrOrphanedSecurity)
	}
	if sec.price == 0 || math.IsNaN(sec.price) {
		return fmt.Errorf("%s: %w", sec.FullName(), ErrInvalidPrice)
	}

	var q float64
	if sec.value != 0 && amount == -sec.value {
		q = -sec.position
	} else {
		q = sec.quantityFor(amount)
	}
	if q == 0 || math.IsNaN(q) {
		return nil
	}

	sec.needsUpd = true
	sec.position += q

	out, fee := sec.outlay(q)
	return sec.parent.Adjust(-out, update, false, fee)
}
