package engine

import "errors"

// Fatal error kinds. A node operation that hits one of these should abort
// the run entirely; every other edge case (zero-quantity rounding,
// zero-amount allocate, no-op updates) is a silent no-op, never an error.
var (
	// ErrNegativeRootValue fires when the root strategy's computed value
	// goes negative on an update tick.
	ErrNegativeRootValue = errors.New("engine: root value went negative")

	// ErrDivisionByZeroInReturn fires when a strategy's last value plus
	// net flows is zero while its current value is nonzero, so the
	// period return cannot be computed.
	ErrDivisionByZeroInReturn = errors.New("engine: division by zero computing tick return")

	// ErrInvalidPrice fires when a security is allocated against while its
	// price is zero or NaN.
	ErrInvalidPrice = errors.New("engine: price is zero or NaN")

	// ErrOrphanedSecurity fires when a security's parent is itself or nil.
	ErrOrphanedSecurity = errors.New("engine: security has no parent")
)

// EngineError wraps a fatal engine error raised from inside a plain getter
// (Price, Value, Weight) that has no error return of its own. Update and
// Allocate return their fatal errors directly; only the lazy,
// stale-triggered re-update path performed by a getter needs to surface a
// fatal condition across a non-error signature, and it does so by panicking
// with this type. Operations that read getters internally (Rebalance,
// Close, Flatten, and algos calling them) can therefore panic with it as
// well. Callers that read node properties in
// a loop should recover it at the top of their tick, the way BacktestDriver
// does.
type EngineError struct {
	Err error
}

func (e *EngineError) Error() string { return e.Err.Error() }
func (e *EngineError) Unwrap() error { return e.Err }
