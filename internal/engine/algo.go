package engine

// Algo is the external collaborator contract from spec §4.5. An Algo
// inspects and mutates a target Strategy (selecting children, rebalancing
// weights, closing positions) and reports whether the stack should keep
// going.
type Algo interface {
	Run(target *Strategy) bool
}

// RunAlways is an optional extension an Algo can implement to mark itself
// as needing to execute even after the stack has short-circuited on an
// earlier algo's false — used for algos that must always record state
// (e.g. a logger) regardless of whether trading went ahead this tick.
type RunAlways interface {
	AlwaysRun() bool
}

// AlgoFunc adapts a plain function to the Algo interface.
type AlgoFunc func(target *Strategy) bool

func (f AlgoFunc) Run(target *Strategy) bool { return f(target) }

// Stack runs a fixed sequence of algos against a target Strategy every
// tick. In normal mode it short-circuits on the first algo that returns
// false. If any algo in the stack advertises AlwaysRun, the stack switches
// to extended mode on a short-circuit: instead of stopping, it keeps
// invoking only the AlwaysRun algos (discarding their results) for the
// remainder of the sequence. The stack's own result is the first false
// returned, or true if every algo returned true.
type Stack struct {
	algos []Algo
}

// NewStack builds a Stack from an ordered list of algos.
func NewStack(algos ...Algo) *Stack {
	return &Stack{algos: algos}
}

func (s *Stack) Run(target *Strategy) bool {
	hasAlwaysRun := false
	for _, a := range s.algos {
		if ra, ok := a.(RunAlways); ok && ra.AlwaysRun() {
			hasAlwaysRun = true
			break
		}
	}

	result := true
	shortCircuited := false
	for _, a := range s.algos {
		if shortCircuited {
			ra, ok := a.(RunAlways)
			if !hasAlwaysRun || !ok || !ra.AlwaysRun() {
				continue
			}
			a.Run(target)
			continue
		}
		if !a.Run(target) {
			result = false
			shortCircuited = true
			if !hasAlwaysRun {
				break
			}
		}
	}
	return result
}
