package engine

import (
	"time"

	"gonum.org/v1/gonum/mat"
)

// series is a dense, date-indexed numeric buffer. It is sized once, at
// setup time, from the owning node's date axis — no reallocation happens
// during the run (spec §5: the tree is immutable in shape between ticks).
type series struct {
	axis *dateAxis
	vec  *mat.VecDense
}

func newSeries(axis *dateAxis) *series {
	return &series{axis: axis, vec: mat.NewVecDense(len(axis.dates), nil)}
}

func (s *series) Set(date time.Time, v float64) {
	i, ok := s.axis.indexOf(date)
	if !ok {
		return
	}
	s.vec.SetVec(i, v)
}

func (s *series) At(date time.Time) (float64, bool) {
	i, ok := s.axis.indexOf(date)
	if !ok {
		return 0, false
	}
	return s.vec.AtVec(i), true
}

func (s *series) Len() int { return s.vec.Len() }

// Values returns the dense backing values up to and including upTo, or the
// full series if upTo isn't found on the axis — mirroring the original's
// date-windowed `.ix[:self.now]` view.
func (s *series) Values(upTo time.Time) []float64 {
	n := s.vec.Len()
	if i, ok := s.axis.indexOf(upTo); ok {
		n = i + 1
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = s.vec.AtVec(i)
	}
	return out
}
