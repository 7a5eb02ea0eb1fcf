package driver

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/backtree/internal/engine"
)

func testUniverse(t *testing.T) (*engine.Universe, []time.Time) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dates := []time.Time{base, base.AddDate(0, 0, 1), base.AddDate(0, 0, 2)}
	u, err := engine.NewUniverse(dates, map[string][]float64{"A": {100, 101, 102}})
	require.NoError(t, err)
	return u, dates
}

func TestBacktestDriverRunsEveryDate(t *testing.T) {
	universe, dates := testUniverse(t)
	root := engine.NewStrategy("root", engine.NewSecurity("A"))
	require.NoError(t, root.Setup(universe))
	require.NoError(t, root.Adjust(10_000, true, true, 0))

	d := NewBacktestDriver(universe, root, zerolog.Nop())

	var seen []time.Time
	d.OnTick(func(date time.Time, r *engine.Strategy) error {
		seen = append(seen, date)
		return nil
	})

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, dates, seen)
}

func TestBacktestDriverStopsOnContextCancel(t *testing.T) {
	universe, _ := testUniverse(t)
	root := engine.NewStrategy("root", engine.NewSecurity("A"))
	require.NoError(t, root.Setup(universe))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewBacktestDriver(universe, root, zerolog.Nop())
	err := d.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBacktestDriverSurfacesFatalEngineError(t *testing.T) {
	universe, dates := testUniverse(t)
	root := engine.NewStrategy("root", engine.NewSecurity("A"))
	require.NoError(t, root.Setup(universe))

	d := NewBacktestDriver(universe, root, zerolog.Nop())
	d.OnTick(func(date time.Time, r *engine.Strategy) error {
		if date.Equal(dates[1]) {
			// Force the root negative so the next tick's Update fails fatally.
			_ = r.Adjust(-1_000_000, true, false, 0)
		}
		return nil
	})

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrNegativeRootValue)
}
