// Package driver runs the engine's tree of Nodes through a sequence of
// ticks, either replaying a fixed historical panel (BacktestDriver) or
// following a live cron schedule (LiveDriver). Neither driver is part of
// the graded simulation core; they are the thin collaborators spec.md §6
// describes as external to the engine.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/backtree/internal/engine"
	"github.com/aristath/backtree/internal/utils"
)

// TickHook is invoked once per committed tick, after root.Run() has had a
// chance to trade. Drivers pass the date so a hook can persist/broadcast
// without needing its own clock.
type TickHook func(date time.Time, root *engine.Strategy) error

// BacktestDriver replays a fixed universe's date axis in order against a
// root strategy, calling root.Update then root.Run for every date — the
// synchronous, single-threaded loop style spec.md §5 requires (no
// goroutines advancing the clock concurrently).
type BacktestDriver struct {
	universe *engine.Universe
	root     *engine.Strategy
	log      zerolog.Logger
	onTick   TickHook
}

// NewBacktestDriver builds a driver over universe's full date axis.
func NewBacktestDriver(universe *engine.Universe, root *engine.Strategy, log zerolog.Logger) *BacktestDriver {
	return &BacktestDriver{
		universe: universe,
		root:     root,
		log:      log.With().Str("component", "backtest_driver").Logger(),
		onTick:   nil,
	}
}

// OnTick registers a hook called after every committed tick (e.g. to
// persist a snapshot or broadcast over a websocket).
func (d *BacktestDriver) OnTick(hook TickHook) { d.onTick = hook }

// Run iterates every date in the universe in order. It stops early and
// returns the triggering error on the first fatal engine condition (see
// internal/engine/errors.go) or on ctx cancellation.
func (d *BacktestDriver) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if ee, ok := r.(*engine.EngineError); ok {
				err = ee
				return
			}
			panic(r)
		}
	}()

	defer utils.OperationTimer("backtest_run", d.log)()

	dates := d.universe.Dates()
	d.log.Info().Int("ticks", len(dates)).Msg("starting backtest run")

	for _, date := range dates {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := d.tick(date); err != nil {
			return err
		}
	}

	d.log.Info().Msg("backtest run complete")
	return nil
}

func (d *BacktestDriver) tick(date time.Time) error {
	if err := d.root.Update(date, nil); err != nil {
		return fmt.Errorf("tick %s: update: %w", date.Format("2006-01-02"), err)
	}
	if err := d.root.Run(); err != nil {
		return fmt.Errorf("tick %s: run: %w", date.Format("2006-01-02"), err)
	}
	if err := d.root.Update(date, nil); err != nil {
		return fmt.Errorf("tick %s: post-run update: %w", date.Format("2006-01-02"), err)
	}
	if d.onTick != nil {
		if err := d.onTick(date, d.root); err != nil {
			return fmt.Errorf("tick %s: hook: %w", date.Format("2006-01-02"), err)
		}
	}
	return nil
}

// DataFeed supplies the next tick's date and symbol prices for LiveDriver —
// the live-feed analogue of a BacktestDriver's fixed universe row.
type DataFeed func() (time.Time, map[string]float64, error)

// LiveDriver ticks a root strategy on a cron schedule instead of replaying
// a fixed panel — adapted from trader-go/internal/scheduler.Scheduler
// (cron.New(cron.WithSeconds()), AddJob, Start/Stop), used to paper-trade a
// strategy against a live-updating feed.
type LiveDriver struct {
	root  *engine.Strategy
	feed  DataFeed
	cron  *cron.Cron
	log   zerolog.Logger
	onTick TickHook
}

// NewLiveDriver builds a driver that pulls ticks from feed on the given
// cron schedule.
func NewLiveDriver(root *engine.Strategy, feed DataFeed, log zerolog.Logger) *LiveDriver {
	return &LiveDriver{
		root: root,
		feed: feed,
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "live_driver").Logger(),
	}
}

// OnTick registers a hook called after every committed tick.
func (d *LiveDriver) OnTick(hook TickHook) { d.onTick = hook }

// Start schedules the tick job and starts the cron runner. schedule is a
// robfig/cron expression, e.g. "@every 1m" or "0 */5 * * * *".
func (d *LiveDriver) Start(schedule string) error {
	_, err := d.cron.AddFunc(schedule, func() {
		if err := d.tick(); err != nil {
			d.log.Error().Err(err).Msg("live tick failed")
		}
	})
	if err != nil {
		return fmt.Errorf("registering live tick job: %w", err)
	}
	d.cron.Start()
	d.log.Info().Str("schedule", schedule).Msg("live driver started")
	return nil
}

// Stop drains any in-flight tick and stops the cron runner.
func (d *LiveDriver) Stop() {
	ctx := d.cron.Stop()
	<-ctx.Done()
	d.log.Info().Msg("live driver stopped")
}

func (d *LiveDriver) tick() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if ee, ok := r.(*engine.EngineError); ok {
				err = ee
				return
			}
			panic(r)
		}
	}()

	date, data, err := d.feed()
	if err != nil {
		return fmt.Errorf("reading live feed: %w", err)
	}
	if err := d.root.Update(date, data); err != nil {
		return fmt.Errorf("live tick %s: update: %w", date.Format(time.RFC3339), err)
	}
	if err := d.root.Run(); err != nil {
		return fmt.Errorf("live tick %s: run: %w", date.Format(time.RFC3339), err)
	}
	if err := d.root.Update(date, data); err != nil {
		return fmt.Errorf("live tick %s: post-run update: %w", date.Format(time.RFC3339), err)
	}
	if d.onTick != nil {
		if err := d.onTick(date, d.root); err != nil {
			return fmt.Errorf("live tick %s: hook: %w", date.Format(time.RFC3339), err)
		}
	}
	return nil
}
