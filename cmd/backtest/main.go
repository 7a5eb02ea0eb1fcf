// Command backtest replays a CSV price panel through a simple
// select-all/weigh-equally strategy and reports the result — the thin
// demo entrypoint SPEC_FULL.md §3.6 describes, sequenced the way the
// teacher's cmd/server/main.go sequences logger → config → services →
// shutdown handling.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/backtree/internal/algos"
	"github.com/aristath/backtree/internal/archive"
	"github.com/aristath/backtree/internal/config"
	"github.com/aristath/backtree/internal/driver"
	"github.com/aristath/backtree/internal/engine"
	"github.com/aristath/backtree/internal/snapshot"
	"github.com/aristath/backtree/internal/status"
	"github.com/aristath/backtree/pkg/logger"
)

func main() {
	csvPath := flag.String("panel", "", "path to a CSV price panel (date,SYM1,SYM2,...)")
	withStatus := flag.Bool("status", false, "start the status/websocket server for this run")
	flag.Parse()

	log := logger.New(logger.Config{Level: "info", Pretty: true})
	logger.SetGlobalLogger(log)

	if *csvPath == "" {
		log.Fatal().Msg("missing -panel <csv file>")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	universe, err := driver.LoadUniverseCSV(*csvPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load price panel")
	}

	children := make([]engine.Node, 0, len(universe.Symbols()))
	for _, sym := range universe.Symbols() {
		children = append(children, engine.NewSecurity(sym))
	}
	root := engine.NewStrategy("root", children...)
	root.SetAlgos(engine.NewStack(algos.SelectAll{}, algos.WeighEqually{}))

	if err := root.Setup(universe); err != nil {
		log.Fatal().Err(err).Msg("failed to set up strategy tree")
	}

	dates := universe.Dates()
	if len(dates) == 0 {
		log.Fatal().Msg("price panel has no rows")
	}
	if err := root.Update(dates[0], nil); err != nil {
		log.Fatal().Err(err).Msg("failed priming update")
	}
	if err := root.Adjust(cfg.SeedCapital, true, true, 0); err != nil {
		log.Fatal().Err(err).Msg("failed to seed capital")
	}

	store, err := snapshot.Open(filepath.Join(cfg.DataDir, "backtest.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open snapshot store")
	}
	defer store.Close()

	runID := status.NewRunID()

	var statusServer *status.Server
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *withStatus {
		statusServer = status.New(cfg.StatusPort, log)
		go func() {
			if err := statusServer.Start(); err != nil {
				log.Error().Err(err).Msg("status server stopped")
			}
		}()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sig
			log.Info().Msg("shutting down on signal")
			cancel()
		}()
	}

	d := driver.NewBacktestDriver(universe, root, log)
	d.OnTick(func(date time.Time, r *engine.Strategy) error {
		if err := store.RecordTree(runID, date, r); err != nil {
			return err
		}
		if statusServer != nil {
			weights := make(map[string]float64)
			for _, c := range r.Children() {
				weights[c.Name()] = c.Weight()
			}
			statusServer.Report(status.RunSnapshot{
				RunID:   runID,
				Date:    date,
				Value:   r.Value(),
				Price:   r.Price(),
				Weights: weights,
			})
		}
		return nil
	})

	log.Info().Str("run_id", runID).Str("panel", *csvPath).Msg("starting backtest")
	if err := d.Run(ctx); err != nil {
		log.Error().Err(err).Msg("backtest run failed")
		os.Exit(1)
	}
	log.Info().
		Float64("final_value", root.Value()).
		Float64("final_price", root.Price()).
		Msg("backtest complete")

	archiver, err := archive.New(context.Background(), cfg.S3Bucket, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize archiver")
		return
	}
	if archiver.Enabled() {
		if err := archiver.UploadRunArtifact(context.Background(), runID, store.Path()); err != nil {
			log.Error().Err(err).Msg("failed to archive run artifact")
		}
	}

	if statusServer != nil {
		<-ctx.Done()
	}
}
