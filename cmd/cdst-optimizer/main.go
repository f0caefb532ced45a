// Command cdst-optimizer runs one optimization scenario end to end: it
// loads a network snapshot from JSON, builds the problem, drives the
// solver through the scheduler, and writes the result artifact.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pathdx/cdst-go/pkg/config"
	"github.com/pathdx/cdst-go/pkg/logging"
	"github.com/pathdx/cdst-go/pkg/problem"
	"github.com/pathdx/cdst-go/pkg/result"
	"github.com/pathdx/cdst-go/pkg/routing"
	"github.com/pathdx/cdst-go/pkg/scheduler"
	"github.com/pathdx/cdst-go/pkg/solver"
)

func main() {
	networkPath := flag.String("network", "", "path to the network snapshot JSON")
	outPath := flag.String("out", "result.json", "where to write the result artifact")
	seed := flag.Int64("seed", 0, "random seed (0 = fresh entropy)")
	flag.Parse()

	if *networkPath == "" {
		fmt.Fprintln(os.Stderr, "usage: cdst-optimizer -network network.json [-out result.json] [-seed N]")
		os.Exit(2)
	}

	if err := run(*networkPath, *outPath, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "cdst-optimizer: %v\n", err)
		os.Exit(1)
	}
}

func run(networkPath, outPath string, seed int64) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{
		Severity: logging.ParseSeverity(cfg.LogLevel),
		Outputs:  []logging.Output{logging.NewConsoleOutput(true)},
	})
	logging.SetLogger(logger)

	data, err := os.ReadFile(networkPath)
	if err != nil {
		return err
	}
	var network problem.Network
	if err := json.Unmarshal(data, &network); err != nil {
		return err
	}

	cache := routing.NewCache(time.Duration(cfg.Cache.TTLHours)*time.Hour, cfg.Cache.CleanupInterval)
	defer cache.Close()

	provider := routing.NewOSRMProvider(routing.OSRMConfig{
		BaseURL:          cfg.Routing.BaseURL,
		Timeout:          cfg.Routing.Timeout,
		MaxConcurrent:    cfg.Routing.MaxConcurrent,
		FallbackSpeedKMH: cfg.Routing.FallbackSpeed,
	}, cache)

	ctx := context.Background()
	p, err := problem.Build(ctx, &network, provider, problem.BuildOptions{})
	if err != nil {
		return err
	}
	logger.Info(ctx, "problem built: %d areas, %d labs, %d test types, routing source %s",
		p.NAreas, p.NLabs, p.NTests, p.Meta.RoutingSource)

	params := solver.DefaultParameters(cfg.Optimization.Weights.Vector())
	params.PopulationSize = cfg.Optimization.PopulationSize
	params.MaxGenerations = cfg.Optimization.MaxGenerations
	params.TimeBudget = cfg.Optimization.Timeout
	params.EvalWorkers = cfg.Optimization.EvalWorkers
	if seed != 0 {
		params.Seed = &seed
	}

	store, err := scheduler.NewSQLiteStore(cfg.Storage.CheckpointPath)
	if err != nil {
		return err
	}
	defer store.Close()

	sink, err := result.NewSQLiteStore(cfg.Storage.ResultPath)
	if err != nil {
		return err
	}
	defer sink.Close()

	sched := scheduler.New(scheduler.Config{
		MaxConcurrent:      cfg.Optimization.MaxConcurrent,
		UserMaxConcurrent:  cfg.Optimization.UserMaxConcurrent,
		CheckpointInterval: cfg.Optimization.CheckpointInterval,
	}, store, sink)
	defer sched.Shutdown(ctx)

	sc, frames, cancel, err := sched.RunScenario("cli", p, params)
	if err != nil {
		return err
	}
	defer cancel()

	var last scheduler.Frame
	for frame := range frames {
		last = frame
		if frame.Stage == scheduler.StageEvolving {
			logger.Info(ctx, "generation %d/%d best=%.4f hv=%.4f eta=%.0fs",
				frame.Generation, frame.MaxGenerations, frame.BestFitness, frame.Hypervolume, frame.ETASeconds)
		}
	}

	if last.Status != scheduler.StatusCompleted {
		return fmt.Errorf("scenario ended %s: %s", last.Status, last.Reason)
	}

	res, err := sched.Result(sc.ID)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		return err
	}

	logger.Info(ctx, "wrote %d solutions to %s", len(res.Solutions), outPath)
	return nil
}
