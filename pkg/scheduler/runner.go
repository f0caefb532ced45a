package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pathdx/cdst-go/pkg/logging"
	"github.com/pathdx/cdst-go/pkg/result"
	"github.com/pathdx/cdst-go/pkg/solver"
)

// run drives one scenario to a terminal state. It owns the solver and
// is the only goroutine touching the population.
func (s *Scheduler) run(sc *Scenario) {
	defer s.release(sc)

	ctx := logging.WithScenarioID(context.Background(), sc.ID)
	start := time.Now()

	// A cancel can land between dispatch and here; the terminal state wins
	if !sc.transition(StatusRunning, "") {
		return
	}
	sc.broadcaster.Publish(Frame{
		ScenarioID:     sc.ID,
		Stage:          StageInitializing,
		Status:         StatusRunning,
		MaxGenerations: sc.Params.MaxGenerations,
		Progress:       0.1,
	})

	engine, err := solver.NewNSGAII(sc.Problem, sc.Params)
	if err != nil {
		s.finish(ctx, sc, nil, StatusFailed, err.Error(), start)
		return
	}

	if cp := sc.resumeFrom; cp != nil {
		err = engine.Restore(cp.Population, cp.Generation, cp.RNGState)
	} else {
		err = engine.Initialize(ctx)
	}
	if err != nil {
		s.finish(ctx, sc, nil, StatusFailed, err.Error(), start)
		return
	}

	// Heartbeat: republish the latest frame with refreshed timing when
	// a generation outlasts the frame interval.
	lastPublish := int64(time.Now().UnixNano())
	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	go func() {
		ticker := time.NewTicker(s.config.FrameInterval / 4)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatDone:
				return
			case <-ticker.C:
				stale := time.Since(time.Unix(0, atomic.LoadInt64(&lastPublish)))
				if stale < s.config.FrameInterval {
					continue
				}
				if frame, ok := sc.broadcaster.Latest(); ok && !frame.Terminal {
					frame.ElapsedSeconds = time.Since(start).Seconds()
					sc.broadcaster.Publish(frame)
					atomic.StoreInt64(&lastPublish, time.Now().UnixNano())
				}
			}
		}
	}()

	var checkpointBusy int32

	disposition := StatusCompleted
	reason := ""

	for engine.Generation() < sc.Params.MaxGenerations {
		if sc.Cancelled() {
			disposition, reason = StatusCancelled, "user"
			break
		}
		if time.Since(start) > sc.Params.TimeBudget {
			disposition, reason = StatusFailed, "timeout"
			break
		}

		genCtx := logging.WithGeneration(ctx, engine.Generation())
		stats, err := engine.EvolveOneGeneration(genCtx)
		if err != nil {
			disposition, reason = StatusFailed, err.Error()
			break
		}
		sc.setGeneration(stats.Generation)

		elapsed := time.Since(start)
		perGen := elapsed.Seconds() / float64(stats.Generation)
		remaining := float64(sc.Params.MaxGenerations - stats.Generation)

		sc.broadcaster.Publish(Frame{
			ScenarioID:     sc.ID,
			Stage:          StageEvolving,
			Status:         StatusRunning,
			Generation:     stats.Generation,
			MaxGenerations: sc.Params.MaxGenerations,
			BestFitness:    stats.BestFitness,
			Hypervolume:    stats.Hypervolume,
			Progress:       0.2 + 0.7*float64(stats.Generation)/float64(sc.Params.MaxGenerations),
			ElapsedSeconds: elapsed.Seconds(),
			ETASeconds:     perGen * remaining,
		})
		atomic.StoreInt64(&lastPublish, time.Now().UnixNano())

		if stats.Generation%s.config.CheckpointInterval == 0 {
			s.checkpoint(ctx, sc, engine, &checkpointBusy)
		}

		if stats.Converged {
			s.logger.Info(genCtx, "hypervolume variance settled, stopping early")
			break
		}
		if stats.DiversityLow {
			s.logger.Info(genCtx, "population diversity collapsed with stalled fitness, stopping early")
			break
		}
	}

	s.finish(ctx, sc, engine, disposition, reason, start)
}

// checkpoint serializes the population without ever blocking the
// evolution loop: if the previous flush is still in flight, this one is
// skipped and logged.
func (s *Scheduler) checkpoint(ctx context.Context, sc *Scenario, engine *solver.NSGAII, busy *int32) {
	if !atomic.CompareAndSwapInt32(busy, 0, 1) {
		s.logger.Warn(ctx, "checkpoint store is slow, skipping checkpoint at generation %d", engine.Generation())
		return
	}

	rngState, err := engine.RNGState()
	if err != nil {
		atomic.StoreInt32(busy, 0)
		s.logger.Error(ctx, "failed to capture RNG state: %v", err)
		return
	}
	population := make([]*solver.Individual, len(engine.Population()))
	for i, ind := range engine.Population() {
		population[i] = ind.Clone()
	}
	generation := engine.Generation()

	go func() {
		defer atomic.StoreInt32(busy, 0)

		blob, err := EncodeCheckpoint(sc.ID, generation, rngState, population)
		if err != nil {
			s.logger.Error(ctx, "failed to encode checkpoint: %v", err)
			return
		}
		if err := s.store.Put(ctx, sc.ID, blob); err != nil {
			s.logger.Error(ctx, "failed to persist checkpoint: %v", err)
			return
		}
		s.logger.Debug(ctx, "checkpoint persisted at generation %d (%d bytes)", generation, len(blob))
	}()
}

// finish extracts the best-so-far front, stores the artifact, and emits
// the terminal frame. Timeouts and cancellations still produce results.
func (s *Scheduler) finish(ctx context.Context, sc *Scenario, engine *solver.NSGAII, disposition Status, reason string, start time.Time) {
	var res *result.Result
	if engine != nil {
		front := engine.ExtractFront()
		if len(front) > 0 {
			res = result.Extract(sc.ID, sc.Problem, front, sc.Params)
			res.Status = string(disposition)
			res.Generations = engine.Generation()
			sc.setResult(res)
		}
	}

	if res != nil && s.sink != nil {
		if err := s.sink.Save(ctx, res); err != nil {
			s.logger.Error(ctx, "failed to persist result rows: %v", err)
		}
	}

	if sc.transition(disposition, reason) {
		sc.broadcaster.Publish(s.terminalFrame(sc, disposition, reason, time.Since(start).Seconds()))
	}
	sc.broadcaster.Close()

	s.logger.Info(ctx, "scenario finished %s after %d generations (%.1fs)",
		disposition, sc.Generation(), time.Since(start).Seconds())
}

// terminalFrame builds the final frame of a scenario stream.
func (s *Scheduler) terminalFrame(sc *Scenario, status Status, reason string, elapsed float64) Frame {
	frame := Frame{
		ScenarioID:     sc.ID,
		Stage:          StageFinalizing,
		Status:         status,
		Reason:         reason,
		Generation:     sc.Generation(),
		MaxGenerations: sc.Params.MaxGenerations,
		Progress:       1.0,
		ElapsedSeconds: elapsed,
		Terminal:       true,
	}
	if latest, ok := sc.broadcaster.Latest(); ok {
		frame.BestFitness = latest.BestFitness
		frame.Hypervolume = latest.Hypervolume
	}
	return frame
}
