// Package scheduler owns scenario lifecycles: admission with per-user
// fairness, the generational run loop, cooperative cancellation and
// timeouts, checkpointing, and progress broadcasting.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pathdx/cdst-go/pkg/errors"
	"github.com/pathdx/cdst-go/pkg/logging"
	"github.com/pathdx/cdst-go/pkg/problem"
	"github.com/pathdx/cdst-go/pkg/result"
	"github.com/pathdx/cdst-go/pkg/solver"
)

// Config tunes admission and run management.
type Config struct {
	// MaxConcurrent is the global number of scenario slots.
	MaxConcurrent int

	// UserMaxConcurrent caps running scenarios per user; excess
	// submissions wait in the pending queue.
	UserMaxConcurrent int

	// MaxPendingPerUser bounds each user's queue; beyond it submissions
	// are rejected outright.
	MaxPendingPerUser int

	// CheckpointInterval is measured in generations.
	CheckpointInterval int

	// FrameInterval bounds the silence between progress frames.
	FrameInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:      4,
		UserMaxConcurrent:  3,
		MaxPendingPerUser:  10,
		CheckpointInterval: 50,
		FrameInterval:      2 * time.Second,
	}
}

// ResultSink receives final artifacts for durable storage.
type ResultSink interface {
	Save(ctx context.Context, res *result.Result) error
}

// Scheduler admits, runs and tracks scenarios.
type Scheduler struct {
	config Config
	store  Store
	sink   ResultSink // may be nil
	logger *logging.Logger

	mu           sync.Mutex
	scenarios    map[string]*Scenario
	pending      map[string][]*Scenario // FIFO per user
	runningCount map[string]int
	lastServed   map[string]time.Time // round-robin memory across users
	totalRunning int
	closed       bool

	wg sync.WaitGroup
}

// New creates a scheduler. The checkpoint store is required; the result
// sink may be nil.
func New(config Config, store Store, sink ResultSink) *Scheduler {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.UserMaxConcurrent <= 0 {
		config.UserMaxConcurrent = 3
	}
	if config.MaxPendingPerUser <= 0 {
		config.MaxPendingPerUser = 10
	}
	if config.CheckpointInterval <= 0 {
		config.CheckpointInterval = 50
	}
	if config.FrameInterval <= 0 {
		config.FrameInterval = 2 * time.Second
	}

	return &Scheduler{
		config:       config,
		store:        store,
		sink:         sink,
		logger:       logging.GetLogger(),
		scenarios:    make(map[string]*Scenario),
		pending:      make(map[string][]*Scenario),
		runningCount: make(map[string]int),
		lastServed:   make(map[string]time.Time),
	}
}

// Submit validates and enqueues a scenario, returning it immediately.
// The run starts as soon as admission allows.
func (s *Scheduler) Submit(userID string, p *problem.Problem, params solver.Parameters) (*Scenario, error) {
	if err := params.Validate(); err != nil {
		// Refused at submit: no scenario state is created
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New(errors.Unknown, "scheduler is shut down")
	}
	if len(s.pending[userID]) >= s.config.MaxPendingPerUser {
		return nil, errors.Newf(errors.RateLimitExceeded,
			"user %s has %d queued scenarios", userID, len(s.pending[userID]))
	}

	sc := newScenario(uuid.NewString(), userID, p, params)
	s.scenarios[sc.ID] = sc
	s.pending[userID] = append(s.pending[userID], sc)
	s.dispatchLocked()

	return sc, nil
}

// RunScenario submits and subscribes in one step, guaranteeing the
// subscriber observes the run from its first frame. The stream ends
// with a terminal frame and channel closure.
func (s *Scheduler) RunScenario(userID string, p *problem.Problem, params solver.Parameters) (*Scenario, <-chan Frame, func(), error) {
	if err := params.Validate(); err != nil {
		return nil, nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, nil, errors.New(errors.Unknown, "scheduler is shut down")
	}
	if len(s.pending[userID]) >= s.config.MaxPendingPerUser {
		return nil, nil, nil, errors.Newf(errors.RateLimitExceeded,
			"user %s has %d queued scenarios", userID, len(s.pending[userID]))
	}

	sc := newScenario(uuid.NewString(), userID, p, params)
	frames, cancel := sc.broadcaster.Subscribe()

	s.scenarios[sc.ID] = sc
	s.pending[userID] = append(s.pending[userID], sc)
	s.dispatchLocked()

	return sc, frames, cancel, nil
}

// Resume restarts a scenario from its durable checkpoint, or marks it
// failed when the checkpoint is missing or unreadable.
func (s *Scheduler) Resume(ctx context.Context, scenarioID, userID string, p *problem.Problem, params solver.Parameters) (*Scenario, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	blob, err := s.store.Get(ctx, scenarioID)
	var cp *Checkpoint
	if err == nil && blob != nil {
		cp, err = DecodeCheckpoint(p, blob)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New(errors.Unknown, "scheduler is shut down")
	}

	sc := newScenario(scenarioID, userID, p, params)
	s.scenarios[sc.ID] = sc

	if err != nil || cp == nil {
		reason := "checkpoint missing"
		if err != nil {
			reason = err.Error()
		}
		sc.transition(StatusFailed, reason)
		sc.broadcaster.Publish(s.terminalFrame(sc, StatusFailed, reason, 0))
		sc.broadcaster.Close()
		return sc, errors.Newf(errors.CheckpointFailed, "cannot resume scenario %s: %s", scenarioID, reason)
	}

	sc.resumeFrom = cp
	s.pending[userID] = append(s.pending[userID], sc)
	s.dispatchLocked()

	return sc, nil
}

// Cancel requests cooperative cancellation. Pending scenarios terminate
// immediately; running ones exit after the current generation. Double
// cancel is a no-op.
func (s *Scheduler) Cancel(scenarioID string) error {
	s.mu.Lock()
	sc, ok := s.scenarios[scenarioID]
	if !ok {
		s.mu.Unlock()
		return errors.Newf(errors.ResourceNotFound, "unknown scenario %s", scenarioID)
	}

	// A pending scenario can be retired right here
	if sc.Status() == StatusPending {
		queue := s.pending[sc.UserID]
		for i, queued := range queue {
			if queued.ID == scenarioID {
				s.pending[sc.UserID] = append(queue[:i], queue[i+1:]...)
				break
			}
		}
		s.mu.Unlock()

		sc.Cancel()
		if sc.transition(StatusCancelled, "user") {
			sc.broadcaster.Publish(s.terminalFrame(sc, StatusCancelled, "user", 0))
			sc.broadcaster.Close()
		}
		return nil
	}
	s.mu.Unlock()

	sc.Cancel()
	return nil
}

// Subscribe attaches a progress consumer to a scenario.
func (s *Scheduler) Subscribe(scenarioID string) (<-chan Frame, func(), error) {
	s.mu.Lock()
	sc, ok := s.scenarios[scenarioID]
	s.mu.Unlock()
	if !ok {
		return nil, nil, errors.Newf(errors.ResourceNotFound, "unknown scenario %s", scenarioID)
	}
	frames, cancel := sc.broadcaster.Subscribe()
	return frames, cancel, nil
}

// Scenario looks up a scenario by ID.
func (s *Scheduler) Scenario(scenarioID string) (*Scenario, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenarios[scenarioID]
	return sc, ok
}

// Result returns the final artifact, or NOT_READY while the scenario
// has not reached a terminal state with an extracted result.
func (s *Scheduler) Result(scenarioID string) (*result.Result, error) {
	s.mu.Lock()
	sc, ok := s.scenarios[scenarioID]
	s.mu.Unlock()
	if !ok {
		return nil, errors.Newf(errors.ResourceNotFound, "unknown scenario %s", scenarioID)
	}

	if !sc.Status().Terminal() {
		return nil, errors.Newf(errors.NotReady, "scenario %s is %s", scenarioID, sc.Status())
	}
	res := sc.Result()
	if res == nil {
		return nil, errors.Newf(errors.NotReady, "scenario %s produced no result", scenarioID)
	}
	return res, nil
}

// Shutdown cancels every live scenario and waits for runners to drain.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	var live []*Scenario
	for _, sc := range s.scenarios {
		if !sc.Status().Terminal() {
			live = append(live, sc)
		}
	}
	s.pending = make(map[string][]*Scenario)
	s.mu.Unlock()

	for _, sc := range live {
		sc.Cancel()
		if sc.transition(StatusCancelled, "shutdown") {
			sc.broadcaster.Publish(s.terminalFrame(sc, StatusCancelled, "shutdown", 0))
			sc.broadcaster.Close()
		}
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return errors.CheckContext(ctx, "scheduler shutdown")
	}
}

// dispatchLocked admits pending scenarios while slots remain. Users
// with fewer running scenarios win contested slots; within a user the
// queue is FIFO. Callers hold s.mu.
func (s *Scheduler) dispatchLocked() {
	for s.totalRunning < s.config.MaxConcurrent {
		// Prefer users with fewer running scenarios, then round-robin by
		// least recently served, then FIFO across queue heads.
		var bestUser string
		found := false
		better := func(user, incumbent string) bool {
			if s.runningCount[user] != s.runningCount[incumbent] {
				return s.runningCount[user] < s.runningCount[incumbent]
			}
			if !s.lastServed[user].Equal(s.lastServed[incumbent]) {
				return s.lastServed[user].Before(s.lastServed[incumbent])
			}
			return s.pending[user][0].submittedAt.Before(s.pending[incumbent][0].submittedAt)
		}
		for user, queue := range s.pending {
			if len(queue) == 0 || s.runningCount[user] >= s.config.UserMaxConcurrent {
				continue
			}
			if !found {
				bestUser, found = user, true
				continue
			}
			if better(user, bestUser) {
				bestUser = user
			}
		}
		if !found {
			return
		}

		sc := s.pending[bestUser][0]
		s.pending[bestUser] = s.pending[bestUser][1:]
		s.runningCount[bestUser]++
		s.lastServed[bestUser] = time.Now()
		s.totalRunning++

		s.wg.Add(1)
		go s.run(sc)
	}
}

// release returns a slot and re-dispatches.
func (s *Scheduler) release(sc *Scenario) {
	s.mu.Lock()
	s.runningCount[sc.UserID]--
	s.totalRunning--
	if !s.closed {
		s.dispatchLocked()
	}
	s.mu.Unlock()
	s.wg.Done()
}

// pendingCounts reports queued scenarios per user.
func (s *Scheduler) pendingCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for user, queue := range s.pending {
		if len(queue) > 0 {
			counts[user] = len(queue)
		}
	}
	return counts
}
