package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathdx/cdst-go/pkg/errors"
	"github.com/pathdx/cdst-go/pkg/problem"
	"github.com/pathdx/cdst-go/pkg/solver"
)

// smallProblem is a 2-area, 1-lab, 1-test fixture that converges almost
// immediately.
func smallProblem() *problem.Problem {
	return fixtureProblem(2, 1, 1, []int{10, 5}, []float64{8, 12})
}

// slowProblem is large enough that generations take measurable time.
func slowProblem() *problem.Problem {
	areas, labs, tests := 6, 4, 2
	demand := make([]int, areas*tests)
	for i := range demand {
		demand[i] = 40 + i
	}
	dist := make([]float64, areas*labs)
	for i := range dist {
		dist[i] = float64(3 + (i*7)%40)
	}
	return fixtureProblem(areas, labs, tests, demand, dist)
}

func fixtureProblem(areas, labs, tests int, demand []int, dist []float64) *problem.Problem {
	p := &problem.Problem{
		NAreas:    areas,
		NLabs:     labs,
		NTests:    tests,
		AreaIDs:   make([]string, areas),
		LabIDs:    make([]string, labs),
		TestIDs:   make([]string, tests),
		AreaIndex: map[string]int{},
		LabIndex:  map[string]int{},
		TestIndex: map[string]int{},

		Demand:     demand,
		Dist:       dist,
		TravelTime: make([]float64, len(dist)),

		Cap:              make([]problem.Capacities, labs),
		Overhead:         make([]float64, labs),
		AvailableMinutes: make([]float64, labs),

		Capable:     make([]bool, labs*tests),
		ProcTime:    make([]float64, labs*tests),
		StaffReq:    make([]int, labs*tests),
		EquipUtil:   make([]float64, labs*tests),
		CostPerTest: make([]float64, labs*tests),
		Quality:     make([]float64, labs*tests),

		Pop:      make([]int, areas),
		Priority: make([]int, areas),

		CostPerKM:             0.5,
		MaxAcceptableDistance: 100,
		MaxPop:                50000,
	}

	for i := 0; i < areas; i++ {
		id := "area-" + string(rune('a'+i))
		p.AreaIDs[i] = id
		p.AreaIndex[id] = i
		p.Pop[i] = 50000
	}
	for j := 0; j < labs; j++ {
		id := "lab-" + string(rune('a'+j))
		p.LabIDs[j] = id
		p.LabIndex[id] = j
		p.Cap[j] = problem.Capacities{MaxTestsPerDay: 1000, MaxTestsPerMonth: 30000, StaffCount: 10, UtilizationFactor: 0.8}
		p.AvailableMinutes[j] = 1e9
	}
	for t := 0; t < tests; t++ {
		id := "test-" + string(rune('a'+t))
		p.TestIDs[t] = id
		p.TestIndex[id] = t
	}
	for i := range p.TravelTime {
		p.TravelTime[i] = p.Dist[i] * 1.5
	}
	for j := 0; j < labs; j++ {
		for t := 0; t < tests; t++ {
			idx := j*tests + t
			p.Capable[idx] = true
			p.ProcTime[idx] = 45
			p.StaffReq[idx] = 1
			p.CostPerTest[idx] = 20
			p.Quality[idx] = 0.9
		}
	}

	return p
}

func testParams(seed int64, maxGenerations int) solver.Parameters {
	params := solver.DefaultParameters([solver.NumObjectives]float64{0.25, 0.20, 0.25, 0.15, 0.15})
	params.PopulationSize = 12
	params.MaxGenerations = maxGenerations
	params.EliteSize = 2
	params.ConvergenceWindow = 5
	params.Seed = &seed
	params.EvalWorkers = 2
	return params
}

func testScheduler(config Config) *Scheduler {
	return New(config, NewMemoryStore(), nil)
}

func drain(t *testing.T, frames <-chan Frame, timeout time.Duration) []Frame {
	t.Helper()
	var got []Frame
	deadline := time.After(timeout)
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return got
			}
			got = append(got, frame)
		case <-deadline:
			t.Fatalf("frame stream did not terminate within %v (got %d frames)", timeout, len(got))
		}
	}
}

func TestRunScenarioCompletes(t *testing.T) {
	s := testScheduler(DefaultConfig())
	defer s.Shutdown(context.Background())

	sc, frames, cancel, err := s.RunScenario("user-1", smallProblem(), testParams(1, 10))
	require.NoError(t, err)
	defer cancel()

	got := drain(t, frames, 30*time.Second)
	require.NotEmpty(t, got)

	last := got[len(got)-1]
	assert.True(t, last.Terminal)
	assert.Equal(t, StatusCompleted, last.Status)
	assert.Equal(t, StageFinalizing, last.Stage)
	assert.Equal(t, 1.0, last.Progress)

	// Generations are monotone across the stream
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].Generation, got[i-1].Generation)
	}

	assert.Equal(t, StatusCompleted, sc.Status())

	res, err := s.Result(sc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, res.Solutions)
	for _, sol := range res.Solutions {
		assert.Equal(t, 15, sol.TotalTests, "demand conservation in the artifact")
	}

	// Lifecycle history is append-only and complete
	transitions := sc.Transitions()
	require.GreaterOrEqual(t, len(transitions), 3)
	assert.Equal(t, StatusPending, transitions[0].To)
	assert.Equal(t, StatusRunning, transitions[1].To)
	assert.Equal(t, StatusCompleted, transitions[len(transitions)-1].To)
}

func TestResultNotReadyWhileRunning(t *testing.T) {
	s := testScheduler(DefaultConfig())
	defer s.Shutdown(context.Background())

	sc, err := s.Submit("user-1", slowProblem(), testParams(2, 1000000))
	require.NoError(t, err)

	_, err = s.Result(sc.ID)
	require.Error(t, err)
	assert.Equal(t, errors.NotReady, errors.CodeOf(err))

	require.NoError(t, s.Cancel(sc.ID))
}

func TestCancellation(t *testing.T) {
	s := testScheduler(DefaultConfig())
	defer s.Shutdown(context.Background())

	sc, frames, cancelSub, err := s.RunScenario("user-1", slowProblem(), testParams(3, 1000000))
	require.NoError(t, err)
	defer cancelSub()

	// Let it evolve a little, then cancel
	time.Sleep(200 * time.Millisecond)
	cancelledAt := time.Now()
	require.NoError(t, s.Cancel(sc.ID))
	require.NoError(t, s.Cancel(sc.ID), "double cancel is a no-op")

	got := drain(t, frames, 30*time.Second)
	latency := time.Since(cancelledAt)

	last := got[len(got)-1]
	assert.True(t, last.Terminal)
	assert.Equal(t, StatusCancelled, last.Status)
	assert.Equal(t, "user", last.Reason)
	assert.Equal(t, StatusCancelled, sc.Status())
	assert.Less(t, latency, 10*time.Second, "cancellation must land within a generation plus slack")

	// Best-so-far front is still queryable
	res, err := s.Result(sc.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Solutions)
	assert.Equal(t, string(StatusCancelled), res.Status)
}

func TestCancelPendingScenario(t *testing.T) {
	config := DefaultConfig()
	config.MaxConcurrent = 1
	config.UserMaxConcurrent = 1
	s := testScheduler(config)
	defer s.Shutdown(context.Background())

	running, err := s.Submit("user-1", slowProblem(), testParams(4, 1000000))
	require.NoError(t, err)
	queued, err := s.Submit("user-1", smallProblem(), testParams(5, 10))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return running.Status() == StatusRunning }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusPending, queued.Status())

	require.NoError(t, s.Cancel(queued.ID))
	assert.Equal(t, StatusCancelled, queued.Status())

	require.NoError(t, s.Cancel(running.ID))
}

func TestCancelUnknownScenario(t *testing.T) {
	s := testScheduler(DefaultConfig())
	defer s.Shutdown(context.Background())

	err := s.Cancel("no-such-scenario")
	require.Error(t, err)
	assert.Equal(t, errors.ResourceNotFound, errors.CodeOf(err))
}

func TestTimeoutProducesFailedWithResult(t *testing.T) {
	s := testScheduler(DefaultConfig())
	defer s.Shutdown(context.Background())

	params := testParams(6, 1000000)
	params.TimeBudget = 300 * time.Millisecond

	sc, frames, cancel, err := s.RunScenario("user-1", slowProblem(), params)
	require.NoError(t, err)
	defer cancel()

	got := drain(t, frames, 30*time.Second)
	last := got[len(got)-1]

	assert.True(t, last.Terminal)
	assert.Equal(t, StatusFailed, last.Status)
	assert.Equal(t, "timeout", last.Reason)

	// The best-so-far Pareto front is still extracted and stored
	res, err := s.Result(sc.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Solutions)
}

func TestInvalidParametersRefusedAtSubmit(t *testing.T) {
	s := testScheduler(DefaultConfig())
	defer s.Shutdown(context.Background())

	params := testParams(7, 10)
	params.Weights = [solver.NumObjectives]float64{0.9, 0.9, 0, 0, 0}

	_, err := s.Submit("user-1", smallProblem(), params)
	require.Error(t, err)
	assert.Equal(t, errors.InvalidParameters, errors.CodeOf(err))

	// No scenario state was created
	assert.Empty(t, s.pendingCounts())
}

func TestPerUserConcurrencyCap(t *testing.T) {
	config := DefaultConfig()
	config.MaxConcurrent = 4
	config.UserMaxConcurrent = 2
	s := testScheduler(config)
	defer s.Shutdown(context.Background())

	var scenarios []*Scenario
	for i := 0; i < 4; i++ {
		sc, err := s.Submit("user-1", slowProblem(), testParams(int64(10+i), 1000000))
		require.NoError(t, err)
		scenarios = append(scenarios, sc)
	}

	// Only two may run; the rest stay pending
	assert.Eventually(t, func() bool {
		running := 0
		for _, sc := range scenarios {
			if sc.Status() == StatusRunning {
				running++
			}
		}
		return running == 2
	}, 5*time.Second, 10*time.Millisecond)

	pending := 0
	for _, sc := range scenarios {
		if sc.Status() == StatusPending {
			pending++
		}
	}
	assert.Equal(t, 2, pending)

	// Releasing one slot admits the next in FIFO order
	require.NoError(t, s.Cancel(scenarios[0].ID))
	assert.Eventually(t, func() bool {
		return scenarios[2].Status() != StatusPending || scenarios[3].Status() != StatusPending
	}, 10*time.Second, 10*time.Millisecond)
}

func TestFairnessAcrossUsers(t *testing.T) {
	config := DefaultConfig()
	config.MaxConcurrent = 1
	config.UserMaxConcurrent = 1
	s := testScheduler(config)
	defer s.Shutdown(context.Background())

	// user-1 occupies the only slot and queues two more
	first, err := s.Submit("user-1", slowProblem(), testParams(20, 1000000))
	require.NoError(t, err)
	_, err = s.Submit("user-1", slowProblem(), testParams(21, 1000000))
	require.NoError(t, err)
	late, err := s.Submit("user-2", slowProblem(), testParams(22, 1000000))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return first.Status() == StatusRunning }, 5*time.Second, 10*time.Millisecond)

	// When the slot frees, user-2 (zero running) is preferred over
	// user-1's earlier-queued second scenario
	require.NoError(t, s.Cancel(first.ID))
	assert.Eventually(t, func() bool { return late.Status() == StatusRunning }, 10*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Cancel(late.ID))
}

func TestRateLimitExceeded(t *testing.T) {
	config := DefaultConfig()
	config.MaxConcurrent = 1
	config.UserMaxConcurrent = 1
	config.MaxPendingPerUser = 1
	s := testScheduler(config)
	defer s.Shutdown(context.Background())

	running, err := s.Submit("user-1", slowProblem(), testParams(30, 1000000))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return running.Status() == StatusRunning }, 5*time.Second, 10*time.Millisecond)

	_, err = s.Submit("user-1", slowProblem(), testParams(31, 1000000))
	require.NoError(t, err, "first queued submission is accepted")

	_, err = s.Submit("user-1", slowProblem(), testParams(32, 1000000))
	require.Error(t, err)
	assert.Equal(t, errors.RateLimitExceeded, errors.CodeOf(err))
}

func TestCheckpointAndResume(t *testing.T) {
	store := NewMemoryStore()
	config := DefaultConfig()
	config.CheckpointInterval = 2
	s := New(config, store, nil)

	sc, err := s.Submit("user-1", slowProblem(), testParams(40, 1000000))
	require.NoError(t, err)

	// Wait for a checkpoint to land, then cancel the run
	require.Eventually(t, func() bool {
		blob, err := store.Get(context.Background(), sc.ID)
		return err == nil && blob != nil
	}, 15*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Cancel(sc.ID))
	require.NoError(t, s.Shutdown(context.Background()))

	// A fresh scheduler resumes from the durable checkpoint
	s2 := New(config, store, nil)
	defer s2.Shutdown(context.Background())

	params := testParams(40, 1000000)
	resumed, err := s2.Resume(context.Background(), sc.ID, "user-1", slowProblem(), params)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return resumed.Status() == StatusRunning
	}, 10*time.Second, 10*time.Millisecond)
	assert.Greater(t, resumed.resumeFrom.Generation, 0)

	require.NoError(t, s2.Cancel(resumed.ID))
}

func TestResumeWithoutCheckpointFails(t *testing.T) {
	s := testScheduler(DefaultConfig())
	defer s.Shutdown(context.Background())

	sc, err := s.Resume(context.Background(), "ghost-scenario", "user-1", smallProblem(), testParams(50, 10))
	require.Error(t, err)
	assert.Equal(t, errors.CheckpointFailed, errors.CodeOf(err))
	require.NotNil(t, sc)
	assert.Equal(t, StatusFailed, sc.Status())
}

func TestSubscribeUnknownScenario(t *testing.T) {
	s := testScheduler(DefaultConfig())
	defer s.Shutdown(context.Background())

	_, _, err := s.Subscribe("missing")
	require.Error(t, err)
	assert.Equal(t, errors.ResourceNotFound, errors.CodeOf(err))
}

func TestLateSubscriberGetsTerminalFrame(t *testing.T) {
	s := testScheduler(DefaultConfig())
	defer s.Shutdown(context.Background())

	sc, err := s.Submit("user-1", smallProblem(), testParams(60, 10))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sc.Status().Terminal()
	}, 30*time.Second, 20*time.Millisecond)

	frames, cancel, err := s.Subscribe(sc.ID)
	require.NoError(t, err)
	defer cancel()

	frame, ok := <-frames
	require.True(t, ok)
	assert.True(t, frame.Terminal)
	assert.Equal(t, StatusCompleted, frame.Status)
}
