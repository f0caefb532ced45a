package scheduler

import (
	"sync"
	"time"

	"github.com/pathdx/cdst-go/pkg/problem"
	"github.com/pathdx/cdst-go/pkg/result"
	"github.com/pathdx/cdst-go/pkg/solver"
)

// Status is the scenario lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status ends the lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Transition is one append-only lifecycle step.
type Transition struct {
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Scenario is one optimization run owned by the scheduler.
type Scenario struct {
	ID     string
	UserID string

	Problem *problem.Problem
	Params  solver.Parameters

	mu          sync.Mutex
	status      Status
	transitions []Transition
	submittedAt time.Time
	startedAt   time.Time
	finishedAt  time.Time
	failReason  string
	cancelled   bool
	cancelWake  chan struct{} // closed on first cancel; the runner polls Cancelled between generations and does not wait on it

	generation int
	result     *result.Result

	// resumeFrom carries the decoded checkpoint into the runner when
	// the scenario is a restart.
	resumeFrom *Checkpoint

	broadcaster *Broadcaster
}

func newScenario(id, userID string, p *problem.Problem, params solver.Parameters) *Scenario {
	sc := &Scenario{
		ID:          id,
		UserID:      userID,
		Problem:     p,
		Params:      params,
		status:      StatusPending,
		submittedAt: time.Now(),
		cancelWake:  make(chan struct{}),
		broadcaster: NewBroadcaster(),
	}
	sc.transitions = append(sc.transitions, Transition{To: StatusPending, At: sc.submittedAt})
	return sc
}

// Status returns the current lifecycle state.
func (sc *Scenario) Status() Status {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.status
}

// Transitions returns a copy of the lifecycle history.
func (sc *Scenario) Transitions() []Transition {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]Transition, len(sc.transitions))
	copy(out, sc.transitions)
	return out
}

// transition moves the scenario to a new status, appending to the
// history. Transitions out of a terminal state are ignored.
func (sc *Scenario) transition(to Status, reason string) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.status.Terminal() {
		return false
	}

	from := sc.status
	sc.status = to
	sc.transitions = append(sc.transitions, Transition{From: from, To: to, At: time.Now(), Reason: reason})

	switch to {
	case StatusRunning:
		sc.startedAt = time.Now()
	case StatusCompleted, StatusFailed, StatusCancelled:
		sc.finishedAt = time.Now()
		sc.failReason = reason
	}
	return true
}

// Cancel sets the cooperative cancellation flag. Idempotent: the second
// cancel is a no-op.
func (sc *Scenario) Cancel() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.cancelled {
		return
	}
	sc.cancelled = true
	close(sc.cancelWake)
}

// Cancelled reads the flag.
func (sc *Scenario) Cancelled() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.cancelled
}

// Result returns the stored artifact, nil before extraction.
func (sc *Scenario) Result() *result.Result {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.result
}

func (sc *Scenario) setResult(res *result.Result) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.result = res
}

func (sc *Scenario) setGeneration(g int) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.generation = g
}

// Generation returns the last completed generation.
func (sc *Scenario) Generation() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.generation
}
