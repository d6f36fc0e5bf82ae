package jobs

import (
	"sync"
	"time"
)

// State is an archive job's lifecycle position. Terminal states are
// final; a finished job is never resumed.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Per-post outcome statuses. Failures at this level stay in the log
// and never abort the job.
const (
	OutcomeArchived = "archived"
	OutcomeWarnings = "archived with warnings"
	OutcomeCaptured = "screenshot captured"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// PostOutcome is one entry in a job's ordered outcome log.
type PostOutcome struct {
	PostID   string   `json:"post_id"`
	Status   string   `json:"status"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Snapshot is a consistent read of a job's progress, safe to hand to
// a concurrent observer.
type Snapshot struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	Target    string        `json:"target"`
	State     State         `json:"state"`
	Processed int           `json:"processed"`
	Total     int           `json:"total"`
	Failed    int           `json:"failed"`
	Error     string        `json:"error,omitempty"`
	Outcomes  []PostOutcome `json:"outcomes"`
	StartedAt time.Time     `json:"started_at"`
}

// Job is one orchestrated archive run. It lives in memory only; a
// restart forgets it, and already-archived posts are simply upserted
// again by the next job.
type Job struct {
	ID     string
	Kind   string
	Target string

	mu        sync.Mutex
	state     State
	processed int
	total     int
	failed    int
	outcomes  []PostOutcome
	errMsg    string
	cancelled bool
	startedAt time.Time
}

func newJob(id, kind, target string) *Job {
	return &Job{
		ID:        id,
		Kind:      kind,
		Target:    target,
		state:     StateQueued,
		startedAt: time.Now().UTC(),
	}
}

// Cancel requests cooperative cancellation. The orchestrator honors
// it between posts, never mid-post, so records are never cut in half.
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelled = true
}

func (j *Job) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// Snapshot returns a copy of the current progress. Counters only ever
// move forward while the job runs.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	outcomes := make([]PostOutcome, len(j.outcomes))
	copy(outcomes, j.outcomes)
	return Snapshot{
		ID:        j.ID,
		Kind:      j.Kind,
		Target:    j.Target,
		State:     j.state,
		Processed: j.processed,
		Total:     j.total,
		Failed:    j.failed,
		Error:     j.errMsg,
		Outcomes:  outcomes,
		StartedAt: j.startedAt,
	}
}

func (j *Job) start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = StateRunning
}

func (j *Job) setTotal(total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.total = total
}

// reviseTotal shrinks the estimate once pagination exhausts early.
func (j *Job) reviseTotal(total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if total < j.total {
		j.total = total
	}
}

// record appends one post's outcome and bumps the counters; progress
// reflects attempted posts, not just successes.
func (j *Job) record(outcome PostOutcome) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes = append(j.outcomes, outcome)
	j.processed++
	if outcome.Status == OutcomeFailed {
		j.failed++
	}
}

func (j *Job) finish(state State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == StateRunning || j.state == StateQueued {
		j.state = state
	}
}

// fail marks an orchestration-level fault, distinct from per-post
// failures.
func (j *Job) fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = StateFailed
	j.errMsg = err.Error()
}
