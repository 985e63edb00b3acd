package router

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrTraceSealed is returned when a sealed trace is modified.
var ErrTraceSealed = errors.New("router: trace is sealed")

// TraceStatus is the terminal state of a render.
type TraceStatus string

const (
	TraceRunning   TraceStatus = "running"
	TraceCompleted TraceStatus = "completed"
	TracePending   TraceStatus = "pending"
	TraceFailed    TraceStatus = "failed"
)

// AttemptOutcome records how one backend attempt ended.
type AttemptOutcome string

const (
	AttemptSucceeded AttemptOutcome = "succeeded"
	AttemptPending   AttemptOutcome = "pending"
	AttemptFailed    AttemptOutcome = "failed"
	AttemptTimeout   AttemptOutcome = "timeout"
	AttemptCanceled  AttemptOutcome = "canceled"
)

// Attempt is one backend invocation.
type Attempt struct {
	Backend    BackendKind    `json:"backend"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Outcome    AttemptOutcome `json:"outcome"`
	Error      string         `json:"error,omitempty"`
}

// Trace is the per-run record of routing decisions. It is appended to while
// the router owns it and read-only once sealed.
type Trace struct {
	mode         Mode
	backendUsed  BackendKind
	attempts     []Attempt
	artifactPath string
	status       TraceStatus
	handoff      *Handoff
	sealed       bool
}

func newTrace(mode Mode) *Trace {
	return &Trace{mode: mode, status: TraceRunning}
}

func (t *Trace) record(a Attempt) error {
	if t.sealed {
		return ErrTraceSealed
	}
	t.attempts = append(t.attempts, a)
	return nil
}

func (t *Trace) seal(status TraceStatus, used BackendKind, artifactPath string, h *Handoff) error {
	if t.sealed {
		return ErrTraceSealed
	}
	t.status = status
	t.backendUsed = used
	t.artifactPath = artifactPath
	t.handoff = h
	t.sealed = true
	return nil
}

func (t *Trace) Mode() Mode               { return t.mode }
func (t *Trace) BackendUsed() BackendKind { return t.backendUsed }
func (t *Trace) ArtifactPath() string     { return t.artifactPath }
func (t *Trace) Status() TraceStatus      { return t.status }
func (t *Trace) Sealed() bool             { return t.sealed }

// Attempts returns a copy of the recorded attempts.
func (t *Trace) Attempts() []Attempt {
	out := make([]Attempt, len(t.attempts))
	copy(out, t.attempts)
	return out
}

// Handoff returns the operator handoff of a pending trace, or nil.
func (t *Trace) Handoff() *Handoff {
	if t.handoff == nil {
		return nil
	}
	h := *t.handoff
	return &h
}

type traceJSON struct {
	Mode         Mode        `json:"mode"`
	Status       TraceStatus `json:"status"`
	BackendUsed  BackendKind `json:"backend_used,omitempty"`
	Attempts     []Attempt   `json:"attempts"`
	ArtifactPath string      `json:"final_artifact_path,omitempty"`
	Handoff      *Handoff    `json:"handoff,omitempty"`
}

func (t *Trace) MarshalJSON() ([]byte, error) {
	return json.Marshal(traceJSON{
		Mode:         t.mode,
		Status:       t.status,
		BackendUsed:  t.backendUsed,
		Attempts:     t.Attempts(),
		ArtifactPath: t.artifactPath,
		Handoff:      t.handoff,
	})
}
