// Package delivery resolves the final PASS, PENDING or FAIL status of a run.
package delivery

import (
	"encoding/json"
	"errors"

	"github.com/Mindburn-Labs/briefgate/pkg/preflight"
	"github.com/Mindburn-Labs/briefgate/pkg/router"
)

// Exit codes for automation. PENDING is distinct from FAIL so callers can
// branch on a human-in-the-loop export.
const (
	ExitPass    = 0
	ExitFail    = 1
	ExitUsage   = 2
	ExitPending = 4
)

// Reason explains a Fail.
type Reason string

const (
	ReasonTemplateGuard   Reason = "template_guard"
	ReasonRender          Reason = "render_error"
	ReasonPreflight       Reason = "preflight_failed"
	ReasonPreflightNotRun Reason = "preflight_not_run"
)

// Status is one of Pass, Pending or Fail.
type Status interface {
	// Name is "PASS", "PENDING" or "FAIL".
	Name() string
	status()
}

// Pass means the artifact may be delivered.
type Pass struct {
	ArtifactPath string
	Report       *preflight.Report
}

// Pending means a human must finish the export before preflight can run.
type Pending struct {
	Handoff *router.Handoff
}

// Fail carries what blocked delivery: the aborting error, or the failed gates.
type Fail struct {
	Reason      Reason
	FailedGates []preflight.GateResult
	Report      *preflight.Report
	Err         error
}

func (Pass) Name() string    { return "PASS" }
func (Pending) Name() string { return "PENDING" }
func (Fail) Name() string    { return "FAIL" }

func (Pass) status()    {}
func (Pending) status() {}
func (Fail) status()    {}

// Resolve applies the delivery rules in order: guard failure, render error,
// pending trace, then the preflight verdict on the final artifact.
func Resolve(guardErr error, trace *router.Trace, renderErr error, report *preflight.Report) Status {
	if guardErr != nil {
		return Fail{Reason: ReasonTemplateGuard, Err: guardErr}
	}
	if renderErr != nil {
		return Fail{Reason: ReasonRender, Err: renderErr}
	}
	if trace == nil {
		return Fail{Reason: ReasonRender, Err: errors.New("no render trace")}
	}
	switch trace.Status() {
	case router.TracePending:
		return Pending{Handoff: trace.Handoff()}
	case router.TraceCompleted:
	default:
		return Fail{Reason: ReasonRender, Err: errors.New("render did not complete")}
	}
	if report == nil {
		return Fail{Reason: ReasonPreflightNotRun, Err: errors.New("preflight not run on final artifact")}
	}
	if !report.Passed() {
		return Fail{Reason: ReasonPreflight, FailedGates: report.FailedGates(), Report: report}
	}
	return Pass{ArtifactPath: trace.ArtifactPath(), Report: report}
}

// ExitCode maps a status to the CLI exit code.
func ExitCode(s Status) int {
	switch s.(type) {
	case Pass:
		return ExitPass
	case Pending:
		return ExitPending
	default:
		return ExitFail
	}
}

type summary struct {
	Status       string                 `json:"status"`
	ArtifactPath string                 `json:"artifact_path,omitempty"`
	Reason       Reason                 `json:"reason,omitempty"`
	Error        string                 `json:"error,omitempty"`
	FailedGates  []preflight.GateResult `json:"failed_gates,omitempty"`
	Handoff      *router.Handoff        `json:"handoff,omitempty"`
}

// Summary is the JSON form of a status for request logs and --json output.
func Summary(s Status) json.RawMessage {
	out := summary{Status: s.Name()}
	switch v := s.(type) {
	case Pass:
		out.ArtifactPath = v.ArtifactPath
	case Pending:
		out.Handoff = v.Handoff
	case Fail:
		out.Reason = v.Reason
		out.FailedGates = v.FailedGates
		if v.Err != nil {
			out.Error = v.Err.Error()
		}
	}
	data, _ := json.Marshal(out) //nolint:errchkjson // plain strings and slices only
	return data
}
