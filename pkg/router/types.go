// Package router decides which rendering backend produces a brief and
// records every attempt in a sealed trace.
package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/briefgate/pkg/payload"
)

// Mode selects how the router picks backends.
type Mode string

const (
	ModeAuto             Mode = "auto"
	ModePrimaryOnly      Mode = "primary"
	ModeFallbackOnly     Mode = "fallback"
	ModeConnectorHandoff Mode = "connector"
)

// ParseMode accepts the CLI spellings of a mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "primary", "primary-only", "canva":
		return ModePrimaryOnly, nil
	case "fallback", "fallback-only", "adobe":
		return ModeFallbackOnly, nil
	case "connector", "connector-handoff", "handoff":
		return ModeConnectorHandoff, nil
	}
	return "", fmt.Errorf("router: unknown render mode %q", s)
}

// BackendKind is the closed set of rendering backends.
type BackendKind string

const (
	Primary   BackendKind = "primary"
	Fallback  BackendKind = "fallback"
	Connector BackendKind = "connector"
)

// PendingPolicy decides what Auto mode does when the primary backend reports
// an export that still needs human confirmation.
type PendingPolicy string

const (
	// PendingWait surfaces the pending export and waits for the operator.
	PendingWait PendingPolicy = "wait"
	// PendingFallback attempts the fallback backend once.
	PendingFallback PendingPolicy = "fallback"
)

// ParsePendingPolicy parses a configured policy; empty means PendingWait.
func ParsePendingPolicy(s string) (PendingPolicy, error) {
	switch PendingPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PendingWait:
		return PendingWait, nil
	case PendingFallback:
		return PendingFallback, nil
	}
	return "", fmt.Errorf("router: unknown pending policy %q", s)
}

// OutcomeStatus discriminates a successful backend attempt.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomePending   OutcomeStatus = "pending"
)

// Handoff tells a human operator how to finish a pending render.
type Handoff struct {
	Backend      BackendKind `json:"backend"`
	Instructions string      `json:"instructions"`
	JobPath      string      `json:"job_path,omitempty"`
	ExpectedPath string      `json:"expected_path,omitempty"`
}

// Outcome is what a backend reports for an attempt that did not error.
type Outcome struct {
	Status       OutcomeStatus
	ArtifactPath string
	Handoff      *Handoff
}

// Succeeded builds a completed outcome.
func Succeeded(path string) Outcome {
	return Outcome{Status: OutcomeSucceeded, ArtifactPath: path}
}

// Pending builds an outcome that awaits human confirmation.
func Pending(h *Handoff) Outcome {
	return Outcome{Status: OutcomePending, Handoff: h}
}

// Backend renders a payload into a PDF artifact.
type Backend interface {
	Kind() BackendKind
	AttemptRender(ctx context.Context, p payload.Payload) (Outcome, error)
}

// HandoffBuilder produces the operator handoff for connector mode.
type HandoffBuilder interface {
	BuildHandoff(ctx context.Context, p payload.Payload) (*Handoff, error)
}

// Artifact is the final rendered document.
type Artifact struct {
	Path    string      `json:"path"`
	Backend BackendKind `json:"backend"`
}
