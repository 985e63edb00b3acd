package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/briefgate/pkg/payload"
	"github.com/Mindburn-Labs/briefgate/pkg/template"
)

type stubBackend struct {
	kind  BackendKind
	out   Outcome
	err   error
	calls int
	block bool
}

func (s *stubBackend) Kind() BackendKind { return s.kind }

func (s *stubBackend) AttemptRender(ctx context.Context, _ payload.Payload) (Outcome, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return Outcome{}, ctx.Err()
	}
	return s.out, s.err
}

func failing(kind BackendKind, err error) *stubBackend {
	return &stubBackend{kind: kind, err: err}
}

func succeeding(kind BackendKind, path string) *stubBackend {
	return &stubBackend{kind: kind, out: Succeeded(path)}
}

func pending(kind BackendKind) *stubBackend {
	return &stubBackend{kind: kind, out: Pending(&Handoff{Instructions: "click export"})}
}

func brief() payload.Payload {
	return payload.Payload{Title: "Q3 Board Brief"}
}

func TestAutoPrimarySucceeds(t *testing.T) {
	primary := succeeding(Primary, "/out/primary.pdf")
	fallback := succeeding(Fallback, "/out/fallback.pdf")

	trace, art, err := New(primary, fallback).Render(context.Background(), brief(), ModeAuto)
	require.NoError(t, err)
	require.Equal(t, "/out/primary.pdf", art.Path)
	require.Equal(t, Primary, trace.BackendUsed())
	require.Equal(t, TraceCompleted, trace.Status())
	require.Len(t, trace.Attempts(), 1)
	require.Equal(t, 0, fallback.calls)
}

func TestAutoPrimaryFailsFallbackSucceeds(t *testing.T) {
	primary := failing(Primary, errors.New("plugin runtime unavailable"))
	fallback := succeeding(Fallback, "/out/fallback.pdf")

	trace, art, err := New(primary, fallback).Render(context.Background(), brief(), ModeAuto)
	require.NoError(t, err)
	require.NotNil(t, art)
	require.Equal(t, Fallback, trace.BackendUsed())
	require.Len(t, trace.Attempts(), 2)
	require.Equal(t, AttemptFailed, trace.Attempts()[0].Outcome)
	require.Equal(t, "plugin runtime unavailable", trace.Attempts()[0].Error)
	require.Equal(t, AttemptSucceeded, trace.Attempts()[1].Outcome)
	require.Equal(t, "/out/fallback.pdf", trace.ArtifactPath())
}

func TestAutoAllBackendsFailed(t *testing.T) {
	primary := failing(Primary, errors.New("no template"))
	fallback := failing(Fallback, fmt.Errorf("token exchange: %w", ErrAuth))

	trace, art, err := New(primary, fallback).Render(context.Background(), brief(), ModeAuto)
	require.Nil(t, art)
	require.True(t, IsKind(err, KindAllBackendsFailed))
	require.Contains(t, err.Error(), "no template")
	require.Contains(t, err.Error(), "token exchange")
	require.ErrorIs(t, err, ErrAuth)

	var re *RenderError
	require.True(t, errors.As(err, &re))
	require.Len(t, re.Causes, 2)
	require.Equal(t, KindAuth, re.Causes[1].Kind)

	require.Equal(t, TraceFailed, trace.Status())
	require.Len(t, trace.Attempts(), 2)
	require.Equal(t, 1, primary.calls)
	require.Equal(t, 1, fallback.calls)
}

func TestAutoPrimaryPendingWaits(t *testing.T) {
	primary := pending(Primary)
	fallback := succeeding(Fallback, "/out/fallback.pdf")

	trace, art, err := New(primary, fallback).Render(context.Background(), brief(), ModeAuto)
	require.NoError(t, err)
	require.Nil(t, art)
	require.Equal(t, TracePending, trace.Status())
	require.Equal(t, Primary, trace.BackendUsed())
	require.Equal(t, "click export", trace.Handoff().Instructions)
	require.Equal(t, 0, fallback.calls)
}

func TestAutoPrimaryPendingFallbackPolicy(t *testing.T) {
	primary := pending(Primary)
	fallback := succeeding(Fallback, "/out/fallback.pdf")

	trace, art, err := New(primary, fallback, WithPendingPolicy(PendingFallback)).
		Render(context.Background(), brief(), ModeAuto)
	require.NoError(t, err)
	require.Equal(t, "/out/fallback.pdf", art.Path)
	require.Equal(t, Fallback, trace.BackendUsed())
	require.Len(t, trace.Attempts(), 2)
}

func TestAutoPendingFallbackFailureStaysPending(t *testing.T) {
	primary := pending(Primary)
	fallback := failing(Fallback, errors.New("503"))

	trace, art, err := New(primary, fallback, WithPendingPolicy(PendingFallback)).
		Render(context.Background(), brief(), ModeAuto)
	require.NoError(t, err)
	require.Nil(t, art)
	require.Equal(t, TracePending, trace.Status())
	require.Equal(t, Primary, trace.BackendUsed())
	require.Len(t, trace.Attempts(), 2)
}

func TestSingleModesDoNotFallBack(t *testing.T) {
	primary := failing(Primary, errors.New("down"))
	fallback := succeeding(Fallback, "/out/fallback.pdf")
	r := New(primary, fallback)

	trace, _, err := r.Render(context.Background(), brief(), ModePrimaryOnly)
	require.True(t, IsKind(err, KindBackend))
	require.Len(t, trace.Attempts(), 1)
	require.Equal(t, 0, fallback.calls)

	trace, art, err := r.Render(context.Background(), brief(), ModeFallbackOnly)
	require.NoError(t, err)
	require.Equal(t, Fallback, art.Backend)
	require.Len(t, trace.Attempts(), 1)
	require.Equal(t, 1, primary.calls)
}

func TestUnconfiguredBackend(t *testing.T) {
	trace, _, err := New(nil, nil).Render(context.Background(), brief(), ModeFallbackOnly)
	require.True(t, IsKind(err, KindUnavailable))
	require.True(t, trace.Sealed())
	require.Empty(t, trace.Attempts())
}

type staticHandoff struct{}

func (staticHandoff) BuildHandoff(context.Context, payload.Payload) (*Handoff, error) {
	return &Handoff{Instructions: "paste prompt into connector"}, nil
}

func TestConnectorHandoffInvokesNoBackend(t *testing.T) {
	primary := succeeding(Primary, "/p.pdf")
	fallback := succeeding(Fallback, "/f.pdf")

	trace, art, err := New(primary, fallback, WithHandoffBuilder(staticHandoff{})).
		Render(context.Background(), brief(), ModeConnectorHandoff)
	require.NoError(t, err)
	require.Nil(t, art)
	require.Equal(t, TracePending, trace.Status())
	require.Equal(t, Connector, trace.BackendUsed())
	require.Equal(t, Connector, trace.Handoff().Backend)
	require.Equal(t, "paste prompt into connector", trace.Handoff().Instructions)
	require.Empty(t, trace.Attempts())
	require.Equal(t, 0, primary.calls+fallback.calls)
}

func TestAttemptTimeoutRecorded(t *testing.T) {
	primary := &stubBackend{kind: Primary, block: true}
	fallback := succeeding(Fallback, "/f.pdf")

	trace, art, err := New(primary, fallback, WithAttemptTimeout(10*time.Millisecond)).
		Render(context.Background(), brief(), ModeAuto)
	require.NoError(t, err)
	require.NotNil(t, art)
	require.Equal(t, AttemptTimeout, trace.Attempts()[0].Outcome)
}

func TestCancellationSealsLastKnownState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &stubBackend{kind: Primary, block: true}
	fallback := succeeding(Fallback, "/f.pdf")

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	trace, art, err := New(primary, fallback).Render(ctx, brief(), ModeAuto)
	require.Nil(t, art)
	require.True(t, IsKind(err, KindCanceled))
	require.True(t, trace.Sealed())
	require.Equal(t, TraceFailed, trace.Status())
	require.Len(t, trace.Attempts(), 1)
	require.Equal(t, AttemptCanceled, trace.Attempts()[0].Outcome)
	require.Equal(t, 0, fallback.calls)
}

func TestSuccessWithoutArtifactIsFailure(t *testing.T) {
	primary := &stubBackend{kind: Primary, out: Outcome{Status: OutcomeSucceeded}}
	_, _, err := New(primary, nil).Render(context.Background(), brief(), ModePrimaryOnly)
	require.Error(t, err)
}

func TestSealedTraceRejectsAppends(t *testing.T) {
	trace := newTrace(ModeAuto)
	require.NoError(t, trace.record(Attempt{Backend: Primary, Outcome: AttemptFailed}))
	require.NoError(t, trace.seal(TraceFailed, Primary, "", nil))

	require.ErrorIs(t, trace.record(Attempt{Backend: Fallback}), ErrTraceSealed)
	require.ErrorIs(t, trace.seal(TraceCompleted, Fallback, "/x.pdf", nil), ErrTraceSealed)
	require.Len(t, trace.Attempts(), 1)
}

func TestTraceJSON(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	primary := failing(Primary, errors.New("down"))
	fallback := succeeding(Fallback, "/f.pdf")

	trace, _, err := New(primary, fallback, WithClock(func() time.Time { return fixed })).
		Render(context.Background(), brief(), ModeAuto)
	require.NoError(t, err)

	data, err := json.Marshal(trace)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Equal(t, "completed", doc["status"])
	require.Equal(t, "fallback", doc["backend_used"])
	require.Equal(t, "/f.pdf", doc["final_artifact_path"])
	attempts := doc["attempts"].([]any)
	require.Len(t, attempts, 2)
	require.Equal(t, "2026-01-02T03:04:05Z", attempts[0].(map[string]any)["started_at"])
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"":          ModeAuto,
		"AUTO":      ModeAuto,
		"primary":   ModePrimaryOnly,
		"fallback":  ModeFallbackOnly,
		"connector": ModeConnectorHandoff,
	} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		require.Equal(t, want, got, in)
	}
	_, err := ParseMode("fax")
	require.Error(t, err)

	p, err := ParsePendingPolicy("")
	require.NoError(t, err)
	require.Equal(t, PendingWait, p)
	_, err = ParsePendingPolicy("retry-forever")
	require.Error(t, err)
}

func TestTemplateGuardFailureSkipsFallback(t *testing.T) {
	guardErr := template.NewGuard().Verify(template.Descriptor{}, "Generic Template", nil)
	primary := failing(Primary, fmt.Errorf("designtool: %w", guardErr))
	fallback := succeeding(Fallback, "/f.pdf")

	trace, art, err := New(primary, fallback).Render(context.Background(), brief(), ModeAuto)
	require.Nil(t, art)
	require.True(t, IsKind(err, KindTemplate))
	require.ErrorIs(t, err, template.ErrGuard)
	require.Equal(t, 0, fallback.calls)
	require.Equal(t, TraceFailed, trace.Status())
}
