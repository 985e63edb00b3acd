package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/briefgate/pkg/observability"
	"github.com/Mindburn-Labs/briefgate/pkg/payload"
	"github.com/Mindburn-Labs/briefgate/pkg/template"
)

// DefaultAttemptTimeout bounds one backend invocation.
const DefaultAttemptTimeout = 90 * time.Second

// Router dispatches a render request to the configured backends.
type Router struct {
	primary        Backend
	fallback       Backend
	handoff        HandoffBuilder
	pendingPolicy  PendingPolicy
	attemptTimeout time.Duration
	obs            *observability.Provider
	clock          func() time.Time
	logger         *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

func WithPendingPolicy(p PendingPolicy) RouterOption {
	return func(r *Router) { r.pendingPolicy = p }
}

func WithAttemptTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.attemptTimeout = d
		}
	}
}

func WithHandoffBuilder(b HandoffBuilder) RouterOption {
	return func(r *Router) { r.handoff = b }
}

func WithObservability(p *observability.Provider) RouterOption {
	return func(r *Router) { r.obs = p }
}

// WithClock overrides the attempt timestamp source.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.clock = now }
}

// New creates a router. Either backend may be nil when not configured.
func New(primary, fallback Backend, opts ...RouterOption) *Router {
	r := &Router{
		primary:        primary,
		fallback:       fallback,
		pendingPolicy:  PendingWait,
		attemptTimeout: DefaultAttemptTimeout,
		clock:          time.Now,
		logger:         slog.Default().With("component", "router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render executes mode against the backends. The returned trace is always
// sealed, also when an error is returned. A nil artifact with a nil error
// means the trace is pending.
func (r *Router) Render(ctx context.Context, p payload.Payload, mode Mode) (*Trace, *Artifact, error) {
	trace := newTrace(mode)

	switch mode {
	case ModeConnectorHandoff:
		return r.connector(ctx, trace, p)
	case ModePrimaryOnly:
		return r.single(ctx, trace, p, r.primary, Primary)
	case ModeFallbackOnly:
		return r.single(ctx, trace, p, r.fallback, Fallback)
	case ModeAuto:
		return r.auto(ctx, trace, p)
	default:
		err := &RenderError{Kind: KindUnavailable, Err: fmt.Errorf("unknown mode %q", mode)}
		_ = trace.seal(TraceFailed, "", "", nil)
		return trace, nil, err
	}
}

func (r *Router) connector(ctx context.Context, trace *Trace, p payload.Payload) (*Trace, *Artifact, error) {
	h := &Handoff{Backend: Connector, Instructions: "Export the brief through the connector and re-run preflight on the exported PDF."}
	if r.handoff != nil {
		built, err := r.handoff.BuildHandoff(ctx, p)
		if err != nil {
			_ = trace.seal(TraceFailed, Connector, "", nil)
			return trace, nil, &RenderError{Kind: KindBackend, Backend: Connector, Err: err}
		}
		if built != nil {
			h = built
			h.Backend = Connector
		}
	}
	_ = trace.seal(TracePending, Connector, "", h)
	r.logger.InfoContext(ctx, "connector handoff prepared")
	return trace, nil, nil
}

func (r *Router) single(ctx context.Context, trace *Trace, p payload.Payload, b Backend, kind BackendKind) (*Trace, *Artifact, error) {
	if b == nil {
		_ = trace.seal(TraceFailed, kind, "", nil)
		return trace, nil, &RenderError{Kind: KindUnavailable, Backend: kind, Err: errors.New("backend not configured")}
	}
	out, rerr := r.attempt(ctx, trace, b, p)
	if rerr != nil {
		_ = trace.seal(TraceFailed, kind, "", nil)
		return trace, nil, rerr
	}
	return r.finish(trace, kind, out)
}

func (r *Router) auto(ctx context.Context, trace *Trace, p payload.Payload) (*Trace, *Artifact, error) {
	if r.primary == nil {
		return r.single(ctx, trace, p, r.fallback, Fallback)
	}

	out, primaryErr := r.attempt(ctx, trace, r.primary, p)
	if primaryErr == nil && out.Status == OutcomeSucceeded {
		return r.finish(trace, Primary, out)
	}

	if primaryErr == nil && r.pendingPolicy != PendingFallback {
		return r.finish(trace, Primary, out)
	}

	if primaryErr != nil && primaryErr.Kind == KindTemplate {
		_ = trace.seal(TraceFailed, Primary, "", nil)
		return trace, nil, primaryErr
	}

	if ctx.Err() != nil || r.fallback == nil {
		if primaryErr == nil {
			return r.finish(trace, Primary, out)
		}
		_ = trace.seal(TraceFailed, Primary, "", nil)
		return trace, nil, primaryErr
	}

	r.logger.InfoContext(ctx, "attempting fallback backend", "primary_pending", primaryErr == nil)
	fbOut, fallbackErr := r.attempt(ctx, trace, r.fallback, p)
	switch {
	case fallbackErr == nil:
		return r.finish(trace, Fallback, fbOut)
	case primaryErr == nil:
		// The human export behind the pending primary may still land.
		return r.finish(trace, Primary, out)
	default:
		_ = trace.seal(TraceFailed, Fallback, "", nil)
		return trace, nil, &RenderError{
			Kind:   KindAllBackendsFailed,
			Causes: []*RenderError{primaryErr, fallbackErr},
		}
	}
}

func (r *Router) finish(trace *Trace, kind BackendKind, out Outcome) (*Trace, *Artifact, error) {
	if out.Status == OutcomePending {
		h := out.Handoff
		if h == nil {
			h = &Handoff{Instructions: "Confirm the export in the design tool, then re-run preflight."}
		}
		h.Backend = kind
		_ = trace.seal(TracePending, kind, "", h)
		return trace, nil, nil
	}
	_ = trace.seal(TraceCompleted, kind, out.ArtifactPath, nil)
	return trace, &Artifact{Path: out.ArtifactPath, Backend: kind}, nil
}

// attempt runs one backend call under the attempt timeout and records it.
func (r *Router) attempt(ctx context.Context, trace *Trace, b Backend, p payload.Payload) (Outcome, *RenderError) {
	kind := b.Kind()
	ctx, finish := r.obs.TrackOperation(ctx, "router.attempt", observability.AttrBackend.String(string(kind)))

	attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()

	started := r.clock().UTC()
	out, err := b.AttemptRender(attemptCtx, p)
	if err == nil && out.Status != OutcomeSucceeded && out.Status != OutcomePending {
		err = fmt.Errorf("unknown outcome status %q", out.Status)
	}
	if err == nil && out.Status == OutcomeSucceeded && out.ArtifactPath == "" {
		err = errors.New("backend reported success without an artifact")
	}

	a := Attempt{Backend: kind, StartedAt: started, FinishedAt: r.clock().UTC()}
	var rerr *RenderError
	if err != nil {
		rerr = &RenderError{Kind: classify(ctx, attemptCtx, err), Backend: kind, Err: err}
		a.Outcome = rerr.Kind.outcome()
		a.Error = err.Error()
	} else if out.Status == OutcomePending {
		a.Outcome = AttemptPending
	} else {
		a.Outcome = AttemptSucceeded
	}
	_ = trace.record(a)

	r.obs.RecordRenderAttempt(ctx, string(kind), string(a.Outcome))
	r.logger.InfoContext(ctx, "render attempt finished",
		"backend", kind,
		"outcome", a.Outcome,
		"duration_ms", a.FinishedAt.Sub(a.StartedAt).Milliseconds(),
	)
	if rerr != nil {
		finish(rerr)
		return out, rerr
	}
	finish(nil)
	return out, nil
}

func classify(parent, attemptCtx context.Context, err error) ErrorKind {
	switch {
	case errors.Is(parent.Err(), context.Canceled) || errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, template.ErrGuard):
		return KindTemplate
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrJobFailed):
		return KindJobFailed
	default:
		return KindBackend
	}
}
