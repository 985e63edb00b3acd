// Package pipeline runs one brief end to end: template guard, rendering
// router, inspection, preflight and delivery resolution. PASS artifacts are
// stored content-addressed and every run is recorded in the ledger.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/briefgate/pkg/artifacts"
	"github.com/Mindburn-Labs/briefgate/pkg/delivery"
	"github.com/Mindburn-Labs/briefgate/pkg/inspect"
	"github.com/Mindburn-Labs/briefgate/pkg/ledger"
	"github.com/Mindburn-Labs/briefgate/pkg/observability"
	"github.com/Mindburn-Labs/briefgate/pkg/payload"
	"github.com/Mindburn-Labs/briefgate/pkg/preflight"
	"github.com/Mindburn-Labs/briefgate/pkg/router"
	"github.com/Mindburn-Labs/briefgate/pkg/rules"
	"github.com/Mindburn-Labs/briefgate/pkg/template"
)

// ErrInvalidRequest marks requests rejected before anything runs.
var ErrInvalidRequest = errors.New("pipeline: invalid request")

// Paths are the files one run writes next to its output.
type Paths struct {
	Output     string
	RequestLog string
	Job        string
	Prompt     string
}

// PathsFor derives the side files from the output and request log paths. An
// empty requestLog defaults to the output path with a .request.json suffix.
func PathsFor(output, requestLog string) Paths {
	if requestLog == "" {
		requestLog = strings.TrimSuffix(output, filepath.Ext(output)) + ".request.json"
	}
	base := strings.TrimSuffix(requestLog, filepath.Ext(requestLog))
	return Paths{
		Output:     output,
		RequestLog: requestLog,
		Job:        base + ".design_job.json",
		Prompt:     base + ".connector_prompt.txt",
	}
}

// RouterFactory builds the router for one request. Backends are per request
// because each writes to that request's output path.
type RouterFactory func(req Request, paths Paths) (*router.Router, error)

// Recorder persists run summaries. *ledger.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, r ledger.Run) error
}

// Request describes one render.
type Request struct {
	PayloadPath string
	Format      payload.Format
	// Payload, when set, is used instead of loading PayloadPath.
	Payload *payload.Payload

	Mode           router.Mode
	OutputPath     string
	RequestLogPath string
	// ReportPath, when set, receives the preflight report JSON.
	ReportPath string

	Rules      *rules.RuleSet
	Descriptor template.Descriptor
	// DeclaredTemplate defaults to Descriptor.TemplateName.
	DeclaredTemplate string
	VerifyCanonical  bool
}

func (r *Request) normalize() error {
	if r.Payload == nil && r.PayloadPath == "" {
		return fmt.Errorf("%w: payload path is required", ErrInvalidRequest)
	}
	if r.OutputPath == "" {
		return fmt.Errorf("%w: output path is required", ErrInvalidRequest)
	}
	if r.Rules == nil {
		return fmt.Errorf("%w: rule set is required", ErrInvalidRequest)
	}
	if r.Mode == "" {
		r.Mode = router.ModeAuto
	}
	if r.DeclaredTemplate == "" {
		r.DeclaredTemplate = r.Descriptor.TemplateName
	}
	return nil
}

// Result is the outcome of one run.
type Result struct {
	RunID            string
	PayloadDigest    string
	Status           delivery.Status
	Trace            *router.Trace
	TemplateReport   *template.CanonicalReport
	Preflight        *preflight.Report
	ArtifactDigest   string
	ArtifactLocation string
	RequestLogPath   string
}

type resultJSON struct {
	RunID            string            `json:"run_id"`
	PayloadDigest    string            `json:"payload_digest,omitempty"`
	Result           json.RawMessage   `json:"result"`
	Trace            *router.Trace     `json:"trace,omitempty"`
	Preflight        *preflight.Report `json:"preflight,omitempty"`
	ArtifactDigest   string            `json:"artifact_digest,omitempty"`
	ArtifactLocation string            `json:"artifact_location,omitempty"`
	RequestLog       string            `json:"request_log,omitempty"`
}

func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		RunID:            r.RunID,
		PayloadDigest:    r.PayloadDigest,
		Result:           delivery.Summary(r.Status),
		Trace:            r.Trace,
		Preflight:        r.Preflight,
		ArtifactDigest:   r.ArtifactDigest,
		ArtifactLocation: r.ArtifactLocation,
		RequestLog:       r.RequestLogPath,
	})
}

// ExitCode is the CLI exit code for the run.
func (r *Result) ExitCode() int { return delivery.ExitCode(r.Status) }

// Pipeline wires the stages together. It holds no per-run state and is safe
// for concurrent use.
type Pipeline struct {
	routers     RouterFactory
	guard       *template.Guard
	inspector   inspect.Inspector
	store       artifacts.Store
	recorder    Recorder
	obs         *observability.Provider
	now         func() time.Time
	newRunID    func() string
	concurrency int
	settle      time.Duration
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithInspector replaces the PDF inspector.
func WithInspector(i inspect.Inspector) Option {
	return func(p *Pipeline) { p.inspector = i }
}

// WithArtifactStore stores PASS artifacts in s.
func WithArtifactStore(s artifacts.Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithRecorder records every run.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

func WithObservability(o *observability.Provider) Option {
	return func(p *Pipeline) { p.obs = o }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithRunIDs overrides run id generation.
func WithRunIDs(gen func() string) Option {
	return func(p *Pipeline) { p.newRunID = gen }
}

// WithConcurrency bounds RunBatch.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithSettle sets how long Watch waits after the last write before reading.
func WithSettle(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.settle = d
		}
	}
}

// DefaultConcurrency bounds RunBatch when no option is given.
const DefaultConcurrency = 4

// DefaultSettle is the quiet period Watch waits for.
const DefaultSettle = 500 * time.Millisecond

// New creates a pipeline. routers may be nil for pipelines that only Watch.
func New(routers RouterFactory, opts ...Option) *Pipeline {
	p := &Pipeline{
		routers:     routers,
		guard:       template.NewGuard(),
		inspector:   inspect.NewPDFInspector(),
		now:         time.Now,
		newRunID:    uuid.NewString,
		concurrency: DefaultConcurrency,
		settle:      DefaultSettle,
		logger:      slog.Default().With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one request. A non-nil error means the run could not be
// carried out (bad request, unwritable request log, ledger failure); guard,
// render and preflight failures are reported through Result.Status.
func (p *Pipeline) Run(ctx context.Context, req Request) (res *Result, err error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	if p.routers == nil {
		return nil, errors.New("pipeline: no router factory configured")
	}
	pl, err := p.loadPayload(req)
	if err != nil {
		return nil, err
	}
	digest, err := pl.Digest()
	if err != nil {
		return nil, fmt.Errorf("digest payload: %w", err)
	}

	paths := PathsFor(req.OutputPath, req.RequestLogPath)
	res = &Result{RunID: p.newRunID(), PayloadDigest: digest, RequestLogPath: paths.RequestLog}
	logger := p.logger.With("run_id", res.RunID, "mode", req.Mode)

	ctx, done := p.obs.TrackOperation(ctx, "pipeline.run", observability.RunOperation(res.RunID, digest, string(req.Mode))...)
	defer func() { done(err) }()

	guardErr := p.verifyTemplate(ctx, req, res)

	var (
		art       *router.Artifact
		renderErr error
		report    *preflight.Report
		inspErr   error
	)
	if guardErr == nil {
		r, err := p.routers(req, paths)
		if err != nil {
			return nil, fmt.Errorf("build router: %w", err)
		}
		art, renderErr = p.render(ctx, r, req.Mode, pl, res)
		if errors.Is(renderErr, template.ErrGuard) {
			guardErr, renderErr = renderErr, nil
		}
	}
	if guardErr == nil && renderErr == nil && art != nil {
		report, inspErr = p.preflight(ctx, art.Path, req.Rules, res)
	}

	res.Status = delivery.Resolve(guardErr, res.Trace, renderErr, report)
	if f, ok := res.Status.(delivery.Fail); ok && f.Reason == delivery.ReasonPreflightNotRun && inspErr != nil {
		f.Err = fmt.Errorf("preflight not run on final artifact: %w", inspErr)
		res.Status = f
	}

	if _, ok := res.Status.(delivery.Pass); ok {
		if err := p.storeArtifact(ctx, art.Path, res); err != nil {
			return res, err
		}
	}

	if req.ReportPath != "" && report != nil {
		if err := report.WriteFile(req.ReportPath); err != nil {
			return res, fmt.Errorf("write preflight report: %w", err)
		}
	}
	if err := p.writeRequestLog(req, paths, res); err != nil {
		return res, err
	}
	if err := p.record(ctx, string(req.Mode), res); err != nil {
		return res, err
	}

	p.obs.RecordDelivery(ctx, res.Status.Name())
	logger.InfoContext(ctx, "run finished",
		"status", res.Status.Name(),
		"payload_digest", digest,
		"request_log", paths.RequestLog,
	)
	return res, nil
}

func (p *Pipeline) loadPayload(req Request) (payload.Payload, error) {
	if req.Payload != nil {
		pl, err := payload.New(*req.Payload)
		if err != nil {
			return payload.Payload{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return pl, nil
	}
	pl, err := payload.Load(req.PayloadPath, req.Format)
	if err != nil {
		return payload.Payload{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return pl, nil
}

// verifyTemplate runs the keyword check and, when requested, the canonical
// file check. The canonical report is kept even when it fails.
func (p *Pipeline) verifyTemplate(ctx context.Context, req Request, res *Result) (err error) {
	_, done := p.obs.TrackOperation(ctx, "pipeline.guard")
	defer func() { done(err) }()

	if err := p.guard.Verify(req.Descriptor, req.DeclaredTemplate, nil); err != nil {
		return err
	}
	if !req.VerifyCanonical {
		return nil
	}
	report, err := p.guard.VerifyCanonical(req.Descriptor)
	res.TemplateReport = report
	return err
}

func (p *Pipeline) render(ctx context.Context, r *router.Router, mode router.Mode, pl payload.Payload, res *Result) (*router.Artifact, error) {
	ctx, done := p.obs.TrackOperation(ctx, "pipeline.render", observability.AttrRenderMode.String(string(mode)))
	trace, art, err := r.Render(ctx, pl, mode)
	done(err)
	res.Trace = trace
	return art, err
}

// preflight inspects the artifact and evaluates the rule set against it.
func (p *Pipeline) preflight(ctx context.Context, path string, rs *rules.RuleSet, res *Result) (*preflight.Report, error) {
	ctx, done := p.obs.TrackOperation(ctx, "pipeline.inspect")
	facts, err := p.inspector.Inspect(ctx, path)
	done(err)
	if err != nil {
		p.logger.WarnContext(ctx, "inspection failed", "path", path, "error", err)
		return nil, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // path produced by the router
	if err == nil {
		res.ArtifactDigest = artifacts.Digest(data)
	}

	report := preflight.Evaluate(facts, rs)
	for _, g := range report.Gates() {
		p.obs.RecordGate(ctx, g.Name, string(g.Status))
	}
	observability.AddSpanEvent(ctx, "preflight.evaluated", observability.AttrGateStatus.String(string(report.Status())))
	res.Preflight = report
	return report, nil
}

func (p *Pipeline) storeArtifact(ctx context.Context, path string, res *Result) error {
	if p.store == nil {
		return nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path produced by the router
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	digest, err := p.store.Put(ctx, data)
	if err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	res.ArtifactDigest = digest
	res.ArtifactLocation = p.store.Location(digest)
	return nil
}

func (p *Pipeline) record(ctx context.Context, mode string, res *Result) error {
	if p.recorder == nil {
		return nil
	}
	run := ledger.Run{
		RunID:          res.RunID,
		PayloadDigest:  res.PayloadDigest,
		Mode:           mode,
		Status:         res.Status.Name(),
		ArtifactDigest: res.ArtifactDigest,
		CreatedAt:      p.now().UTC(),
	}
	if res.Trace != nil {
		run.BackendUsed = string(res.Trace.BackendUsed())
	}
	switch s := res.Status.(type) {
	case delivery.Pass:
		run.ArtifactPath = s.ArtifactPath
	case delivery.Fail:
		run.Reason = string(s.Reason)
		for _, g := range s.FailedGates {
			run.FailedGates = append(run.FailedGates, g.Name)
		}
	}
	if err := p.recorder.Record(ctx, run); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}
