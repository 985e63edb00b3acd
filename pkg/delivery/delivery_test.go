package delivery

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/briefgate/pkg/inspect"
	"github.com/Mindburn-Labs/briefgate/pkg/payload"
	"github.com/Mindburn-Labs/briefgate/pkg/pdfdoc"
	"github.com/Mindburn-Labs/briefgate/pkg/preflight"
	"github.com/Mindburn-Labs/briefgate/pkg/router"
	"github.com/Mindburn-Labs/briefgate/pkg/rules"
	"github.com/Mindburn-Labs/briefgate/pkg/template"
)

// fileBackend renders the payload text into a local PDF.
type fileBackend struct {
	kind router.BackendKind
	path string
	info map[string]string
}

func (b fileBackend) Kind() router.BackendKind { return b.kind }

func (b fileBackend) AttemptRender(_ context.Context, p payload.Payload) (router.Outcome, error) {
	doc := pdfdoc.Document{Pages: pdfdoc.Paginate(p.Lines(), 40), Info: b.info}
	if err := doc.WriteFile(b.path); err != nil {
		return router.Outcome{}, err
	}
	return router.Succeeded(b.path), nil
}

type pendingBackend struct{}

func (pendingBackend) Kind() router.BackendKind { return router.Primary }

func (pendingBackend) AttemptRender(context.Context, payload.Payload) (router.Outcome, error) {
	return router.Pending(&router.Handoff{Instructions: "confirm export"}), nil
}

func legalPayload(t *testing.T, cites ...payload.Citation) payload.Payload {
	t.Helper()
	p, err := payload.New(payload.Payload{
		Title:               "Board Brief",
		ExecutiveSummary:    []string{"Exposure is contained."},
		StrategicPriorities: []string{"Close the audit."},
		RiskMatrix:          []payload.RiskItem{{Risk: "Litigation", Impact: "High", Mitigation: "Settle", Owner: "GC"}},
		Citations:           cites,
	})
	require.NoError(t, err)
	return p
}

func legalRules(t *testing.T) *rules.RuleSet {
	t.Helper()
	rs, err := rules.New(rules.File{
		RequiredPhrases:       []string{payload.PrivilegeBanner},
		RequiredCitations:     []string{"SR-1", "SR-2"},
		ForbiddenMetadataKeys: []string{"author"},
	})
	require.NoError(t, err)
	return rs
}

func run(t *testing.T, b router.Backend, p payload.Payload, rs *rules.RuleSet) Status {
	t.Helper()
	ctx := context.Background()
	trace, art, err := router.New(b, nil).Render(ctx, p, router.ModeAuto)
	if err != nil || art == nil {
		return Resolve(nil, trace, err, nil)
	}
	facts, err := inspect.NewPDFInspector().Inspect(ctx, art.Path)
	require.NoError(t, err)
	return Resolve(nil, trace, nil, preflight.Evaluate(facts, rs))
}

func TestEndToEndMissingCitation(t *testing.T) {
	p := legalPayload(t, payload.Citation{ID: "SR-1", Source: "Securities Act s.11"})
	b := fileBackend{kind: router.Primary, path: filepath.Join(t.TempDir(), "brief.pdf")}

	st := run(t, b, p, legalRules(t))
	fail, ok := st.(Fail)
	require.True(t, ok, "got %s", st.Name())
	require.Equal(t, ReasonPreflight, fail.Reason)
	require.Len(t, fail.FailedGates, 1)
	require.Equal(t, preflight.GateCitation, fail.FailedGates[0].Name)
	require.Equal(t, "missing: SR-2", fail.FailedGates[0].Evidence)
	require.Equal(t, preflight.StatusFail, fail.Report.Status())
	require.Equal(t, ExitFail, ExitCode(st))
}

func TestEndToEndForbiddenAuthor(t *testing.T) {
	p := legalPayload(t,
		payload.Citation{ID: "SR-1", Source: "Securities Act s.11"},
		payload.Citation{ID: "SR-2", Source: "Board minutes"},
	)
	b := fileBackend{
		kind: router.Primary,
		path: filepath.Join(t.TempDir(), "brief.pdf"),
		info: map[string]string{"Author": "jane@firm.com"},
	}

	st := run(t, b, p, legalRules(t))
	fail, ok := st.(Fail)
	require.True(t, ok, "got %s", st.Name())
	require.Len(t, fail.FailedGates, 1)
	require.Equal(t, preflight.GateMetadata, fail.FailedGates[0].Name)
}

func TestEndToEndPass(t *testing.T) {
	p := legalPayload(t,
		payload.Citation{ID: "SR-1", Source: "Securities Act s.11"},
		payload.Citation{ID: "SR-2", Source: "Board minutes"},
	)
	path := filepath.Join(t.TempDir(), "brief.pdf")

	st := run(t, fileBackend{kind: router.Primary, path: path}, p, legalRules(t))
	require.Equal(t, Pass{ArtifactPath: path, Report: st.(Pass).Report}, st)
	require.Equal(t, ExitPass, ExitCode(st))
}

func TestPendingPrimaryResolvesPending(t *testing.T) {
	st := run(t, pendingBackend{}, legalPayload(t), legalRules(t))
	pending, ok := st.(Pending)
	require.True(t, ok, "got %s", st.Name())
	require.Equal(t, "confirm export", pending.Handoff.Instructions)
	require.Equal(t, ExitPending, ExitCode(st))
}

func TestGuardFailureWins(t *testing.T) {
	guardErr := template.NewGuard().Verify(template.Descriptor{}, "Generic Template", nil)
	require.Error(t, guardErr)

	st := Resolve(guardErr, nil, errors.New("ignored"), nil)
	fail := st.(Fail)
	require.Equal(t, ReasonTemplateGuard, fail.Reason)
	require.True(t, template.IsKind(fail.Err, template.KindKeywordMismatch))
}

func TestRenderErrorFails(t *testing.T) {
	renderErr := &router.RenderError{Kind: router.KindAllBackendsFailed}
	st := Resolve(nil, nil, renderErr, nil)
	require.Equal(t, ReasonRender, st.(Fail).Reason)
	require.Equal(t, ExitFail, ExitCode(st))
}

func TestPendingIgnoresPreflight(t *testing.T) {
	trace, _, err := router.New(pendingBackend{}, nil).Render(context.Background(), legalPayload(t), router.ModeAuto)
	require.NoError(t, err)

	failing := preflight.Evaluate(inspect.NewFacts("", nil, 0), legalRules(t))
	st := Resolve(nil, trace, nil, failing)
	_, ok := st.(Pending)
	require.True(t, ok)
}

func TestCompletedWithoutReportFails(t *testing.T) {
	b := fileBackend{kind: router.Primary, path: filepath.Join(t.TempDir(), "brief.pdf")}
	trace, _, err := router.New(b, nil).Render(context.Background(), legalPayload(t), router.ModeAuto)
	require.NoError(t, err)

	st := Resolve(nil, trace, nil, nil)
	require.Equal(t, ReasonPreflightNotRun, st.(Fail).Reason)
}

func TestSummary(t *testing.T) {
	require.JSONEq(t, `{"status":"PENDING","handoff":{"backend":"primary","instructions":"x"}}`,
		string(Summary(Pending{Handoff: &router.Handoff{Backend: router.Primary, Instructions: "x"}})))
	require.JSONEq(t, `{"status":"FAIL","reason":"render_error","error":"boom"}`,
		string(Summary(Fail{Reason: ReasonRender, Err: errors.New("boom")})))
}
