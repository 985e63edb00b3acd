package designtool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/briefgate/pkg/payload"
	"github.com/Mindburn-Labs/briefgate/pkg/router"
	"github.com/Mindburn-Labs/briefgate/pkg/template"
)

// ExportStatus is the discriminant of an export response.
type ExportStatus string

const (
	ExportDone    ExportStatus = "done"
	ExportPending ExportStatus = "pending"
	ExportFailed  ExportStatus = "failed"
)

// ExportRequest asks the runtime for a PDF export.
type ExportRequest struct {
	AcceptedFileTypes []string
	ExpectedPath      string
}

// ExportResponse is treated opaquely apart from Status.
type ExportResponse struct {
	Status  ExportStatus
	Path    string
	Message string
	Handoff *router.Handoff
}

// Runtime is the design-tool plugin surface.
type Runtime interface {
	// ActiveTitle returns the active document's title; ok is false when the
	// runtime cannot report one.
	ActiveTitle(ctx context.Context) (title string, ok bool, err error)
	Hydrate(ctx context.Context, job Job) error
	RequestExport(ctx context.Context, req ExportRequest) (ExportResponse, error)
}

// Config configures the primary backend.
type Config struct {
	Descriptor   template.Descriptor
	RequestType  string
	Policy       string
	Bindings     map[string]string
	ExpectedPath string
	Now          func() time.Time
}

// Backend implements router.Backend for the design tool.
type Backend struct {
	runtime Runtime
	guard   *template.Guard
	cfg     Config
	logger  *slog.Logger
}

var _ router.Backend = (*Backend)(nil)

func NewBackend(rt Runtime, cfg Config) *Backend {
	if cfg.Bindings == nil {
		cfg.Bindings = DefaultBindings()
	}
	if cfg.RequestType == "" {
		cfg.RequestType = "executive_report"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Descriptor.TemplateName == "" {
		cfg.Descriptor.TemplateName = template.DefaultTemplateName
	}
	return &Backend{
		runtime: rt,
		guard:   template.NewGuard(),
		cfg:     cfg,
		logger:  slog.Default().With("component", "designtool"),
	}
}

func (b *Backend) Kind() router.BackendKind { return router.Primary }

// AttemptRender verifies the template against the live document, hydrates it
// and requests the export. Nothing is hydrated when verification fails.
func (b *Backend) AttemptRender(ctx context.Context, p payload.Payload) (router.Outcome, error) {
	title, ok, err := b.runtime.ActiveTitle(ctx)
	if err != nil {
		return router.Outcome{}, fmt.Errorf("designtool: read active title: %w", err)
	}
	var titlePtr *string
	if ok {
		titlePtr = &title
	}
	if err := b.guard.Verify(b.cfg.Descriptor, b.cfg.Descriptor.TemplateName, titlePtr); err != nil {
		return router.Outcome{}, fmt.Errorf("designtool: %w", err)
	}

	job, err := BuildJob(p, b.cfg.RequestType, b.cfg.Descriptor, b.cfg.Policy, b.cfg.Bindings, b.cfg.Now())
	if err != nil {
		return router.Outcome{}, err
	}
	if err := b.runtime.Hydrate(ctx, job); err != nil {
		return router.Outcome{}, fmt.Errorf("designtool: hydrate: %w", err)
	}

	resp, err := b.runtime.RequestExport(ctx, ExportRequest{
		AcceptedFileTypes: []string{AcceptedPDFType},
		ExpectedPath:      b.cfg.ExpectedPath,
	})
	if err != nil {
		return router.Outcome{}, fmt.Errorf("designtool: export: %w", err)
	}

	b.logger.InfoContext(ctx, "export requested", "status", resp.Status)
	switch resp.Status {
	case ExportDone:
		path := resp.Path
		if path == "" {
			path = b.cfg.ExpectedPath
		}
		return router.Succeeded(path), nil
	case ExportPending:
		h := resp.Handoff
		if h == nil {
			h = &router.Handoff{Instructions: resp.Message, ExpectedPath: b.cfg.ExpectedPath}
		}
		return router.Pending(h), nil
	case ExportFailed:
		msg := resp.Message
		if msg == "" {
			msg = "export failed"
		}
		return router.Outcome{}, fmt.Errorf("designtool: %w: %s", router.ErrJobFailed, msg)
	default:
		return router.Outcome{}, errors.New("designtool: unknown export status " + string(resp.Status))
	}
}
