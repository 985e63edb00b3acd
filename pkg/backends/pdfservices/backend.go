package pdfservices

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/briefgate/pkg/payload"
	"github.com/Mindburn-Labs/briefgate/pkg/pdfdoc"
	"github.com/Mindburn-Labs/briefgate/pkg/router"
)

// UploadMediaType is the format the brief is uploaded in.
const UploadMediaType = "text/plain"

// Backend renders through the REST API and writes the PDF to OutputPath.
type Backend struct {
	client     *Client
	outputPath string
}

var _ router.Backend = (*Backend)(nil)

func NewBackend(c *Client, outputPath string) *Backend {
	return &Backend{client: c, outputPath: outputPath}
}

func (b *Backend) Kind() router.BackendKind { return router.Fallback }

func (b *Backend) AttemptRender(ctx context.Context, p payload.Payload) (router.Outcome, error) {
	data, err := b.client.CreatePDF(ctx, UploadMediaType, []byte(p.Text()))
	if err != nil {
		return router.Outcome{}, err
	}
	if err := writeAtomic(b.outputPath, data); err != nil {
		return router.Outcome{}, err
	}
	return router.Succeeded(b.outputPath), nil
}

// MockRenderer produces a local PDF without network access. Metadata becomes
// the document Info dictionary, which lets offline runs exercise the
// metadata gates.
type MockRenderer struct {
	OutputPath   string
	Metadata     map[string]string
	LinesPerPage int
}

var _ router.Backend = (*MockRenderer)(nil)

func (m *MockRenderer) Kind() router.BackendKind { return router.Fallback }

func (m *MockRenderer) AttemptRender(ctx context.Context, p payload.Payload) (router.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return router.Outcome{}, err
	}
	doc := pdfdoc.Document{Pages: pdfdoc.Paginate(p.Lines(), m.LinesPerPage), Info: m.Metadata}
	if err := doc.WriteFile(m.OutputPath); err != nil {
		return router.Outcome{}, err
	}
	return router.Succeeded(m.OutputPath), nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit pdf: %w", err)
	}
	return nil
}
