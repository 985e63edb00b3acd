package designtool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Mindburn-Labs/briefgate/pkg/router"
)

// PreviewURL is where the plugin's development preview is served.
const PreviewURL = "http://localhost:8080"

// JobFileRuntime hands the job to a human operator through files: the
// runtime job JSON and a markdown handoff sit next to each other, and the
// export counts as done once the operator saves the PDF to ExpectedPath.
type JobFileRuntime struct {
	JobPath     string
	HandoffPath string
	// Title is reported as the active document title when non-empty.
	Title string
}

var _ Runtime = (*JobFileRuntime)(nil)

// NewJobFileRuntime derives the handoff path from the job path.
func NewJobFileRuntime(jobPath string) *JobFileRuntime {
	return &JobFileRuntime{
		JobPath:     jobPath,
		HandoffPath: strings.TrimSuffix(jobPath, filepath.Ext(jobPath)) + ".handoff.md",
	}
}

func (r *JobFileRuntime) ActiveTitle(context.Context) (string, bool, error) {
	if r.Title == "" {
		return "", false, nil
	}
	return r.Title, true, nil
}

// Hydrate writes the runtime job JSON.
func (r *JobFileRuntime) Hydrate(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("encode runtime job: %w", err)
	}
	return writeFile(r.JobPath, append(data, '\n'))
}

// RequestExport reports done when the expected PDF exists and is non-empty,
// otherwise writes the handoff and reports pending.
func (r *JobFileRuntime) RequestExport(ctx context.Context, req ExportRequest) (ExportResponse, error) {
	if err := ctx.Err(); err != nil {
		return ExportResponse{}, err
	}
	if req.ExpectedPath == "" {
		return ExportResponse{}, errors.New("no expected output path for export")
	}
	if info, err := os.Stat(req.ExpectedPath); err == nil && info.Size() > 0 {
		return ExportResponse{Status: ExportDone, Path: req.ExpectedPath}, nil
	}

	text := HandoffMarkdown(r.JobPath, req.ExpectedPath)
	if err := writeFile(r.HandoffPath, []byte(text)); err != nil {
		return ExportResponse{}, err
	}
	return ExportResponse{
		Status:  ExportPending,
		Message: text,
		Handoff: &router.Handoff{
			Instructions: text,
			JobPath:      r.JobPath,
			ExpectedPath: req.ExpectedPath,
		},
	}, nil
}

// HandoffMarkdown renders the operator steps for a one-click export.
func HandoffMarkdown(jobPath, expectedPDF string) string {
	lines := []string{
		"# One-Click Export Handoff",
		"",
		fmt.Sprintf("Runtime job JSON: `%s`", jobPath),
		fmt.Sprintf("Expected PDF output: `%s`", expectedPDF),
		"",
		fmt.Sprintf("1. Start the design app preview (development URL `%s`).", PreviewURL),
		"2. Open the C-suite template design in the editor.",
		"3. Paste the runtime job JSON into the app panel.",
		"4. Click `Hydrate Template and Export PDF`.",
		"5. Save the exported PDF to the expected output path.",
		"6. Re-run `briefgate render` or `briefgate watch` once the PDF exists.",
		"",
	}
	return strings.Join(lines, "\n")
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
