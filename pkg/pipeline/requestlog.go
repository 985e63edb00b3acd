package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Mindburn-Labs/briefgate/pkg/delivery"
	"github.com/Mindburn-Labs/briefgate/pkg/preflight"
	"github.com/Mindburn-Labs/briefgate/pkg/router"
	"github.com/Mindburn-Labs/briefgate/pkg/template"
)

// RequestLog is the JSON audit record written next to every output.
type RequestLog struct {
	TimestampUTC  string                    `json:"timestamp_utc"`
	RunID         string                    `json:"run_id"`
	Payload       string                    `json:"payload,omitempty"`
	PayloadDigest string                    `json:"payload_digest"`
	Output        string                    `json:"output"`
	Mode          router.Mode               `json:"mode"`
	Template      *template.CanonicalReport `json:"template,omitempty"`
	Trace         *router.Trace             `json:"trace,omitempty"`
	Preflight     *preflight.Report         `json:"preflight,omitempty"`
	Artifact      *ArtifactRef              `json:"artifact,omitempty"`
	Result        json.RawMessage           `json:"result"`
	// Side files a human operator may need.
	JobPath    string `json:"job_path,omitempty"`
	PromptPath string `json:"prompt_path,omitempty"`
}

// ArtifactRef points at a stored artifact.
type ArtifactRef struct {
	Digest   string `json:"digest"`
	Location string `json:"location,omitempty"`
}

func (p *Pipeline) writeRequestLog(req Request, paths Paths, res *Result) error {
	entry := RequestLog{
		TimestampUTC:  p.now().UTC().Format(time.RFC3339),
		RunID:         res.RunID,
		Payload:       absOrSelf(req.PayloadPath),
		PayloadDigest: res.PayloadDigest,
		Output:        absOrSelf(paths.Output),
		Mode:          req.Mode,
		Template:      res.TemplateReport,
		Trace:         res.Trace,
		Preflight:     res.Preflight,
		Result:        delivery.Summary(res.Status),
	}
	if res.ArtifactDigest != "" {
		entry.Artifact = &ArtifactRef{Digest: res.ArtifactDigest, Location: res.ArtifactLocation}
	}
	if _, err := os.Stat(paths.Job); err == nil {
		entry.JobPath = paths.Job
	}
	if _, err := os.Stat(paths.Prompt); err == nil {
		entry.PromptPath = paths.Prompt
	}
	return WriteJSONAtomic(paths.RequestLog, entry)
}

func absOrSelf(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// WriteJSONAtomic writes v as indented JSON through a temp file and rename.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
