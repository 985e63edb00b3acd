// Package designtool is the primary rendering backend: it hydrates the
// approved design template through the design-tool plugin runtime and
// requests a PDF export that a human confirms with one click.
package designtool

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Mindburn-Labs/briefgate/pkg/payload"
	"github.com/Mindburn-Labs/briefgate/pkg/template"
)

const (
	JobVersion      = "1.0.0"
	ProfileStrict   = "strict-legal"
	ExportMode      = "prep-and-one-click-export"
	AcceptedPDFType = "pdf_standard"
	DefaultPolicy   = "local-folder-only"
)

var requiredBindings = []string{"title", "executive_summary", "strategic_priorities", "risk_matrix", "citations"}

// DefaultBindings maps payload sections to template placeholder tokens.
func DefaultBindings() map[string]string {
	return map[string]string{
		"title":                "{{TITLE}}",
		"executive_summary":    "{{EXECUTIVE_SUMMARY}}",
		"strategic_priorities": "{{STRATEGIC_PRIORITIES}}",
		"risk_matrix":          "{{RISK_MATRIX}}",
		"citations":            "{{CITATIONS}}",
		"annexes":              "{{ANNEXES}}",
	}
}

// LoadBindings reads a placeholder binding JSON object.
func LoadBindings(path string) (map[string]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied binding map
	if err != nil {
		return nil, fmt.Errorf("read placeholder bindings: %w", err)
	}
	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse placeholder bindings %s: %w", path, err)
	}
	return out, nil
}

type JobTemplate struct {
	TemplateName    string `json:"template_name"`
	TemplatePath    string `json:"template_path"`
	Policy          string `json:"policy"`
	RequiredKeyword string `json:"required_keyword"`
}

type Section struct {
	Required    bool   `json:"required"`
	ContentType string `json:"content_type"`
}

type RenderingInstructions struct {
	Mode                  string   `json:"mode"`
	AcceptedFileTypes     []string `json:"accepted_file_types"`
	MustIncludePhrase     string   `json:"must_include_phrase"`
	MustPreserveCitations bool     `json:"must_preserve_citations"`
}

// Job is the runtime job the plugin hydrates the template from.
type Job struct {
	Version               string                `json:"version"`
	GeneratedAtUTC        string                `json:"generated_at_utc"`
	RequestType           string                `json:"request_type"`
	Profile               string                `json:"profile"`
	Template              JobTemplate           `json:"template"`
	SectionMap            map[string]Section    `json:"section_map"`
	PlaceholderBindings   map[string]string     `json:"placeholder_bindings"`
	Payload               payload.Payload       `json:"payload"`
	RenderingInstructions RenderingInstructions `json:"rendering_instructions"`
}

func sectionMap() map[string]Section {
	return map[string]Section{
		"title":                {Required: true, ContentType: "text"},
		"executive_summary":    {Required: true, ContentType: "bullet_list"},
		"strategic_priorities": {Required: true, ContentType: "numbered_list"},
		"risk_matrix":          {Required: true, ContentType: "structured_rows"},
		"citations":            {Required: true, ContentType: "citation_list"},
		"annexes":              {Required: false, ContentType: "optional_annex"},
	}
}

// BuildJob assembles the runtime job. Every required section must have a
// placeholder binding.
func BuildJob(p payload.Payload, requestType string, d template.Descriptor, policy string, bindings map[string]string, now time.Time) (Job, error) {
	var missing []string
	for _, f := range requiredBindings {
		if _, ok := bindings[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Job{}, fmt.Errorf("designtool: placeholder bindings missing %v", missing)
	}
	if policy == "" {
		policy = DefaultPolicy
	}
	name := d.TemplateName
	if name == "" {
		name = template.DefaultTemplateName
	}
	b := make(map[string]string, len(bindings))
	for k, v := range bindings {
		b[k] = v
	}

	return Job{
		Version:        JobVersion,
		GeneratedAtUTC: now.UTC().Format(time.RFC3339),
		RequestType:    requestType,
		Profile:        ProfileStrict,
		Template: JobTemplate{
			TemplateName:    name,
			TemplatePath:    d.CanonicalPath,
			Policy:          policy,
			RequiredKeyword: d.Keyword(),
		},
		SectionMap:          sectionMap(),
		PlaceholderBindings: b,
		Payload:             p,
		RenderingInstructions: RenderingInstructions{
			Mode:                  ExportMode,
			AcceptedFileTypes:     []string{AcceptedPDFType},
			MustIncludePhrase:     payload.PrivilegeBanner,
			MustPreserveCitations: true,
		},
	}, nil
}
