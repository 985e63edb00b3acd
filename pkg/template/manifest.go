package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manifest pins the canonical template by path and hash.
type Manifest struct {
	TemplateName string `json:"template_name,omitempty"`
	TemplatePath string `json:"template_path"`
	SHA256       string `json:"sha256"`
	Policy       string `json:"policy,omitempty"`
}

// LoadManifest reads a template manifest JSON file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied manifest
	if err != nil {
		return nil, fmt.Errorf("read template manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse template manifest %s: %w", path, err)
	}
	return &m, nil
}

// Descriptor builds the descriptor for templateName inside templateDir as
// pinned by the manifest. An empty templateName falls back to the manifest's
// name and then to DefaultTemplateName.
func (m *Manifest) Descriptor(templateDir, templateName, keyword string) Descriptor {
	name := templateName
	if name == "" {
		name = m.TemplateName
	}
	if name == "" {
		name = DefaultTemplateName
	}
	canonical := filepath.Join(templateDir, name)
	if templateDir == "" && m.TemplatePath != "" {
		canonical = m.TemplatePath
	}
	return Descriptor{
		TemplateName:    name,
		RequiredKeyword: keyword,
		CanonicalPath:   canonical,
		ExpectedHash:    strings.ToLower(strings.TrimSpace(m.SHA256)),
		ManifestPath:    strings.TrimSpace(m.TemplatePath),
	}
}
