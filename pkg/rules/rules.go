// Package rules loads the declarative preflight rule set.
//
// A RuleSet is immutable once constructed: its fields are unexported and every
// accessor returns a copy, so a loaded rule set can be shared by concurrent runs.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// SupportedSchema is the range of rule file versions this build understands.
const SupportedSchema = ">= 1.0.0, < 2.0.0"

// DefaultMinPages applies when a rule file omits min_pages.
const DefaultMinPages = 1

var (
	ErrInvalidRules       = errors.New("rules: invalid rule set")
	ErrUnsupportedVersion = errors.New("rules: unsupported schema_version")
)

// CustomGate is an extra named check expressed in CEL.
type CustomGate struct {
	Name string `json:"name"`
	Expr string `json:"expr"`
}

// File is the on-disk JSON shape of a rule set.
type File struct {
	SchemaVersion             string       `json:"schema_version,omitempty"`
	RequiredPhrases           []string     `json:"required_phrases"`
	RequiredCitations         []string     `json:"required_citations"`
	ForbiddenMetadataKeys     []string     `json:"forbidden_metadata_keys"`
	ForbiddenMetadataPatterns []string     `json:"forbidden_metadata_patterns"`
	ProhibitedPatterns        []string     `json:"prohibited_patterns,omitempty"`
	Redaction                 Redaction    `json:"redaction"`
	MinPages                  *int         `json:"min_pages,omitempty"`
	CustomGates               []CustomGate `json:"custom_gates,omitempty"`
}

// Redaction groups the redaction-related patterns.
type Redaction struct {
	PendingPatterns []string `json:"pending_patterns"`
	SensitiveTerms  []string `json:"sensitive_terms,omitempty"`
}

// RuleSet is the validated, read-only form of File.
type RuleSet struct {
	version            *semver.Version
	requiredPhrases    []string
	requiredCitations  []string
	forbiddenKeys      []string
	forbiddenPatterns  []string
	prohibitedPatterns []string
	pendingPatterns    []string
	sensitiveTerms     []string
	minPages           int
	customGates        []CustomGate
}

// Load reads and validates a rule file.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied rules path
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Parse(data)
}

// Parse decodes a rule file body.
func Parse(data []byte) (*RuleSet, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	return New(f)
}

// New validates f and freezes it into a RuleSet.
func New(f File) (*RuleSet, error) {
	raw := f.SchemaVersion
	if raw == "" {
		raw = "1.0.0"
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnsupportedVersion, raw, err)
	}
	c, err := semver.NewConstraint(SupportedSchema)
	if err != nil {
		return nil, err
	}
	if !c.Check(v) {
		return nil, fmt.Errorf("%w: %s not in %s", ErrUnsupportedVersion, v, SupportedSchema)
	}

	minPages := DefaultMinPages
	if f.MinPages != nil {
		minPages = *f.MinPages
	}
	if minPages < 0 {
		return nil, fmt.Errorf("%w: min_pages must be >= 0, got %d", ErrInvalidRules, minPages)
	}

	seen := make(map[string]bool, len(f.CustomGates))
	for i, g := range f.CustomGates {
		if strings.TrimSpace(g.Name) == "" || strings.TrimSpace(g.Expr) == "" {
			return nil, fmt.Errorf("%w: custom_gates[%d] requires name and expr", ErrInvalidRules, i)
		}
		if seen[g.Name] {
			return nil, fmt.Errorf("%w: duplicate custom gate %q", ErrInvalidRules, g.Name)
		}
		seen[g.Name] = true
	}

	return &RuleSet{
		version:            v,
		requiredPhrases:    clean(f.RequiredPhrases),
		requiredCitations:  clean(f.RequiredCitations),
		forbiddenKeys:      clean(f.ForbiddenMetadataKeys),
		forbiddenPatterns:  clean(f.ForbiddenMetadataPatterns),
		prohibitedPatterns: clean(f.ProhibitedPatterns),
		pendingPatterns:    clean(f.Redaction.PendingPatterns),
		sensitiveTerms:     clean(f.Redaction.SensitiveTerms),
		minPages:           minPages,
		customGates:        append([]CustomGate(nil), f.CustomGates...),
	}, nil
}

// clean drops empty entries and exact duplicates while keeping file order.
func clean(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (r *RuleSet) Version() string { return r.version.String() }
func (r *RuleSet) RequiredPhrases() []string { return copyOf(r.requiredPhrases) }
func (r *RuleSet) RequiredCitations() []string { return copyOf(r.requiredCitations) }
func (r *RuleSet) ForbiddenMetadataKeys() []string { return copyOf(r.forbiddenKeys) }
func (r *RuleSet) ForbiddenMetadataPatterns() []string { return copyOf(r.forbiddenPatterns) }
func (r *RuleSet) ProhibitedPatterns() []string { return copyOf(r.prohibitedPatterns) }
func (r *RuleSet) RedactionPendingPatterns() []string { return copyOf(r.pendingPatterns) }
func (r *RuleSet) SensitiveTerms() []string { return copyOf(r.sensitiveTerms) }
func (r *RuleSet) MinPages() int { return r.minPages }

// CustomGates returns the declared CEL gates in file order.
func (r *RuleSet) CustomGates() []CustomGate {
	return append([]CustomGate(nil), r.customGates...)
}

// File returns the rule set in its on-disk shape.
func (r *RuleSet) File() File {
	mp := r.minPages
	return File{
		SchemaVersion:             r.Version(),
		RequiredPhrases:           r.RequiredPhrases(),
		RequiredCitations:         r.RequiredCitations(),
		ForbiddenMetadataKeys:     r.ForbiddenMetadataKeys(),
		ForbiddenMetadataPatterns: r.ForbiddenMetadataPatterns(),
		ProhibitedPatterns:        r.ProhibitedPatterns(),
		Redaction: Redaction{
			PendingPatterns: r.RedactionPendingPatterns(),
			SensitiveTerms:  r.SensitiveTerms(),
		},
		MinPages:    &mp,
		CustomGates: r.CustomGates(),
	}
}

func copyOf(in []string) []string {
	return append([]string(nil), in...)
}
