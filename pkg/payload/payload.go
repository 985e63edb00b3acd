// Package payload defines the normalized brief payload that flows through the
// render pipeline, together with its loading, normalization and canonical
// digest.
package payload

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingField is matched by MissingFieldError via errors.Is.
	ErrMissingField = errors.New("payload: missing required field")
	// ErrInvalidRisk reports a risk row with an empty column.
	ErrInvalidRisk = errors.New("payload: invalid risk row")
	// ErrDuplicateCitation reports two citations sharing an id (case-insensitive).
	ErrDuplicateCitation = errors.New("payload: duplicate citation id")
)

// RiskItem is one row of the risk matrix. Every column is required.
type RiskItem struct {
	Risk       string `json:"risk" yaml:"risk"`
	Impact     string `json:"impact" yaml:"impact"`
	Mitigation string `json:"mitigation" yaml:"mitigation"`
	Owner      string `json:"owner" yaml:"owner"`
}

// Citation is a source reference. IDs are unique case-insensitively.
type Citation struct {
	ID     string `json:"id" yaml:"id"`
	Source string `json:"source" yaml:"source"`
	Note   string `json:"note" yaml:"note"`
}

// Annex is an optional appendix section.
type Annex struct {
	Title   string   `json:"title" yaml:"title"`
	Summary string   `json:"summary" yaml:"summary"`
	Items   []string `json:"items" yaml:"items"`
}

// Payload is the canonical content of one brief.
//
// A Payload is treated as immutable once constructed by New or Load; it is
// passed by value through the pipeline and none of the stages write to it.
type Payload struct {
	Title               string     `json:"title" yaml:"title"`
	ExecutiveSummary    []string   `json:"executive_summary" yaml:"executive_summary"`
	StrategicPriorities []string   `json:"strategic_priorities" yaml:"strategic_priorities"`
	RiskMatrix          []RiskItem `json:"risk_matrix" yaml:"risk_matrix"`
	Citations           []Citation `json:"citations" yaml:"citations"`
	Annexes             []Annex    `json:"annexes,omitempty" yaml:"annexes,omitempty"`
}

// MissingFieldError lists every required top-level field that is absent or empty.
type MissingFieldError struct {
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("payload: missing required field(s): %s", strings.Join(e.Fields, ", "))
}

// Is reports ErrMissingField.
func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// New validates p and returns it. It is the only way to obtain a Payload that
// the pipeline accepts; Load calls it after normalization.
func New(p Payload) (Payload, error) {
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Validate checks the structural invariants of the payload.
func (p Payload) Validate() error {
	var missing []string
	if strings.TrimSpace(p.Title) == "" {
		missing = append(missing, "title")
	}
	if len(p.ExecutiveSummary) == 0 {
		missing = append(missing, "executive_summary")
	}
	if len(p.StrategicPriorities) == 0 {
		missing = append(missing, "strategic_priorities")
	}
	if len(p.RiskMatrix) == 0 {
		missing = append(missing, "risk_matrix")
	}
	if len(p.Citations) == 0 {
		missing = append(missing, "citations")
	}
	if len(missing) > 0 {
		return &MissingFieldError{Fields: missing}
	}
	if err := nonBlank("executive_summary", p.ExecutiveSummary); err != nil {
		return err
	}
	if err := nonBlank("strategic_priorities", p.StrategicPriorities); err != nil {
		return err
	}

	for i, r := range p.RiskMatrix {
		var empty []string
		if strings.TrimSpace(r.Risk) == "" {
			empty = append(empty, "risk")
		}
		if strings.TrimSpace(r.Impact) == "" {
			empty = append(empty, "impact")
		}
		if strings.TrimSpace(r.Mitigation) == "" {
			empty = append(empty, "mitigation")
		}
		if strings.TrimSpace(r.Owner) == "" {
			empty = append(empty, "owner")
		}
		if len(empty) > 0 {
			return fmt.Errorf("%w: risk_matrix[%d] missing %s", ErrInvalidRisk, i, strings.Join(empty, ", "))
		}
	}

	seen := make(map[string]struct{}, len(p.Citations))
	for i, c := range p.Citations {
		if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.Source) == "" {
			return fmt.Errorf("%w: citations[%d] requires id and source", ErrMissingField, i)
		}
		key := strings.ToLower(strings.TrimSpace(c.ID))
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateCitation, c.ID)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func nonBlank(field string, items []string) error {
	for i, v := range items {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s[%d] is empty", ErrMissingField, field, i)
		}
	}
	return nil
}

// CitationIDs returns the citation identifiers in payload order.
func (p Payload) CitationIDs() []string {
	ids := make([]string, 0, len(p.Citations))
	for _, c := range p.Citations {
		ids = append(ids, c.ID)
	}
	return ids
}
