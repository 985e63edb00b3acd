// Package connector builds the operator prompt for a connector-driven
// export. No backend is called; the result is handed to a person.
package connector

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Mindburn-Labs/briefgate/pkg/payload"
)

// Profile selects the quality rule stated in the prompt.
type Profile string

const (
	ProfileStrictLegal Profile = "strict-legal"
	ProfileStandard    Profile = "adobe-standard"
	ProfileFast        Profile = "fast"
)

var profileRules = map[Profile]string{
	ProfileStrictLegal: "Enforce all strict legal gates: privilege signals, citation integrity, redaction verification, metadata hygiene.",
	ProfileStandard:    "Enforce production quality and accessibility defaults.",
	ProfileFast:        "Prioritize speed while preserving required structure and citation IDs.",
}

// Profiles lists the accepted profile names.
func Profiles() []Profile {
	return []Profile{ProfileStrictLegal, ProfileStandard, ProfileFast}
}

func ParseProfile(s string) (Profile, error) {
	if s == "" {
		return ProfileStrictLegal, nil
	}
	p := Profile(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := profileRules[p]; !ok {
		return "", fmt.Errorf("unknown connector profile %q (want strict-legal, adobe-standard or fast)", s)
	}
	return p, nil
}

var promptTemplate = template.Must(template.New("prompt").Parse(`You are generating a C-suite legal PDF through a document app connector.

PROFILE: {{.Profile}}
RULE: {{.Rule}}

Generate one polished A4 PDF with professional legal tone and clear hierarchy.

Required sections and content:
1) Title: {{.Title}}
2) Executive Summary:
{{.Summary}}
3) Strategic Priorities:
{{.Priorities}}
4) Risk Matrix:
{{.Risks}}
5) Citation Register (must preserve IDs exactly):
{{.Citations}}
6) Annexes:
{{.Annexes}}

Mandatory quality controls:
- Print visible phrase: {{.Banner}} on cover/header.
- Keep all citation IDs verbatim (for example {{.ExampleIDs}}).
- Do not include unresolved placeholders like [REDACTED_PENDING], <REDACT_ME>, TODO_REDACT.
- Keep metadata minimal and avoid personal or draft metadata values.
- Preserve concise executive readability and courtroom-safe language.

Output requirements:
- Return exactly one final PDF artifact.
- Return a short QA checklist confirming privilege marker, citation completeness, and redaction gate status.
`))

// BuildPrompt renders the connector prompt for p. The payload must be valid.
func BuildPrompt(p payload.Payload, profile Profile) (string, error) {
	rule, ok := profileRules[profile]
	if !ok {
		return "", fmt.Errorf("unknown connector profile %q", profile)
	}
	if err := p.Validate(); err != nil {
		return "", err
	}

	var summary, priorities, risks, cites []string
	for _, s := range p.ExecutiveSummary {
		summary = append(summary, "- "+s)
	}
	for i, s := range p.StrategicPriorities {
		priorities = append(priorities, fmt.Sprintf("%d. %s", i+1, s))
	}
	for i, r := range p.RiskMatrix {
		risks = append(risks, fmt.Sprintf("%d. Risk: %s; Impact: %s; Mitigation: %s; Owner: %s.", i+1, r.Risk, r.Impact, r.Mitigation, r.Owner))
	}
	for _, c := range p.Citations {
		cites = append(cites, fmt.Sprintf("- [%s] %s :: %s", c.ID, c.Source, c.Note))
	}

	ids := p.CitationIDs()
	if len(ids) > 2 {
		ids = ids[:2]
	}

	var buf bytes.Buffer
	err := promptTemplate.Execute(&buf, map[string]string{
		"Profile":    string(profile),
		"Rule":       rule,
		"Title":      p.Title,
		"Summary":    strings.Join(summary, "\n"),
		"Priorities": strings.Join(priorities, "\n"),
		"Risks":      strings.Join(risks, "\n"),
		"Citations":  strings.Join(cites, "\n"),
		"Annexes":    annexLines(p.Annexes),
		"Banner":     payload.PrivilegeBanner,
		"ExampleIDs": strings.Join(ids, ", "),
	})
	if err != nil {
		return "", fmt.Errorf("render connector prompt: %w", err)
	}
	return buf.String(), nil
}

func annexLines(annexes []payload.Annex) string {
	if len(annexes) == 0 {
		return "- No annexes requested."
	}
	lines := make([]string, 0, len(annexes))
	for i, a := range annexes {
		items := "No items listed"
		if len(a.Items) > 0 {
			items = strings.Join(a.Items, "; ")
		}
		lines = append(lines, fmt.Sprintf("%d. %s: %s. Items: %s.", i+1, a.Title, a.Summary, items))
	}
	return strings.Join(lines, "\n")
}
