package preflight

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Mindburn-Labs/briefgate/pkg/inspect"
	"github.com/Mindburn-Labs/briefgate/pkg/rules"
)

// PrivilegeGate requires every phrase verbatim, case-sensitive.
type PrivilegeGate struct{}

func (PrivilegeGate) Name() string { return GatePrivilege }

func (PrivilegeGate) Evaluate(f inspect.Facts, rs *rules.RuleSet) GateResult {
	required := rs.RequiredPhrases()
	var missing []string
	for _, p := range required {
		if !strings.Contains(f.VisibleText, p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return fail(GatePrivilege, "missing: "+strings.Join(missing, ", "))
	}
	return pass(GatePrivilege, fmt.Sprintf("all %d required phrase(s) present", len(required)))
}

// CitationGate requires every citation id, case-insensitively, either as a
// standalone token in the visible text or in the structured citation list.
type CitationGate struct{}

func (CitationGate) Name() string { return GateCitation }

func (CitationGate) Evaluate(f inspect.Facts, rs *rules.RuleSet) GateResult {
	required := rs.RequiredCitations()
	listed := make(map[string]bool, len(f.Citations))
	for _, c := range f.Citations {
		listed[strings.ToLower(c)] = true
	}

	var missing []string
	for _, id := range required {
		if listed[strings.ToLower(id)] || citedInText(f.VisibleText, id) {
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) > 0 {
		return fail(GateCitation, "missing: "+strings.Join(missing, ", "))
	}
	return pass(GateCitation, fmt.Sprintf("all %d required citation(s) present", len(required)))
}

// citedInText matches id as a whole identifier so that SR-1 is not satisfied
// by SR-10.
func citedInText(text, id string) bool {
	re := regexp.MustCompile(`(?i)(?:^|[^A-Za-z0-9])` + regexp.QuoteMeta(id) + `(?:$|[^A-Za-z0-9])`)
	return re.MatchString(text)
}

// RedactionGate rejects pending redaction markers and leaked sensitive terms.
// Both are case-insensitive literal substrings.
type RedactionGate struct{}

func (RedactionGate) Name() string { return GateRedaction }

func (RedactionGate) Evaluate(f inspect.Facts, rs *rules.RuleSet) GateResult {
	lower := strings.ToLower(f.VisibleText)
	pending := hits(lower, rs.RedactionPendingPatterns())
	sensitive := hits(lower, rs.SensitiveTerms())

	var parts []string
	if len(pending) > 0 {
		parts = append(parts, "pending: "+strings.Join(pending, ", "))
	}
	if len(sensitive) > 0 {
		parts = append(parts, "sensitive: "+strings.Join(sensitive, ", "))
	}
	if len(parts) > 0 {
		return fail(GateRedaction, strings.Join(parts, "; "))
	}
	return pass(GateRedaction, "no pending redaction markers")
}

func hits(lowerText string, patterns []string) []string {
	var out []string
	for _, p := range patterns {
		if strings.Contains(lowerText, strings.ToLower(p)) {
			out = append(out, p)
		}
	}
	return out
}

// MetadataGate rejects forbidden keys and values matching forbidden patterns.
//
// Keys compare case-insensitively. A key whose value is empty or one of the
// null spellings PDF producers emit counts as absent. A pattern prefixed
// with "re:" is a regular expression; any other pattern is a
// case-insensitive literal substring.
type MetadataGate struct{}

func (MetadataGate) Name() string { return GateMetadata }

func (MetadataGate) Evaluate(f inspect.Facts, rs *rules.RuleSet) GateResult {
	md := make(map[string]string, len(f.Metadata))
	for k, v := range f.Metadata {
		md[strings.ToLower(k)] = effectiveValue(v)
	}

	var offending []string
	for _, key := range rs.ForbiddenMetadataKeys() {
		if md[strings.ToLower(key)] != "" {
			offending = append(offending, "key="+strings.ToLower(key))
		}
	}

	matchers := make([]metadataMatcher, 0)
	for _, p := range rs.ForbiddenMetadataPatterns() {
		m, err := compileMatcher(p)
		if err != nil {
			offending = append(offending, fmt.Sprintf("invalid pattern %q: %v", p, err))
			continue
		}
		matchers = append(matchers, m)
	}
	keys := inspect.Facts{Metadata: md}.MetadataKeys()
	for _, k := range keys {
		v := md[k]
		if v == "" {
			continue
		}
		for _, m := range matchers {
			if m.match(v) {
				offending = append(offending, fmt.Sprintf("%s~%s", k, m.raw))
			}
		}
	}

	if len(offending) > 0 {
		return fail(GateMetadata, "forbidden: "+strings.Join(offending, ", "))
	}
	return pass(GateMetadata, fmt.Sprintf("%d metadata key(s) clean", len(keys)))
}

func effectiveValue(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "null", "none", "nullobject":
		return ""
	}
	return v
}

type metadataMatcher struct {
	raw     string
	literal string
	re      *regexp.Regexp
}

func compileMatcher(p string) (metadataMatcher, error) {
	if expr, ok := strings.CutPrefix(p, "re:"); ok {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return metadataMatcher{}, err
		}
		return metadataMatcher{raw: p, re: re}, nil
	}
	return metadataMatcher{raw: p, literal: strings.ToLower(p)}, nil
}

func (m metadataMatcher) match(v string) bool {
	if m.re != nil {
		return m.re.MatchString(v)
	}
	return strings.Contains(strings.ToLower(v), m.literal)
}

// MinPagesGate requires page_count >= min_pages.
type MinPagesGate struct{}

func (MinPagesGate) Name() string { return GateMinPages }

func (MinPagesGate) Evaluate(f inspect.Facts, rs *rules.RuleSet) GateResult {
	evidence := fmt.Sprintf("pages=%d min=%d", f.PageCount, rs.MinPages())
	if f.PageCount < rs.MinPages() {
		return fail(GateMinPages, evidence)
	}
	return pass(GateMinPages, evidence)
}

// ProhibitedGate rejects template placeholder text left in the output. It is
// only registered when the rule set declares prohibited_patterns.
type ProhibitedGate struct{}

func (ProhibitedGate) Name() string { return GateProhibited }

func (ProhibitedGate) Evaluate(f inspect.Facts, rs *rules.RuleSet) GateResult {
	found := hits(strings.ToLower(f.VisibleText), rs.ProhibitedPatterns())
	if len(found) > 0 {
		return fail(GateProhibited, "found: "+strings.Join(found, ", "))
	}
	return pass(GateProhibited, "no placeholder text")
}
