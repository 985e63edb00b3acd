// Package preflight evaluates inspected artifact facts against a rule set.
//
// Gates run in a fixed order and never short-circuit: every registered gate
// contributes exactly one entry to the report, so a failing report always
// names every failed check together with the offending values.
package preflight

import (
	"github.com/Mindburn-Labs/briefgate/pkg/inspect"
	"github.com/Mindburn-Labs/briefgate/pkg/rules"
)

// Status is the outcome of a gate or a whole report.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

// Stable gate names. They appear in reports and must not change.
const (
	GatePrivilege  = "privilege_watermark"
	GateCitation   = "citation_integrity"
	GateRedaction  = "redaction_verification"
	GateMetadata   = "metadata_hygiene"
	GateMinPages   = "min_page_count"
	GateProhibited = "placeholder_rejection"
	customPrefix   = "custom:"
)

// Gate is one independent named check.
type Gate interface {
	// Name returns the stable identifier written to the report.
	Name() string

	// Evaluate checks facts against rs. It must be pure and must not panic;
	// failures are expressed through the returned result.
	Evaluate(facts inspect.Facts, rs *rules.RuleSet) GateResult
}

// GateResult is one report entry.
type GateResult struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Evidence string `json:"evidence"`
}

// Passed reports whether the gate passed.
func (g GateResult) Passed() bool { return g.Status == StatusPass }

func pass(name, evidence string) GateResult {
	return GateResult{Name: name, Status: StatusPass, Evidence: evidence}
}

func fail(name, evidence string) GateResult {
	return GateResult{Name: name, Status: StatusFail, Evidence: evidence}
}
