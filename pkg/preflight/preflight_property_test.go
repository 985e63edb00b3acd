//go:build property

package preflight

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/briefgate/pkg/inspect"
	"github.com/Mindburn-Labs/briefgate/pkg/rules"
)

// TestProperty_EvaluateDeterministic checks that identical inputs always
// produce byte-identical reports.
func TestProperty_EvaluateDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("evaluate is deterministic", prop.ForAll(
		func(text string, phrases []string, pages int) bool {
			rs, err := rules.New(rules.File{RequiredPhrases: phrases, RequiredCitations: phrases})
			if err != nil {
				return false
			}
			f := inspect.NewFacts(text, map[string]string{"author": text, "title": "x"}, pages)
			a, err1 := Evaluate(f, rs).JSON()
			b, err2 := Evaluate(f, rs).JSON()
			return err1 == nil && err2 == nil && string(a) == string(b)
		},
		gen.AlphaString(),
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}

// TestProperty_CompleteFactsPass checks that text containing every required
// phrase, no pending patterns and enough pages always passes.
func TestProperty_CompleteFactsPass(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("complete facts pass", prop.ForAll(
		func(phrases []string, extra int) bool {
			rs, err := rules.New(rules.File{
				RequiredPhrases: phrases,
				Redaction:       rules.Redaction{PendingPatterns: []string{"[REDACT]"}},
			})
			if err != nil {
				return false
			}
			f := inspect.NewFacts(strings.Join(phrases, " "), nil, rs.MinPages()+extra)
			return Evaluate(f, rs).Passed()
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}
