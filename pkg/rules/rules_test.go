package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const strictLegal = `{
  "required_phrases": ["PRIVILEGED & CONFIDENTIAL", "Attorney Work Product"],
  "required_citations": ["SR-1", "SR-2"],
  "forbidden_metadata_keys": ["author"],
  "forbidden_metadata_patterns": ["@firm.com"],
  "redaction": {"pending_patterns": ["[REDACT]", "TBD-REDACTION"]},
  "min_pages": 2
}`

func TestParseStrictLegal(t *testing.T) {
	rs, err := Parse([]byte(strictLegal))
	require.NoError(t, err)

	require.Equal(t, "1.0.0", rs.Version())
	require.Equal(t, []string{"PRIVILEGED & CONFIDENTIAL", "Attorney Work Product"}, rs.RequiredPhrases())
	require.Equal(t, []string{"SR-1", "SR-2"}, rs.RequiredCitations())
	require.Equal(t, []string{"[REDACT]", "TBD-REDACTION"}, rs.RedactionPendingPatterns())
	require.Equal(t, 2, rs.MinPages())
	require.Empty(t, rs.CustomGates())
}

func TestMinPagesDefaultsToOne(t *testing.T) {
	rs, err := Parse([]byte(`{"required_phrases": []}`))
	require.NoError(t, err)
	require.Equal(t, DefaultMinPages, rs.MinPages())
}

func TestNegativeMinPagesRejected(t *testing.T) {
	_, err := Parse([]byte(`{"min_pages": -1}`))
	require.ErrorIs(t, err, ErrInvalidRules)
}

func TestSchemaVersionGate(t *testing.T) {
	_, err := Parse([]byte(`{"schema_version": "1.4.2"}`))
	require.NoError(t, err)

	_, err = Parse([]byte(`{"schema_version": "2.0.0"}`))
	require.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = Parse([]byte(`{"schema_version": "not-a-version"}`))
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestAccessorsReturnCopies(t *testing.T) {
	rs, err := Parse([]byte(strictLegal))
	require.NoError(t, err)

	phrases := rs.RequiredPhrases()
	phrases[0] = "tampered"
	require.Equal(t, "PRIVILEGED & CONFIDENTIAL", rs.RequiredPhrases()[0])
}

func TestCustomGatesValidated(t *testing.T) {
	_, err := Parse([]byte(`{"custom_gates": [{"name": "x", "expr": ""}]}`))
	require.ErrorIs(t, err, ErrInvalidRules)

	_, err = Parse([]byte(`{"custom_gates": [{"name": "x", "expr": "true"}, {"name": "x", "expr": "true"}]}`))
	require.ErrorIs(t, err, ErrInvalidRules)
}

func TestLoadFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(strictLegal), 0o600))

	rs, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"author"}, rs.ForbiddenMetadataKeys())
	require.Equal(t, 2, *rs.File().MinPages)
}
