package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/briefgate/pkg/delivery"
	"github.com/Mindburn-Labs/briefgate/pkg/pdfdoc"
)

const briefJSON = `{
  "title": "Q3 Board Brief",
  "executive_summary": ["Exposure is contained."],
  "strategic_priorities": ["Close the audit."],
  "risk_matrix": [{"risk": "Litigation", "impact": "High", "mitigation": "Settle", "owner": "GC"}],
  "citations": [
    {"id": "SR-1", "source": "Securities Act"},
    {"id": "SR-2", "source": "Board minutes"}
  ]
}`

const strictJSON = `{
  "schema_version": "1.0.0",
  "required_phrases": ["PRIVILEGED & CONFIDENTIAL"],
  "required_citations": ["SR-1", "SR-2"],
  "forbidden_metadata_keys": ["author"],
  "forbidden_metadata_patterns": [],
  "redaction": {"pending_patterns": ["[REDACTED_PENDING]"]}
}`

// sandbox isolates config, ledger, artifacts and credentials under a temp dir.
func sandbox(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("BRIEFGATE_CONFIG", "")
	t.Setenv("BRIEFGATE_LEDGER_DSN", "file:"+filepath.Join(dir, "ledger.db"))
	t.Setenv("BRIEFGATE_ARTIFACT_STORE", "fs")
	t.Setenv("BRIEFGATE_ARTIFACT_DIR", filepath.Join(dir, "artifacts"))
	t.Setenv("BRIEFGATE_MODE", "")
	t.Setenv("BRIEFGATE_MOCK", "")
	t.Setenv("BRIEFGATE_VAULT_PATH", "")
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("HOME", dir)
	for _, k := range []string{
		"BRIEFGATE_CREDENTIALS_JSON", "ADOBE_PDF_CREDENTIALS_JSON",
		"PDF_SERVICES_CLIENT_ID", "PDF_SERVICES_CLIENT_SECRET",
		"ADOBE_PDF_SERVICES_CLIENT_ID", "ADOBE_PDF_SERVICES_CLIENT_SECRET",
	} {
		t.Setenv(k, "")
	}
	return dir
}

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"briefgate"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRenderMockFallbackPasses(t *testing.T) {
	dir := sandbox(t)
	payloadPath := write(t, dir, "brief.json", briefJSON)
	rulesPath := write(t, dir, "strict.json", strictJSON)
	out := filepath.Join(dir, "out", "brief.pdf")

	code, stdout, stderr := run("render", "--json",
		"--payload", payloadPath, "--rules", rulesPath, "--output", out,
		"--mode", "fallback", "--mock")
	require.Equal(t, delivery.ExitPass, code, "stderr: %s", stderr)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	result, ok := res["result"].(map[string]any)
	require.True(t, ok, "result missing: %s", stdout)
	assert.Equal(t, "PASS", result["status"])

	_, err := os.Stat(out)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "out", "brief.request.json"))
	require.NoError(t, err)
}

func TestRenderMockMetadataFails(t *testing.T) {
	dir := sandbox(t)
	payloadPath := write(t, dir, "brief.json", briefJSON)
	rulesPath := write(t, dir, "strict.json", strictJSON)
	metaPath := write(t, dir, "meta.json", `{"Author": "Jane Counsel"}`)
	out := filepath.Join(dir, "brief.pdf")

	code, stdout, _ := run("render",
		"--payload", payloadPath, "--rules", rulesPath, "--output", out,
		"--mode", "fallback", "--mock", "--metadata", metaPath)
	require.Equal(t, delivery.ExitFail, code)
	assert.Contains(t, stdout, "FAIL preflight_failed")
}

func TestRenderAutoIsPendingWithoutExport(t *testing.T) {
	dir := sandbox(t)
	payloadPath := write(t, dir, "brief.json", briefJSON)
	rulesPath := write(t, dir, "strict.json", strictJSON)
	out := filepath.Join(dir, "brief.pdf")

	code, stdout, stderr := run("render",
		"--payload", payloadPath, "--rules", rulesPath, "--output", out, "--mock")
	require.Equal(t, delivery.ExitPending, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "PENDING")
	_, err := os.Stat(filepath.Join(dir, "brief.request.design_job.json"))
	require.NoError(t, err)
}

func TestRenderInvalidPayloadIsUsageError(t *testing.T) {
	dir := sandbox(t)
	payloadPath := write(t, dir, "brief.json", `{"title": "Only a title"}`)
	rulesPath := write(t, dir, "strict.json", strictJSON)

	code, _, stderr := run("render",
		"--payload", payloadPath, "--rules", rulesPath, "--output", filepath.Join(dir, "x.pdf"),
		"--mode", "fallback", "--mock")
	require.Equal(t, delivery.ExitUsage, code)
	assert.Contains(t, stderr, "Error:")
}

func TestRenderMissingFlags(t *testing.T) {
	sandbox(t)
	code, _, stderr := run("render", "--payload", "brief.json")
	require.Equal(t, delivery.ExitUsage, code)
	assert.Contains(t, stderr, "required flag")
}

func TestBatch(t *testing.T) {
	dir := sandbox(t)
	write(t, dir, "a.json", briefJSON)
	write(t, dir, "b.json", briefJSON)
	rulesPath := write(t, dir, "strict.json", strictJSON)
	batch := write(t, dir, "batch.yaml", `requests:
  - payload: a.json
    output: out/a.pdf
  - payload: b.json
    output: out/b.pdf
`)

	code, stdout, stderr := run("batch", "--file", batch, "--rules", rulesPath, "--mode", "fallback", "--mock")
	require.Equal(t, delivery.ExitPass, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "[0] PASS")
	assert.Contains(t, stdout, "[1] PASS")
}

func TestBatchWorstOutcomeWins(t *testing.T) {
	dir := sandbox(t)
	write(t, dir, "a.json", briefJSON)
	rulesPath := write(t, dir, "strict.json", strictJSON)
	batch := write(t, dir, "batch.yaml", `requests:
  - payload: a.json
    output: out/a.pdf
    mode: fallback
  - payload: a.json
    output: out/pending.pdf
    mode: auto
`)

	code, _, stderr := run("batch", "--file", batch, "--rules", rulesPath, "--mock")
	require.Equal(t, delivery.ExitPending, code, "stderr: %s", stderr)
}

func TestPreflightFailsOnMissingBanner(t *testing.T) {
	dir := sandbox(t)
	rulesPath := write(t, dir, "strict.json", strictJSON)
	pdf := filepath.Join(dir, "plain.pdf")
	doc := pdfdoc.Document{Pages: pdfdoc.Paginate([]string{"Quarterly update", "[SR-1] [SR-2]"}, 40)}
	require.NoError(t, doc.WriteFile(pdf))
	report := filepath.Join(dir, "report.json")

	code, stdout, _ := run("preflight", "--pdf", pdf, "--rules", rulesPath, "--report", report)
	require.Equal(t, delivery.ExitFail, code)
	assert.Contains(t, stdout, "privilege_watermark")

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"FAIL"`)
}

func TestPreflightMissingFile(t *testing.T) {
	dir := sandbox(t)
	rulesPath := write(t, dir, "strict.json", strictJSON)

	code, stdout, _ := run("preflight", "--pdf", filepath.Join(dir, "nope.pdf"), "--rules", rulesPath)
	require.Equal(t, delivery.ExitFail, code)
	assert.Contains(t, stdout, "preflight_not_run")
}

func TestVerifyTemplate(t *testing.T) {
	dir := sandbox(t)
	body := []byte("%PDF-1.4 template")
	tpl := filepath.Join(dir, "C-SUITE-EXEC-PDF-TEMPLATE.pdf")
	require.NoError(t, os.WriteFile(tpl, body, 0o600))
	sum := sha256.Sum256(body)

	good := write(t, dir, "manifest.json", `{"template_path": "`+tpl+`", "sha256": "`+hex.EncodeToString(sum[:])+`"}`)
	code, stdout, stderr := run("verify-template", "--template-dir", dir, "--manifest", good)
	require.Equal(t, delivery.ExitPass, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "PASS")

	bad := write(t, dir, "bad.json", `{"template_path": "`+tpl+`", "sha256": "deadbeef"}`)
	report := filepath.Join(dir, "verify.json")
	code, _, _ = run("verify-template", "--template-dir", dir, "--manifest", bad, "--report", report)
	require.Equal(t, delivery.ExitFail, code)
	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), "template_sha256")
}

func TestHandoff(t *testing.T) {
	dir := sandbox(t)
	payloadPath := write(t, dir, "brief.json", briefJSON)

	code, stdout, stderr := run("handoff", "--payload", payloadPath, "--profile", "fast")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "PROFILE: fast")
	assert.Contains(t, stdout, "1) Title: Q3 Board Brief")

	out := filepath.Join(dir, "prompt", "brief.txt")
	code, _, _ = run("handoff", "--payload", payloadPath, "--output", out)
	require.Equal(t, 0, code)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "PROFILE: strict-legal")
}

func TestCredentialsShowMasksSecret(t *testing.T) {
	sandbox(t)
	t.Setenv("PDF_SERVICES_CLIENT_ID", "abcd1234efgh5678")
	t.Setenv("PDF_SERVICES_CLIENT_SECRET", "super-secret-value")

	code, stdout, stderr := run("credentials", "show")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "abcd...5678")
	assert.NotContains(t, stdout, "super-secret-value")
}

func TestCredentialsStoreThenShowFromVault(t *testing.T) {
	dir := sandbox(t)
	t.Setenv("BRIEFGATE_VAULT_PATH", filepath.Join(dir, "vault.db"))
	t.Setenv(EnvVaultPassphrase, "correct horse")
	t.Setenv("PDF_SERVICES_CLIENT_ID", "vault0000client99")
	t.Setenv("PDF_SERVICES_CLIENT_SECRET", "vault-secret")

	code, _, stderr := run("credentials", "store")
	require.Equal(t, 0, code, "stderr: %s", stderr)

	t.Setenv("PDF_SERVICES_CLIENT_ID", "")
	t.Setenv("PDF_SERVICES_CLIENT_SECRET", "")
	code, stdout, stderr := run("--json", "credentials", "show")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, `"source": "vault:default"`)
	assert.Contains(t, stdout, "vaul...nt99")
}

func TestCredentialsShowNothingConfigured(t *testing.T) {
	sandbox(t)
	code, _, stderr := run("credentials", "show")
	require.Equal(t, delivery.ExitUsage, code)
	assert.Contains(t, stderr, "Error:")
}

func TestVersion(t *testing.T) {
	sandbox(t)
	code, stdout, _ := run("version")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "briefgate dev")
}

func TestUnknownCommand(t *testing.T) {
	sandbox(t)
	code, _, stderr := run("publish")
	require.Equal(t, delivery.ExitUsage, code)
	assert.Contains(t, stderr, "unknown command")
}
