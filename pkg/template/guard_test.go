package template

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func TestVerifyKeyword(t *testing.T) {
	g := NewGuard()
	d := Descriptor{RequiredKeyword: "C-SUITE-EXEC"}

	require.NoError(t, g.Verify(d, "My-C-SUITE-EXEC-Template", nil))
	require.NoError(t, g.Verify(d, "my-c-suite-exec-template", nil))

	err := g.Verify(d, "Generic Template", nil)
	require.True(t, IsKind(err, KindKeywordMismatch))
	require.True(t, errors.Is(err, ErrGuard))
}

func TestVerifyDefaultsKeyword(t *testing.T) {
	require.NoError(t, NewGuard().Verify(Descriptor{}, DefaultTemplateName, nil))
}

func TestVerifyContextTitle(t *testing.T) {
	g := NewGuard()
	d := Descriptor{}

	require.NoError(t, g.Verify(d, DefaultTemplateName, ptr("")))
	require.NoError(t, g.Verify(d, DefaultTemplateName, ptr("Q3 C-Suite-Exec brief")))

	err := g.Verify(d, DefaultTemplateName, ptr("Untitled design"))
	require.True(t, IsKind(err, KindContextMismatch))
}

func writeTemplate(t *testing.T, dir, name string, body []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, body, 0o600))
	return path
}

func sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func TestVerifyCanonicalPass(t *testing.T) {
	body := []byte("%PDF-1.4 template")
	path := writeTemplate(t, t.TempDir(), DefaultTemplateName, body)

	rep, err := NewGuard().VerifyCanonical(Descriptor{CanonicalPath: path, ExpectedHash: sum(body), ManifestPath: path})
	require.NoError(t, err)
	require.Equal(t, "PASS", rep.Status)
	require.Len(t, rep.Checks, 5)
	require.Equal(t, sum(body), rep.ActualHash)
}

func TestVerifyCanonicalHashMismatch(t *testing.T) {
	path := writeTemplate(t, t.TempDir(), DefaultTemplateName, []byte("tampered"))

	rep, err := NewGuard().VerifyCanonical(Descriptor{CanonicalPath: path, ExpectedHash: sum([]byte("original"))})
	require.True(t, IsKind(err, KindHashMismatch))
	require.Equal(t, "FAIL", rep.Status)
}

func TestVerifyCanonicalMissingFileReportsAllChecks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.png")

	rep, err := NewGuard().VerifyCanonical(Descriptor{CanonicalPath: path, ExpectedHash: "abc"})
	require.True(t, IsKind(err, KindUnreadable))
	require.Len(t, rep.Checks, 5)
	failed := 0
	for _, c := range rep.Checks {
		if !c.Passed {
			failed++
		}
	}
	require.Equal(t, 4, failed)
}

func TestVerifyCanonicalWrongExtension(t *testing.T) {
	path := writeTemplate(t, t.TempDir(), "C-SUITE-EXEC.docx", []byte("x"))
	_, err := NewGuard().VerifyCanonical(Descriptor{CanonicalPath: path})
	require.True(t, IsKind(err, KindUnreadable))
	require.Contains(t, err.Error(), "template_extension")
}

func TestVerifyCanonicalManifestPathMismatch(t *testing.T) {
	dir := t.TempDir()
	path := writeTemplate(t, dir, DefaultTemplateName, []byte("x"))
	_, err := NewGuard().VerifyCanonical(Descriptor{CanonicalPath: path, ManifestPath: filepath.Join(dir, "other.pdf")})
	require.True(t, IsKind(err, KindUnreadable))
	require.Contains(t, err.Error(), "manifest_path_match")
}

func TestManifestDescriptor(t *testing.T) {
	dir := t.TempDir()
	body := []byte("%PDF template")
	tpl := writeTemplate(t, dir, DefaultTemplateName, body)
	mpath := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(mpath, []byte(`{"template_path": "`+tpl+`", "sha256": "`+sum(body)+`"}`), 0o600))

	m, err := LoadManifest(mpath)
	require.NoError(t, err)
	d := m.Descriptor(dir, "", "")
	require.Equal(t, DefaultTemplateName, d.TemplateName)
	require.Equal(t, tpl, d.CanonicalPath)

	_, err = NewGuard().VerifyCanonical(d)
	require.NoError(t, err)
}
