package inspect

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/briefgate/pkg/pdfdoc"
)

func fixture() pdfdoc.Document {
	return pdfdoc.Document{
		Pages: [][]string{
			{"PRIVILEGED & CONFIDENTIAL", "Board Brief (draft)", "[SR-1] Securities Act"},
			{"Annex", "[sr-1] repeated", "[CIT-2] Memo"},
		},
		Info: map[string]string{"author": "jane@firm.com", "producer": "briefgate"},
	}
}

func TestScanRawRecoversFacts(t *testing.T) {
	data, err := fixture().Bytes()
	require.NoError(t, err)
	facts := ScanRaw(data)

	require.Equal(t, 2, facts.PageCount)
	require.Contains(t, facts.VisibleText, "PRIVILEGED & CONFIDENTIAL")
	require.Contains(t, facts.VisibleText, "Board Brief (draft)")
	require.Equal(t, "jane@firm.com", facts.Metadata["author"])
	require.Equal(t, []string{"SR-1", "CIT-2"}, facts.Citations)
}

func TestPDFInspectorReadsDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brief.pdf")
	require.NoError(t, fixture().WriteFile(path))

	facts, err := NewPDFInspector().Inspect(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, facts.PageCount)
	require.Contains(t, facts.VisibleText, "PRIVILEGED & CONFIDENTIAL")
	require.Equal(t, "jane@firm.com", facts.Metadata["author"])
	require.Contains(t, facts.Citations, "SR-1")
}

func TestPDFInspectorFallsBackOnGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	body := "not really a pdf (Hello World) Tj /Author (someone)"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	facts, err := NewPDFInspector().Inspect(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "Hello World", facts.VisibleText)
	require.Equal(t, 1, facts.PageCount)
	require.Equal(t, "someone", facts.Metadata["author"])
}

func TestBlankPageKeepsMetadataOutOfText(t *testing.T) {
	doc := pdfdoc.Document{
		Pages: [][]string{{}},
		Info:  map[string]string{"subject": "PRIVILEGED & CONFIDENTIAL [SR-1]"},
	}
	path := filepath.Join(t.TempDir(), "blank.pdf")
	require.NoError(t, doc.WriteFile(path))

	facts, err := NewPDFInspector().Inspect(context.Background(), path)
	require.NoError(t, err)
	require.Empty(t, strings.TrimSpace(facts.VisibleText))
	require.Empty(t, facts.Citations)
	require.Equal(t, 1, facts.PageCount)
	require.Equal(t, "PRIVILEGED & CONFIDENTIAL [SR-1]", facts.Metadata["subject"])
}

func TestScanRawWithoutTextOperators(t *testing.T) {
	data, err := pdfdoc.Document{Info: map[string]string{"title": "[SR-9] Brief"}}.Bytes()
	require.NoError(t, err)

	facts := ScanRaw(data)
	require.Empty(t, facts.VisibleText)
	require.Empty(t, facts.Citations)
	require.Equal(t, "[SR-9] Brief", facts.Metadata["title"])
}

func TestInspectMissingFile(t *testing.T) {
	_, err := NewPDFInspector().Inspect(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"))
	require.Error(t, err)
}

func TestInspectHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPDFInspector().Inspect(ctx, "whatever.pdf")
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewFactsNormalizesKeys(t *testing.T) {
	f := NewFacts("Café [AB-12]", map[string]string{"/Author": " x ", " ": "dropped"}, 3)
	require.Equal(t, "Café [AB-12]", f.VisibleText)
	require.Equal(t, map[string]string{"author": "x"}, f.Metadata)
	require.Equal(t, []string{"AB-12"}, f.Citations)
	require.True(t, strings.HasPrefix(f.VisibleText, "Caf"))
}
