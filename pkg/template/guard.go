// Package template guards hydration against unapproved templates.
//
// Verification is pure: it reads the canonical template file at most once and
// never mutates anything. A failed guard aborts the run before any hydration.
package template

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultKeyword must appear in every approved template name.
	DefaultKeyword = "C-SUITE-EXEC"
	// DefaultTemplateName is the file name of the canonical template.
	DefaultTemplateName = "C-SUITE-EXEC-PDF-TEMPLATE.pdf"
)

// Kind classifies a guard failure.
type Kind string

const (
	KindKeywordMismatch Kind = "TemplateKeywordMismatch"
	KindContextMismatch Kind = "ContextMismatch"
	KindUnreadable      Kind = "TemplateUnreadable"
	KindHashMismatch    Kind = "TemplateHashMismatch"
)

// ErrGuard matches every *Error via errors.Is.
var ErrGuard = errors.New("template guard failed")

// Error is a fatal template verification failure. It is never retried.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is reports ErrGuard.
func (e *Error) Is(target error) bool { return target == ErrGuard }

// IsKind reports whether err is a guard error of kind k.
func IsKind(err error, k Kind) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == k
}

// Descriptor identifies the approved template.
type Descriptor struct {
	TemplateName    string `json:"template_name"`
	RequiredKeyword string `json:"required_keyword"`
	CanonicalPath   string `json:"canonical_path"`
	ExpectedHash    string `json:"expected_hash,omitempty"`
	// ManifestPath is the template path declared by the manifest, if any.
	ManifestPath string `json:"manifest_path,omitempty"`
}

// Keyword returns the required keyword, defaulting to DefaultKeyword.
func (d Descriptor) Keyword() string {
	if strings.TrimSpace(d.RequiredKeyword) == "" {
		return DefaultKeyword
	}
	return d.RequiredKeyword
}

// Guard performs template checks.
type Guard struct{}

// NewGuard returns a Guard.
func NewGuard() *Guard { return &Guard{} }

// Verify checks the declared template name and, when the design context
// reports one, the active document title. A nil or empty title skips the
// context check.
func (g *Guard) Verify(d Descriptor, declaredTemplateName string, activeContextTitle *string) error {
	kw := strings.ToLower(d.Keyword())
	if !strings.Contains(strings.ToLower(declaredTemplateName), kw) {
		return &Error{
			Kind:   KindKeywordMismatch,
			Detail: fmt.Sprintf("template %q does not contain required keyword %q", declaredTemplateName, d.Keyword()),
		}
	}
	if activeContextTitle != nil && strings.TrimSpace(*activeContextTitle) != "" {
		if !strings.Contains(strings.ToLower(*activeContextTitle), kw) {
			return &Error{
				Kind:   KindContextMismatch,
				Detail: fmt.Sprintf("active design %q does not contain required keyword %q", *activeContextTitle, d.Keyword()),
			}
		}
	}
	return nil
}

// Check is one canonical-file sub-check.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// CanonicalReport lists every canonical-file sub-check, including those after
// the first failure.
type CanonicalReport struct {
	Status       string  `json:"status"`
	TemplatePath string  `json:"template_path"`
	ActualHash   string  `json:"actual_sha256,omitempty"`
	Checks       []Check `json:"checks"`
}

// VerifyCanonical checks the canonical template file: manifest path match,
// existence, readability, .pdf extension and content hash. The report is
// returned even when verification fails.
func (g *Guard) VerifyCanonical(d Descriptor) (*CanonicalReport, error) {
	resolved, err := filepath.Abs(d.CanonicalPath)
	if err != nil {
		resolved = filepath.Clean(d.CanonicalPath)
	}
	rep := &CanonicalReport{TemplatePath: resolved}
	var firstErr *Error
	record := func(name string, ok bool, detail string, kind Kind) {
		rep.Checks = append(rep.Checks, Check{Name: name, Passed: ok, Detail: detail})
		if !ok && firstErr == nil {
			firstErr = &Error{Kind: kind, Detail: fmt.Sprintf("%s: %s", name, detail)}
		}
	}

	if d.ManifestPath != "" {
		declared, derr := filepath.Abs(d.ManifestPath)
		if derr != nil {
			declared = filepath.Clean(d.ManifestPath)
		}
		record("manifest_path_match", declared == resolved,
			fmt.Sprintf("manifest=%s resolved=%s", declared, resolved), KindUnreadable)
	} else {
		record("manifest_path_match", true, "no manifest path declared", KindUnreadable)
	}

	info, statErr := os.Stat(resolved)
	exists := statErr == nil && info.Mode().IsRegular()
	record("template_exists", exists, resolved, KindUnreadable)

	var actual string
	readable := false
	if exists {
		sum, herr := hashFile(resolved)
		readable = herr == nil
		actual = sum
		detail := resolved
		if herr != nil {
			detail = herr.Error()
		}
		record("template_readable", readable, detail, KindUnreadable)
	} else {
		record("template_readable", false, "template does not exist", KindUnreadable)
	}

	ext := strings.ToLower(filepath.Ext(resolved))
	record("template_extension", ext == ".pdf", "suffix="+ext, KindUnreadable)

	rep.ActualHash = actual
	expected := strings.ToLower(strings.TrimSpace(d.ExpectedHash))
	switch {
	case expected == "":
		record("template_sha256", true, "no expected hash declared", KindHashMismatch)
	case !readable:
		record("template_sha256", false, "template not readable", KindUnreadable)
	default:
		record("template_sha256", actual == expected,
			fmt.Sprintf("expected=%s actual=%s", expected, actual), KindHashMismatch)
	}

	rep.Status = "PASS"
	if firstErr != nil {
		rep.Status = "FAIL"
		return rep, firstErr
	}
	return rep, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // canonical template path from manifest
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
