// Package pdfdoc writes plain text PDFs through fpdf. It backs the offline
// renderer and test fixtures; it is not a layout engine.
package pdfdoc

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
)

// Document is a list of pages, each a list of text lines, plus an optional
// Info dictionary keyed by standard entry name (author, title, ...).
type Document struct {
	Pages [][]string
	Info  map[string]string
}

const (
	margin     = 50.0
	fontSize   = 11.0
	lineHeight = 14.0
)

// Epoch stamps CreationDate and ModDate so identical documents serialize to
// identical bytes.
var Epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// infoSetters are the Info entries fpdf can write.
var infoSetters = map[string]func(*fpdf.Fpdf, string){
	"author":   func(f *fpdf.Fpdf, v string) { f.SetAuthor(v, false) },
	"creator":  func(f *fpdf.Fpdf, v string) { f.SetCreator(v, false) },
	"keywords": func(f *fpdf.Fpdf, v string) { f.SetKeywords(v, false) },
	"producer": func(f *fpdf.Fpdf, v string) { f.SetProducer(v, false) },
	"subject":  func(f *fpdf.Fpdf, v string) { f.SetSubject(v, false) },
	"title":    func(f *fpdf.Fpdf, v string) { f.SetTitle(v, false) },
}

// Paginate splits lines into pages of at most perPage lines.
func Paginate(lines []string, perPage int) [][]string {
	if perPage <= 0 {
		perPage = 50
	}
	var pages [][]string
	for len(lines) > perPage {
		pages = append(pages, lines[:perPage])
		lines = lines[perPage:]
	}
	return append(pages, lines)
}

// Bytes serializes the document uncompressed, one Helvetica line per cell.
// Empty Info keys and values are skipped; keys fpdf cannot write are an error.
func (d Document) Bytes() ([]byte, error) {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetCompression(false)
	pdf.SetAutoPageBreak(false, margin)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetCreationDate(Epoch)
	pdf.SetModificationDate(Epoch)
	pdf.SetProducer("briefgate", false)
	if err := d.applyInfo(pdf); err != nil {
		return nil, err
	}

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pages := d.Pages
	if len(pages) == 0 {
		pages = [][]string{{}}
	}
	for _, lines := range pages {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "", fontSize)
		for _, line := range lines {
			pdf.Cell(0, lineHeight, tr(line))
			pdf.Ln(lineHeight)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (d Document) applyInfo(pdf *fpdf.Fpdf) error {
	keys := make([]string, 0, len(d.Info))
	for k := range d.Info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(k), "/"))
		v := d.Info[k]
		if name == "" || v == "" {
			continue
		}
		set, ok := infoSetters[name]
		if !ok {
			return fmt.Errorf("unsupported info entry %q", k)
		}
		set(pdf, v)
	}
	return nil
}

// WriteFile writes the document atomically.
func (d Document) WriteFile(path string) error {
	data, err := d.Bytes()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit pdf: %w", err)
	}
	return nil
}
