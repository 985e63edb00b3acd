package inspect

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFInspector reads PDF artifacts. It parses the document structure first
// and falls back to a raw byte scan only when the file cannot be parsed. The
// scan recovers text drawn with simple Tj operators and uncompressed Info
// entries. A parsed document with no text stays empty.
type PDFInspector struct {
	logger *slog.Logger
}

// NewPDFInspector returns an inspector logging through slog.Default.
func NewPDFInspector() *PDFInspector {
	return &PDFInspector{logger: slog.Default().With("component", "inspect")}
}

// Inspect implements Inspector.
func (i *PDFInspector) Inspect(ctx context.Context, path string) (Facts, error) {
	if err := ctx.Err(); err != nil {
		return Facts{}, err
	}
	if _, err := os.Stat(path); err != nil {
		return Facts{}, fmt.Errorf("inspect %s: %w", path, err)
	}

	facts, err := i.structured(path)
	if err == nil {
		return facts, nil
	}
	i.logger.Debug("structured parse failed, scanning raw bytes", "path", path, "error", err)

	raw, rerr := os.ReadFile(path) //nolint:gosec // artifact path produced by the pipeline
	if rerr != nil {
		return Facts{}, fmt.Errorf("inspect %s: %w", path, rerr)
	}
	return ScanRaw(raw), nil
}

func (i *PDFInspector) structured(path string) (facts Facts, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return Facts{}, err
	}
	defer func() { _ = f.Close() }()

	pages := r.NumPage()
	var text strings.Builder
	for n := 1; n <= pages; n++ {
		p := r.Page(n)
		if p.V.IsNull() {
			continue
		}
		if n > 1 {
			text.WriteString("\n")
		}
		text.WriteString(pageText(p))
	}

	md := map[string]string{}
	info := r.Trailer().Key("Info")
	for _, k := range info.Keys() {
		v := info.Key(k)
		switch v.Kind() {
		case pdf.Null:
			continue
		case pdf.String:
			md[k] = v.Text()
		case pdf.Name:
			md[k] = v.Name()
		default:
			md[k] = v.String()
		}
	}

	return NewFacts(text.String(), md, pages), nil
}

// pageText joins positioned glyph runs into lines, starting a new line when
// the baseline moves.
func pageText(p pdf.Page) string {
	var b strings.Builder
	lastY := math.NaN()
	for _, t := range p.Content().Text {
		if !math.IsNaN(lastY) && math.Abs(t.Y-lastY) > 0.5 {
			b.WriteString("\n")
		}
		lastY = t.Y
		b.WriteString(t.S)
	}
	return b.String()
}

var (
	rawTj       = regexp.MustCompile(`(?s)\((.*?)\)\s*Tj`)
	rawPage     = regexp.MustCompile(`/Type\s*/Page\b`)
	rawInfoKeys = []string{"Author", "Creator", "Producer", "Title", "Subject", "Keywords"}
)

// ScanRaw recovers facts from unparsed PDF bytes. Only Tj operands count as
// visible text; bytes outside content streams never do.
func ScanRaw(raw []byte) Facts {
	content := latin1(raw)

	frags := rawTj.FindAllStringSubmatch(content, -1)
	lines := make([]string, 0, len(frags))
	for _, m := range frags {
		lines = append(lines, unescape(m[1]))
	}
	text := strings.Join(lines, "\n")

	pages := len(rawPage.FindAllStringIndex(content, -1))
	if pages < 1 {
		pages = 1
	}

	md := map[string]string{}
	for _, key := range rawInfoKeys {
		re := regexp.MustCompile(`(?is)/` + key + `\s*\((.*?)\)`)
		if m := re.FindStringSubmatch(content); m != nil {
			md[strings.ToLower(key)] = unescape(strings.TrimSpace(m[1]))
		}
	}
	return NewFacts(text, md, pages)
}

func latin1(b []byte) string {
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}

func unescape(s string) string {
	return strings.NewReplacer(`\(`, "(", `\)`, ")", `\\`, `\`).Replace(s)
}
