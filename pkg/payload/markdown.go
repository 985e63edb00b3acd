package payload

import (
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

const preamble = "__preamble__"

// mdParser is CommonMark plus GFM tables. Link reference definitions are
// left as text so "[SR-1]: source" bullets survive as citations.
var mdParser = parser.NewParser(
	parser.WithBlockParsers(parser.DefaultBlockParsers()...),
	parser.WithInlineParsers(parser.DefaultInlineParsers()...),
	parser.WithParagraphTransformers(util.Prioritized(extension.NewTableParagraphTransformer(), 200)),
	parser.WithASTTransformers(util.Prioritized(extension.NewTableASTTransformer(), 0)),
)

// section collects the blocks under one heading.
type section struct {
	lines   []string
	bullets []string
	rows    [][]string // first row is the header
}

func (s *section) empty() bool {
	return s == nil || (len(s.lines) == 0 && len(s.bullets) == 0 && len(s.rows) == 0)
}

// parseMarkdown turns a heading-structured brief draft into the generic
// document shape consumed by normalize.
func parseMarkdown(src string) map[string]any {
	source := []byte(src)
	doc := mdParser.Parse(text.NewReader(source))

	sections := map[string]*section{preamble: {}}
	current := sections[preamble]
	title := ""

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			heading := blockText(node, source)
			if title == "" {
				title = heading
			}
			key := strings.ToLower(heading)
			if _, ok := sections[key]; !ok {
				sections[key] = &section{}
			}
			current = sections[key]
		case *ast.List:
			current.bullets = append(current.bullets, listItems(node, source)...)
		case *east.Table:
			current.rows = append(current.rows, tableRows(node, source)...)
		case *ast.Paragraph:
			for _, l := range strings.Split(blockText(node, source), "\n") {
				if l = strings.TrimSpace(l); l != "" {
					current.lines = append(current.lines, l)
				}
			}
		}
	}

	if title == "" && len(sections[preamble].lines) > 0 {
		title = sections[preamble].lines[0]
	}

	summary := pickSection(sections, "executive summary", "summary", "brief summary")
	priorities := pickSection(sections, "strategic priorities", "priorities", "action priorities")
	risks := pickSection(sections, "risk matrix", "risks")
	cites := pickSection(sections, "citations", "references", "sources")
	annexes := pickSection(sections, "annexes", "appendices")

	riskMatrix := markdownRiskRows(risks.rows)
	if len(riskMatrix) == 0 {
		for _, entry := range risks.bullets {
			parts := strings.Split(entry, "|")
			row := map[string]any{"risk": entry, "impact": "", "mitigation": "", "owner": ""}
			for i, key := range []string{"risk", "impact", "mitigation", "owner"} {
				if i < len(parts) {
					row[key] = strings.TrimSpace(parts[i])
				}
			}
			riskMatrix = append(riskMatrix, row)
		}
	}

	var annexList []any
	for _, b := range annexes.bullets {
		titlePart, summaryPart, _ := strings.Cut(b, ":")
		annexList = append(annexList, map[string]any{
			"title":   strings.TrimSpace(titlePart),
			"summary": strings.TrimSpace(summaryPart),
			"items":   []any{},
		})
	}

	return map[string]any{
		"title":                title,
		"executive_summary":    summary.bulletsOrLines(),
		"strategic_priorities": priorities.bulletsOrLines(),
		"risk_matrix":          riskMatrix,
		"citations":            toAny(cites.bullets),
		"annexes":              annexList,
	}
}

// pickSection returns the first named section with content, or an empty one.
func pickSection(sections map[string]*section, names ...string) *section {
	for _, name := range names {
		if s := sections[name]; !s.empty() {
			return s
		}
	}
	return &section{}
}

func (s *section) bulletsOrLines() []any {
	if len(s.bullets) > 0 {
		return toAny(s.bullets)
	}
	return toAny(s.lines)
}

// blockText is the raw source of a leaf block, one line per source line.
func blockText(n ast.Node, source []byte) string {
	lines := n.Lines()
	out := make([]string, 0, lines.Len())
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		out = append(out, strings.TrimRight(string(seg.Value(source)), " \t\r\n"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// listItems flattens a list, nested lists included, into item texts.
func listItems(list *ast.List, source []byte) []string {
	var out []string
	_ = ast.Walk(list, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindListItem {
			return ast.WalkContinue, nil
		}
		var parts []string
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if c.Kind() == ast.KindTextBlock || c.Kind() == ast.KindParagraph {
				if s := blockText(c, source); s != "" {
					parts = append(parts, strings.ReplaceAll(s, "\n", " "))
				}
			}
		}
		if len(parts) > 0 {
			out = append(out, strings.Join(parts, " "))
		}
		return ast.WalkContinue, nil
	})
	return out
}

// tableRows returns the header row followed by the body rows.
func tableRows(table *east.Table, source []byte) [][]string {
	var rows [][]string
	for r := table.FirstChild(); r != nil; r = r.NextSibling() {
		var cells []string
		for c := r.FirstChild(); c != nil; c = c.NextSibling() {
			cells = append(cells, strings.TrimSpace(inlineText(c, source)))
		}
		rows = append(rows, cells)
	}
	return rows
}

func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Value(source))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// markdownRiskRows maps table rows onto risk items by header name. Rows with no
// recognised cell are dropped.
func markdownRiskRows(rows [][]string) []any {
	if len(rows) < 2 {
		return nil
	}
	header := rows[0]
	var out []any
	for _, cells := range rows[1:] {
		row := map[string]any{"risk": "", "impact": "", "mitigation": "", "owner": ""}
		filled := false
		for i, h := range header {
			if i >= len(cells) {
				break
			}
			key := strings.ToLower(h)
			if _, ok := row[key]; ok && cells[i] != "" {
				row[key] = cells[i]
				filled = true
			}
		}
		if filled {
			out = append(out, row)
		}
	}
	return out
}

func toAny(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}
