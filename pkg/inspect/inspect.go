// Package inspect extracts the facts preflight evaluates from a rendered
// artifact: visible text, document metadata, page count and cited ids.
package inspect

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Facts is everything preflight is allowed to know about an artifact.
type Facts struct {
	VisibleText string            `json:"visible_text"`
	Metadata    map[string]string `json:"metadata"`
	PageCount   int               `json:"page_count"`
	Citations   []string          `json:"citations,omitempty"`
}

// Inspector reads an artifact and returns its facts.
type Inspector interface {
	Inspect(ctx context.Context, path string) (Facts, error)
}

var citationMarker = regexp.MustCompile(`\[([A-Za-z]+-?\d+)\]`)

// ExtractCitations returns the distinct bracketed citation ids found in text,
// in order of first appearance.
func ExtractCitations(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range citationMarker.FindAllStringSubmatch(text, -1) {
		key := strings.ToUpper(m[1])
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m[1])
	}
	return out
}

// NewFacts builds Facts with normalized text, lower-cased metadata keys and
// citations extracted from the text.
func NewFacts(text string, metadata map[string]string, pages int) Facts {
	text = norm.NFC.String(text)
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(k), "/"))
		if key == "" {
			continue
		}
		md[key] = norm.NFC.String(strings.TrimSpace(v))
	}
	return Facts{
		VisibleText: text,
		Metadata:    md,
		PageCount:   pages,
		Citations:   ExtractCitations(text),
	}
}

// MetadataKeys returns the metadata keys in sorted order.
func (f Facts) MetadataKeys() []string {
	keys := make([]string, 0, len(f.Metadata))
	for k := range f.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
