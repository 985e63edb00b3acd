package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies the encoding of a raw payload document.
type Format string

const (
	FormatAuto     Format = "auto"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

var citationLine = regexp.MustCompile(`^\[?([A-Za-z]+-?\d+)\]?\s*[:\-]\s*(.+)$`)

// Load reads, validates and normalizes a payload document from disk.
func Load(path string, format Format) (Payload, error) {
	data, err := os.ReadFile(path) //nolint:gosec // caller-chosen input
	if err != nil {
		return Payload{}, fmt.Errorf("read payload: %w", err)
	}
	if format == "" || format == FormatAuto {
		format = DetectFormat(path)
	}
	return Parse(data, format)
}

// DetectFormat picks a format from the file extension.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatMarkdown
	}
}

// Parse decodes data in the given format and returns the normalized payload.
func Parse(data []byte, format Format) (Payload, error) {
	var doc map[string]any
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return Payload{}, fmt.Errorf("decode json payload: %w", err)
		}
	case FormatYAML:
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Payload{}, fmt.Errorf("decode yaml payload: %w", err)
		}
		m, err := toJSONDocument(raw)
		if err != nil {
			return Payload{}, err
		}
		doc = m
	case FormatMarkdown:
		doc = parseMarkdown(string(data))
	default:
		return Payload{}, fmt.Errorf("unsupported payload format %q", format)
	}
	if doc == nil {
		return Payload{}, fmt.Errorf("payload document must be an object")
	}

	s, err := schema()
	if err != nil {
		return Payload{}, err
	}
	if err := s.Validate(doc); err != nil {
		return Payload{}, fmt.Errorf("payload schema validation failed: %w", err)
	}

	return New(normalize(doc))
}

// toJSONDocument converts a YAML-decoded value into the generic JSON shape
// the schema validator expects.
func toJSONDocument(raw any) (map[string]any, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("yaml payload is not representable as json: %w", err)
	}
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("payload document must be an object: %w", err)
	}
	return doc, nil
}

func normalize(doc map[string]any) Payload {
	return Payload{
		Title:               str(doc["title"]),
		ExecutiveSummary:    stringList(doc["executive_summary"]),
		StrategicPriorities: stringList(doc["strategic_priorities"]),
		RiskMatrix:          riskRows(doc["risk_matrix"]),
		Citations:           citations(doc["citations"]),
		Annexes:             annexes(doc["annexes"]),
	}
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	case []any:
		var out []string
		for _, item := range t {
			if s := str(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		var out []string
		for _, item := range t {
			if s := strings.TrimSpace(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func riskRows(v any) []RiskItem {
	rows, _ := v.([]any)
	out := make([]RiskItem, 0, len(rows))
	for _, r := range rows {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		item := RiskItem{
			Risk:       str(m["risk"]),
			Impact:     str(m["impact"]),
			Mitigation: str(m["mitigation"]),
			Owner:      str(m["owner"]),
		}
		if item == (RiskItem{}) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func citations(v any) []Citation {
	items, _ := v.([]any)
	out := make([]Citation, 0, len(items))
	counter := 1
	for _, item := range items {
		switch t := item.(type) {
		case string:
			text := strings.TrimSpace(t)
			if text == "" {
				continue
			}
			if m := citationLine.FindStringSubmatch(text); m != nil {
				out = append(out, Citation{ID: strings.TrimSpace(m[1]), Source: strings.TrimSpace(m[2])})
				continue
			}
			out = append(out, Citation{ID: fmt.Sprintf("CIT-%d", counter), Source: text})
			counter++
		case map[string]any:
			c := Citation{ID: str(t["id"]), Source: str(t["source"]), Note: str(t["note"])}
			if c.Source == "" {
				continue
			}
			if c.ID == "" {
				c.ID = fmt.Sprintf("CIT-%d", counter)
			}
			out = append(out, c)
			counter++
		}
	}
	return out
}

func annexes(v any) []Annex {
	items, _ := v.([]any)
	if len(items) == 0 {
		return nil
	}
	out := make([]Annex, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Annex{
			Title:   str(m["title"]),
			Summary: str(m["summary"]),
			Items:   stringList(m["items"]),
		})
	}
	return out
}
