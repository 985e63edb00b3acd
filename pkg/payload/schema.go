package payload

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "https://briefgate.local/schemas/payload.json"

// inputSchema describes the raw input document before normalization. It is
// deliberately permissive about shapes the normalizer coerces (a string where
// a list is expected, string citations) and leaves required-field checks to
// Validate so that every missing field is reported at once.
const inputSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "$defs": {
    "textOrList": {
      "oneOf": [
        {"type": "string"},
        {"type": "array", "items": {"type": ["string", "number", "boolean"]}}
      ]
    }
  },
  "properties": {
    "title": {"type": "string"},
    "executive_summary": {"$ref": "#/$defs/textOrList"},
    "strategic_priorities": {"$ref": "#/$defs/textOrList"},
    "risk_matrix": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "risk": {"type": "string"},
          "impact": {"type": "string"},
          "mitigation": {"type": "string"},
          "owner": {"type": "string"}
        }
      }
    },
    "citations": {
      "type": "array",
      "items": {
        "oneOf": [
          {"type": "string"},
          {
            "type": "object",
            "properties": {
              "id": {"type": "string"},
              "source": {"type": "string"},
              "note": {"type": "string"}
            }
          }
        ]
      }
    },
    "annexes": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "title": {"type": "string"},
          "summary": {"type": "string"},
          "items": {"$ref": "#/$defs/textOrList"}
        }
      }
    }
  }
}`

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(inputSchema)); err != nil {
			compileErr = fmt.Errorf("payload schema: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile(schemaURL)
	})
	return compiledSchema, compileErr
}
