package board

import (
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// documentSchemaJSON is the structural contract a stored board must satisfy
// before any of it is applied to the live surface. It is deliberately loose
// about unknown fields so newer writers do not break older readers.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schemaVersion", "elements", "connections"],
  "properties": {
    "schemaVersion": {"type": "integer", "minimum": 1},
    "updatedAt": {"type": "string"},
    "title": {"type": "string"},
    "viewport": {
      "type": "object",
      "properties": {
        "centerX": {"type": "number"},
        "centerY": {"type": "number"},
        "scale": {"type": "number"}
      }
    },
    "elements": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["key", "kind", "position"],
        "properties": {
          "key": {"type": "string", "minLength": 1},
          "kind": {"enum": ["verse", "note", "interlinear", "song"]},
          "position": {
            "type": "object",
            "required": ["x", "y"],
            "properties": {
              "x": {"type": "number"},
              "y": {"type": "number"}
            }
          },
          "stackOrder": {"type": "integer"}
        }
      }
    },
    "connections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "properties": {
          "from": {"type": "string", "minLength": 1},
          "to": {"type": "string", "minLength": 1},
          "color": {"type": "string"}
        }
      }
    }
  }
}`

var (
	documentSchemaOnce sync.Once
	documentSchema     *jsonschema.Schema
	documentSchemaErr  error
)

func compiledDocumentSchema() (*jsonschema.Schema, error) {
	documentSchemaOnce.Do(func() {
		raw, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchemaJSON))
		if err != nil {
			documentSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("board-document.json", raw); err != nil {
			documentSchemaErr = err
			return
		}
		documentSchema, documentSchemaErr = compiler.Compile("board-document.json")
	})
	return documentSchema, documentSchemaErr
}
