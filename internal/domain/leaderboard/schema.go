package leaderboard

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// recordSchema describes the parts of the runner's output the pipeline
// relies on. Everything else is free-form.
const recordSchema = `{
  "type": "object",
  "required": ["leaderboard"],
  "properties": {
    "leaderboard": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["scores"],
        "properties": {
          "scores": {
            "type": "object",
            "required": ["Weighted-F1"]
          },
          "submission": {
            "type": "object",
            "properties": {
              "description": {"type": "string"}
            }
          },
          "bundle": {
            "type": "object",
            "properties": {
              "id": {"type": "string"},
              "dependencies": {
                "type": "array",
                "items": {
                  "type": "object",
                  "properties": {
                    "child_path": {"type": "string"},
                    "parent_uuid": {"type": "string"}
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(recordSchema))
})

// Validate checks data against the leaderboard schema.
func Validate(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile leaderboard schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if result.Valid() {
		return nil
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrMalformed, strings.Join(errs, "; "))
}

// Decode validates and parses a leaderboard file.
func Decode(data []byte) (*Record, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var rec Record
	if err := rec.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &rec, nil
}
