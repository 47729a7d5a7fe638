package annostore

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const annotationSchema = `{
  "type": "object",
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string"},
    "datasetId": {"type": "string", "minLength": 1},
    "shape": {"enum": ["point", "line", "polygon"]},
    "tags": {"type": "array", "items": {"type": "string"}},
    "channel": {"type": "integer", "minimum": 0},
    "location": {
      "type": "object",
      "properties": {
        "XY": {"type": "integer", "minimum": 0},
        "Z": {"type": "integer", "minimum": 0},
        "Time": {"type": "integer", "minimum": 0}
      },
      "required": ["XY", "Z", "Time"]
    },
    "coordinates": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {"x": {"type": "number"}, "y": {"type": "number"}},
        "required": ["x", "y"]
      }
    }
  },
  "required": ["datasetId", "shape", "tags", "channel", "location", "coordinates"]
}`

const connectionSchema = `{
  "type": "object",
  "properties": {
    "label": {"type": "string"},
    "parentId": {"type": "string", "minLength": 1},
    "childId": {"type": "string", "minLength": 1},
    "datasetId": {"type": "string", "minLength": 1},
    "tags": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["parentId", "childId", "datasetId", "tags"]
}`

type schemas struct {
	annotation *jsonschema.Schema
	connection *jsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	ann, err := jsonschema.CompileString("annotation.json", annotationSchema)
	if err != nil {
		return nil, fmt.Errorf("compile annotation schema: %w", err)
	}
	conn, err := jsonschema.CompileString("connection.json", connectionSchema)
	if err != nil {
		return nil, fmt.Errorf("compile connection schema: %w", err)
	}
	return &schemas{annotation: ann, connection: conn}, nil
}

// validate checks doc, a Go value, against sch by round-tripping it through
// its JSON form.
func validate(sch *jsonschema.Schema, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return nil
}
