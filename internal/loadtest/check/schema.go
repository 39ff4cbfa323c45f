package check

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type jsonSchema struct {
	schema *jsonschema.Schema
}

// JSONSchema passes when the body validates against schema. The schema is
// compiled once, here.
func JSONSchema(schema string) (Check, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	return &jsonSchema{schema: compiled}, nil
}

func (c *jsonSchema) Name() string { return "body matches schema" }

func (c *jsonSchema) Evaluate(resp Response) (bool, error) {
	var doc interface{}
	if err := json.Unmarshal(resp.Body(), &doc); err != nil {
		return false, fmt.Errorf("invalid JSON: %w", err)
	}

	// A schema violation is a failed check, not an evaluation error.
	if err := c.schema.Validate(doc); err != nil {
		return false, nil
	}
	return true, nil
}
