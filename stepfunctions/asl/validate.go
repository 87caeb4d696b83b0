package asl

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaSource string

const schemaURL = "https://stepfunction-inspector/asl.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString(schemaURL, schemaSource)
	})
	return schema, schemaErr
}

// Validate lints a definition payload against the structural rules of the
// language. It is stricter than Parse and is used for reporting only; a
// payload that fails validation may still produce a usable graph.
func Validate(payload []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("failed to compile definition schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("definition failed validation: %w", err)
	}
	return nil
}
