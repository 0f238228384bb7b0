// internal/schema/validator.go
// Package schema provides JSON schema validation for request bodies.
// It rejects malformed payloads before they are decoded into model types.
package schema

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	errordefs "github.com/RegistryAccord/registryaccord-imageapi-go/internal/errors"
)

// Names of the bundled request schemas.
const (
	SearchRequest = "search-request"
	ImportRequest = "import-request"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Validator validates request bodies against JSON schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema // Map of schema names to compiled schemas
}

// NewValidator compiles every bundled schema.
// Returns:
//   - *Validator: Initialized validator instance
//   - error: Any error that occurred during initialization
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}

	for _, name := range []string{SearchRequest, ImportRequest} {
		raw, err := schemaFS.ReadFile("schemas/" + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("failed to read %s schema: %w", name, err)
		}
		if err := v.loadSchema(name, raw); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// loadSchema parses and compiles one schema.
func (v *Validator) loadSchema(name string, schemaJSON []byte) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", name, err)
	}
	v.schemas[name] = schema
	return nil
}

// Validate checks body against the named schema. Invalid JSON and schema
// violations are IMG_BAD_REQUEST errors listing each violation in Details.
func (v *Validator) Validate(name string, body []byte) error {
	schema, exists := v.schemas[name]
	if !exists {
		return fmt.Errorf("schema not found: %s", name)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return errordefs.Wrap(errordefs.IMG_BAD_REQUEST, err, "request body is not valid JSON")
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return errordefs.NewWithDetails(errordefs.IMG_BAD_REQUEST,
			"request body does not match "+name+": "+strings.Join(errs, "; "), "", errs)
	}
	return nil
}
