package runes

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// JSON Schemas (Draft-7) for the field sets of each supported UI component.
// The required-key presence check runs first and produces its own error; the
// schemas guard the field value shapes.
const sliderFieldsSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"ui_component": {"type": "string"},
		"min": {"type": "number"},
		"max": {"type": "number"},
		"step": {"type": "number", "exclusiveMinimum": 0},
		"default": {"type": "number"}
	},
	"required": ["min", "max", "step", "default"]
}`

const multiChoiceFieldsSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"ui_component": {"type": "string"},
		"options": {
			"type": "array",
			"minItems": 1,
			"items": {"type": ["string", "number", "boolean"]}
		},
		"default": {}
	},
	"required": ["options", "default"]
}`

var (
	uiSchemasOnce sync.Once
	uiSchemas     map[UIComponent]*gojsonschema.Schema
	uiSchemasErr  error
)

func componentSchemas() (map[UIComponent]*gojsonschema.Schema, error) {
	uiSchemasOnce.Do(func() {
		sources := map[UIComponent]string{
			UISlider:      sliderFieldsSchema,
			UIMultiChoice: multiChoiceFieldsSchema,
		}
		uiSchemas = make(map[UIComponent]*gojsonschema.Schema, len(sources))
		for component, source := range sources {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
			if err != nil {
				uiSchemasErr = fmt.Errorf("failed to compile schema for UI component '%s': %w", component, err)
				return
			}
			uiSchemas[component] = schema
		}
	})
	return uiSchemas, uiSchemasErr
}

// validateUIComponentFields validates an annotation's field values against
// the component's JSON Schema.
func validateUIComponentFields(param string, component UIComponent, ann UIAnnotation) error {
	schemas, err := componentSchemas()
	if err != nil {
		return err
	}

	schema, ok := schemas[component]
	if !ok {
		return NewUnsupportedUIComponentError(param, string(component))
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(map[string]any(ann)))
	if err != nil {
		return fmt.Errorf("failed to validate UI fields for parameter '%s': %w", param, err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			details = append(details, resultErr.String())
		}
		return NewInvalidUIFieldsError(param, component, strings.Join(details, "; "))
	}

	return nil
}
