package runes

import "strings"

const (
	// MaxParameterCount is the maximum number of parameters a registered method may declare
	MaxParameterCount = 12
	// MaxParameterNameLength is the maximum length of a parameter name
	MaxParameterNameLength = 36
)

// ParamType identifies one of the supported parameter primitive kinds
type ParamType string

const (
	ParamBool   ParamType = "bool"
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamString ParamType = "string"
	ParamFile   ParamType = "file-reference"
)

var supportedParamTypes = map[ParamType]bool{
	ParamBool:   true,
	ParamInt:    true,
	ParamFloat:  true,
	ParamString: true,
	ParamFile:   true,
}

// UIComponent identifies a supported UI control for a parameter
type UIComponent string

const (
	UISlider      UIComponent = "slider"
	UIMultiChoice UIComponent = "multi-choice"
)

var uiComponentRequirements = map[UIComponent][]string{
	UISlider:      {"min", "max", "step", "default"},
	UIMultiChoice: {"options", "default"},
}

var supportedUIKeys = map[string]bool{
	"min":          true,
	"max":          true,
	"step":         true,
	"default":      true,
	"ui_component": true,
	"options":      true,
}

// ParamDescriptor declares one parameter of the method being registered: its
// name, its type, and an optional declared default. A nil Default means the
// method declared none and a type-appropriate default is computed.
type ParamDescriptor struct {
	Name    string
	Type    ParamType
	Default any
}

// UIAnnotation holds the UI control annotation for a single parameter.
// Allowed keys: min, max, step, default, ui_component, options.
type UIAnnotation map[string]any

// UIAnnotations maps parameter names to their UI annotations
type UIAnnotations map[string]UIAnnotation

// ParameterSpec is the validated, serializable schema for one parameter
type ParameterSpec struct {
	Name              string         `json:"name"`
	Type              ParamType      `json:"type"`
	DefaultValue      any            `json:"default_value"`
	UIComponent       *UIComponent   `json:"ui_component"`
	UIComponentFields map[string]any `json:"ui_component_fields,omitempty"`
}

// MethodContract is the full UI-describable contract for the registered
// method: its parameter schema plus descriptive metadata. Descriptive fields
// are kept in sync with the client after registration.
type MethodContract struct {
	MethodName  string          `json:"method_name"`
	Params      []ParameterSpec `json:"params"`
	Author      string          `json:"author"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Version     string          `json:"version"`
}

// BuildParameterContract inspects the declared parameter descriptors and
// their UI annotations and produces the validated parameter schema, one
// ParameterSpec per descriptor in declaration order. Any violation fails
// with a ValidationError naming the offending parameter or key; no partial
// contract is produced.
func BuildParameterContract(descriptors []ParamDescriptor, annotations UIAnnotations) ([]ParameterSpec, error) {
	if len(descriptors) > MaxParameterCount {
		return nil, NewTooManyParametersError(len(descriptors))
	}

	seen := make(map[string]bool, len(descriptors))
	specs := make([]ParameterSpec, 0, len(descriptors))

	for _, desc := range descriptors {
		if len(desc.Name) > MaxParameterNameLength {
			return nil, NewParameterNameTooLongError(desc.Name)
		}
		if seen[desc.Name] {
			return nil, NewDuplicateParameterError(desc.Name)
		}
		seen[desc.Name] = true

		if desc.Type == "" {
			return nil, NewMissingTypeError(desc.Name)
		}
		if !supportedParamTypes[desc.Type] {
			return nil, NewUnsupportedTypeError(desc.Name, desc.Type)
		}

		spec := ParameterSpec{
			Name:         desc.Name,
			Type:         desc.Type,
			DefaultValue: desc.Default,
		}
		if spec.DefaultValue == nil {
			spec.DefaultValue = defaultForType(desc.Type)
		}

		if ann, ok := annotations[desc.Name]; ok {
			if err := applyUIAnnotation(&spec, ann); err != nil {
				return nil, err
			}
		}

		specs = append(specs, spec)
	}

	return specs, nil
}

// defaultForType computes the type-appropriate default when the method
// declares none: bool→false, int→0, float→0.0, string→"", file→nil.
func defaultForType(t ParamType) any {
	switch t {
	case ParamBool:
		return false
	case ParamInt:
		return 0
	case ParamFloat:
		return 0.0
	case ParamString:
		return ""
	default:
		return nil
	}
}

// applyUIAnnotation validates an annotation against the allow-list and the
// named component's requirements, then folds it into the spec. An explicit
// `default` in the annotation overrides the computed default.
func applyUIAnnotation(spec *ParameterSpec, ann UIAnnotation) error {
	for key := range ann {
		if !supportedUIKeys[key] {
			return NewUnsupportedUIKeyError(spec.Name, key)
		}
	}

	if raw, ok := ann["ui_component"]; ok {
		name, _ := raw.(string)
		component := UIComponent(strings.ToLower(name))
		required, supported := uiComponentRequirements[component]
		if !supported {
			return NewUnsupportedUIComponentError(spec.Name, name)
		}

		var missing []string
		for _, key := range required {
			if _, present := ann[key]; !present {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			return NewMissingUIFieldsError(spec.Name, component, missing)
		}

		if err := validateUIComponentFields(spec.Name, component, ann); err != nil {
			return err
		}

		spec.UIComponent = &component
		fields := make(map[string]any)
		for key, value := range ann {
			if key == "ui_component" || key == "default" {
				continue
			}
			fields[key] = value
		}
		if len(fields) > 0 {
			spec.UIComponentFields = fields
		}
	}

	if def, ok := ann["default"]; ok {
		spec.DefaultValue = def
	}

	return nil
}
