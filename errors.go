package runes

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError represents a contract violation detected while building a
// parameter contract or registering a method. It is raised synchronously and
// never retried.
type ValidationError struct {
	Parameter string
	Key       string
	Message   string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewTooManyParametersError creates an error for methods exceeding the parameter limit
func NewTooManyParametersError(count int) *ValidationError {
	return &ValidationError{
		Message: fmt.Sprintf("method cannot have more than %d parameters (got %d)", MaxParameterCount, count),
	}
}

// NewParameterNameTooLongError creates an error for over-long parameter names
func NewParameterNameTooLongError(name string) *ValidationError {
	return &ValidationError{
		Parameter: name,
		Message:   fmt.Sprintf("parameter name '%s' exceeds %d characters", name, MaxParameterNameLength),
	}
}

// NewDuplicateParameterError creates an error for repeated parameter names
func NewDuplicateParameterError(name string) *ValidationError {
	return &ValidationError{
		Parameter: name,
		Message:   fmt.Sprintf("duplicate parameter name '%s' detected", name),
	}
}

// NewMissingTypeError creates an error for parameters without a type descriptor
func NewMissingTypeError(name string) *ValidationError {
	return &ValidationError{
		Parameter: name,
		Message:   fmt.Sprintf("parameter '%s' is missing a type annotation", name),
	}
}

// NewUnsupportedTypeError creates an error for parameter types outside the supported set
func NewUnsupportedTypeError(name string, paramType ParamType) *ValidationError {
	return &ValidationError{
		Parameter: name,
		Message:   fmt.Sprintf("unsupported type '%s' for parameter '%s'", paramType, name),
	}
}

// NewUnsupportedUIKeyError creates an error for UI annotation keys outside the allow-list
func NewUnsupportedUIKeyError(name, key string) *ValidationError {
	return &ValidationError{
		Parameter: name,
		Key:       key,
		Message:   fmt.Sprintf("unsupported UI param '%s' for parameter '%s'", key, name),
	}
}

// NewUnsupportedUIComponentError creates an error for unknown UI components
func NewUnsupportedUIComponentError(name, component string) *ValidationError {
	return &ValidationError{
		Parameter: name,
		Message:   fmt.Sprintf("unsupported UI component '%s' for parameter '%s'", component, name),
	}
}

// NewMissingUIFieldsError creates an error for UI components missing required fields
func NewMissingUIFieldsError(name string, component UIComponent, missing []string) *ValidationError {
	sorted := append([]string(nil), missing...)
	sort.Strings(sorted)
	return &ValidationError{
		Parameter: name,
		Message: fmt.Sprintf("missing required param(s) [%s] for UI component '%s' in parameter '%s'",
			strings.Join(sorted, ", "), component, name),
	}
}

// NewInvalidUIFieldsError creates an error for UI component fields failing schema validation
func NewInvalidUIFieldsError(name string, component UIComponent, details string) *ValidationError {
	return &ValidationError{
		Parameter: name,
		Message: fmt.Sprintf("invalid fields for UI component '%s' in parameter '%s': %s",
			component, name, details),
	}
}

// NewInvalidSettingError creates an error for audio target values outside the valid set
func NewInvalidSettingError(setting string, value, valid any) *ValidationError {
	return &ValidationError{
		Message: fmt.Sprintf("invalid %s: '%v'. Valid %ss are: %v", setting, value, setting, valid),
	}
}

// StateError represents an operation attempted before its preconditions were
// configured: registration without a master token, or dispatch of an
// unregistered method name.
type StateError struct {
	Message string
}

func (e *StateError) Error() string {
	return e.Message
}

// ServiceError represents a transient HTTP failure talking to the identity
// service or work queue. Write paths retry these with exponential backoff
// before surfacing them; the polling loops log and continue.
type ServiceError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s failed with status %d", e.Operation, e.StatusCode)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
