package sdk

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a malformed variable line, a missing file, an
// unresolved placeholder or malformed JSON.
type ConfigurationError struct {
	Path   string
	Line   string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Path != "" {
		b.WriteString(" in ")
		b.WriteString(e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Line != "" {
		fmt.Fprintf(&b, ": %q", e.Line)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// InvalidActionConfigurationError reports a missing descriptor field, an
// unknown action type or a reference to a resource that does not exist.
type InvalidActionConfigurationError struct {
	Action string
	Field  string
	Reason string
}

func (e *InvalidActionConfigurationError) Error() string {
	if e.Field != "" && e.Reason == "" {
		return fmt.Sprintf("configuration %q missing property %q", e.Action, e.Field)
	}
	if e.Field != "" {
		return fmt.Sprintf("configuration %q property %q: %s", e.Action, e.Field, e.Reason)
	}
	return fmt.Sprintf("configuration %q: %s", e.Action, e.Reason)
}

// MissingField returns the error for an absent required descriptor field.
func MissingField(action, field string) error {
	return &InvalidActionConfigurationError{Action: action, Field: field}
}

// InvalidConfig returns an InvalidActionConfigurationError with a free-form reason.
func InvalidConfig(action, format string, args ...any) error {
	return &InvalidActionConfigurationError{Action: action, Reason: fmt.Sprintf(format, args...)}
}

// UnexpectedResponseError reports an HTTP status outside the documented set
// for an operation.
type UnexpectedResponseError struct {
	Operation  string
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *UnexpectedResponseError) Error() string {
	msg := fmt.Sprintf("unexpected %s response (%d) for %s %s", e.Operation, e.StatusCode, e.Method, e.Path)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// PreconditionError reports remote state that an action requires but is absent,
// such as a realm that does not exist.
type PreconditionError struct {
	Action string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("action %q precondition failed: %s", e.Action, e.Reason)
}
