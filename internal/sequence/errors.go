package sequence

import "fmt"

// ParseKind classifies why a sequence file failed to decode.
type ParseKind string

const (
	// ParseMalformedSyntax means the bytes are not well-formed YAML or
	// do not match the document structure.
	ParseMalformedSyntax ParseKind = "malformed_syntax"

	// ParseMissingField means a structurally required field is absent.
	ParseMissingField ParseKind = "missing_field"
)

// ParseError reports a failure to turn raw bytes into a Document.
type ParseError struct {
	Kind ParseKind

	// Field is the path of the absent field for ParseMissingField,
	// for example "steps[2].mode". Empty for syntax errors.
	Field string

	Err error
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case ParseMissingField:
		return fmt.Sprintf("sequence: missing required field %q", e.Field)
	default:
		if e.Err != nil {
			return fmt.Sprintf("sequence: malformed document: %v", e.Err)
		}
		return "sequence: malformed document"
	}
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationKind classifies a semantic validation failure.
type ValidationKind string

const (
	KindEmptyProjectName     ValidationKind = "empty_project_name"
	KindInvalidProjectNumber ValidationKind = "invalid_project_number"
	KindEmptySequence        ValidationKind = "empty_sequence"
	KindInvalidMode          ValidationKind = "invalid_mode"
	KindUnknownParam         ValidationKind = "unknown_param"
	KindMissingRequiredParam ValidationKind = "missing_required_param"
	KindParamOutOfRange      ValidationKind = "param_out_of_range"
	KindEmptyTargetDevices   ValidationKind = "empty_target_devices"
	KindInvalidDevice        ValidationKind = "invalid_device"
	KindNonPositiveTimeout   ValidationKind = "non_positive_timeout"
	KindInvalidRetryPolicy   ValidationKind = "invalid_retry_policy"
	KindInvalidTransition    ValidationKind = "invalid_mode_transition"
)

// ValidationError is one semantic defect found by the Validator.
// Validation is exhaustive, so a single pass reports every defect in
// the document rather than stopping at the first.
type ValidationError struct {
	Kind ValidationKind `json:"kind"`

	// Step is the zero-based index of the offending step, or -1 for
	// document-level errors.
	Step int `json:"step"`

	// Param names the offending parameter where applicable.
	Param string `json:"param,omitempty"`

	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Step < 0 {
		return fmt.Sprintf("sequence: %s", e.Message)
	}
	return fmt.Sprintf("sequence: step %d: %s", e.Step, e.Message)
}
