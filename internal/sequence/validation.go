package sequence

import (
	"fmt"
	"math"
	"sort"

	"github.com/musolsong/musolsong-core/internal/device"
)

// TransitionPolicy declares which step mode may follow which. It is
// keyed by the preceding mode; the value lists the modes allowed to
// come next. Modes absent from the map allow no successor.
type TransitionPolicy map[Mode][]Mode

// DefaultTransitionPolicy allows calibration to precede anything but
// forbids returning to calibration once observation has begun. Moving
// the retarder stage back into a calibration pose mid-run would
// invalidate the preceding science exposures.
func DefaultTransitionPolicy() TransitionPolicy {
	return TransitionPolicy{
		ModeCalibration: {ModeCalibration, ModeObservation},
		ModeObservation: {ModeObservation},
	}
}

// Allows reports whether a step of mode next may directly follow a
// step of mode prev.
func (p TransitionPolicy) Allows(prev, next Mode) bool {
	for _, m := range p[prev] {
		if m == next {
			return true
		}
	}
	return false
}

// Validator checks the semantics of a parsed Document against the
// closed parameter schema and a mode transition policy.
type Validator struct {
	policy TransitionPolicy
}

// NewValidator creates a Validator. A nil policy falls back to
// DefaultTransitionPolicy.
func NewValidator(policy TransitionPolicy) *Validator {
	if policy == nil {
		policy = DefaultTransitionPolicy()
	}
	return &Validator{policy: policy}
}

// Validate performs an exhaustive semantic check of the document.
//
// Every defect is collected; validation never stops at the first
// error, so one pass over the report shows everything wrong with a
// sequence file. On success the returned *Validated wraps a private
// deep copy of the document and the error slice is nil.
func (v *Validator) Validate(doc *Document) (*Validated, []ValidationError) {
	var errs []ValidationError

	if doc.ProjectName == "" {
		errs = append(errs, ValidationError{
			Kind:    KindEmptyProjectName,
			Step:    -1,
			Message: "project_name must not be empty",
		})
	}
	if doc.ProjectNumber <= 0 {
		errs = append(errs, ValidationError{
			Kind:    KindInvalidProjectNumber,
			Step:    -1,
			Message: fmt.Sprintf("project_number must be positive, got %d", doc.ProjectNumber),
		})
	}
	if len(doc.Steps) == 0 {
		errs = append(errs, ValidationError{
			Kind:    KindEmptySequence,
			Step:    -1,
			Message: "sequence must contain at least one step",
		})
	}

	var prevMode Mode
	for i, step := range doc.Steps {
		errs = append(errs, v.validateStep(i, step)...)

		if step.Mode.Valid() {
			if i > 0 && prevMode.Valid() && !v.policy.Allows(prevMode, step.Mode) {
				errs = append(errs, ValidationError{
					Kind: KindInvalidTransition,
					Step: i,
					Message: fmt.Sprintf("a %s step may not follow a %s step",
						step.Mode, prevMode),
				})
			}
			prevMode = step.Mode
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return &Validated{doc: doc.deepCopy()}, nil
}

func (v *Validator) validateStep(index int, step Step) []ValidationError {
	var errs []ValidationError

	schema := SchemaFor(step.Mode)
	if schema == nil {
		errs = append(errs, ValidationError{
			Kind:    KindInvalidMode,
			Step:    index,
			Message: fmt.Sprintf("unknown mode %q", step.Mode),
		})
	} else {
		errs = append(errs, validateParams(index, step, schema)...)
	}

	if len(step.Devices) == 0 {
		errs = append(errs, ValidationError{
			Kind:    KindEmptyTargetDevices,
			Step:    index,
			Message: "devices must name at least one instrument",
		})
	}
	seen := make(map[device.Role]bool, len(step.Devices))
	for _, role := range step.Devices {
		if !role.Valid() {
			errs = append(errs, ValidationError{
				Kind:    KindInvalidDevice,
				Step:    index,
				Message: fmt.Sprintf("unknown device %q", role),
			})
			continue
		}
		if seen[role] {
			errs = append(errs, ValidationError{
				Kind:    KindInvalidDevice,
				Step:    index,
				Message: fmt.Sprintf("device %q listed more than once", role),
			})
		}
		seen[role] = true
	}

	if step.TimeoutSeconds <= 0 {
		errs = append(errs, ValidationError{
			Kind:    KindNonPositiveTimeout,
			Step:    index,
			Message: fmt.Sprintf("timeout_seconds must be positive, got %g", step.TimeoutSeconds),
		})
	}
	if step.Retry.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Kind:    KindInvalidRetryPolicy,
			Step:    index,
			Message: fmt.Sprintf("retry.max_retries must not be negative, got %d", step.Retry.MaxRetries),
		})
	}
	if step.Retry.BackoffSeconds < 0 {
		errs = append(errs, ValidationError{
			Kind:    KindInvalidRetryPolicy,
			Step:    index,
			Message: fmt.Sprintf("retry.backoff_seconds must not be negative, got %g", step.Retry.BackoffSeconds),
		})
	}

	return errs
}

func validateParams(index int, step Step, schema []ParamSpec) []ValidationError {
	var errs []ValidationError

	specs := make(map[string]ParamSpec, len(schema))
	for _, spec := range schema {
		specs[spec.Name] = spec
		if !spec.Required {
			continue
		}
		if _, ok := step.Params[spec.Name]; !ok {
			errs = append(errs, ValidationError{
				Kind:  KindMissingRequiredParam,
				Step:  index,
				Param: spec.Name,
				Message: fmt.Sprintf("mode %s requires parameter %q (%s)",
					step.Mode, spec.Name, spec.Unit),
			})
		}
	}

	// Map iteration order is random; sort so repeated validation of the
	// same document reports parameters in a stable order.
	names := make([]string, 0, len(step.Params))
	for name := range step.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := step.Params[name]
		spec, ok := specs[name]
		if !ok {
			errs = append(errs, ValidationError{
				Kind:    KindUnknownParam,
				Step:    index,
				Param:   name,
				Message: fmt.Sprintf("parameter %q is not allowed in mode %s", name, step.Mode),
			})
			continue
		}
		if value < spec.Min || value > spec.Max {
			errs = append(errs, ValidationError{
				Kind:  KindParamOutOfRange,
				Step:  index,
				Param: name,
				Message: fmt.Sprintf("parameter %q = %g outside range [%g, %g] %s",
					name, value, spec.Min, spec.Max, spec.Unit),
			})
			continue
		}
		if spec.Divides != 0 && math.Mod(spec.Divides, value) != 0 {
			errs = append(errs, ValidationError{
				Kind:  KindParamOutOfRange,
				Step:  index,
				Param: name,
				Message: fmt.Sprintf("parameter %q = %g must divide %g evenly",
					name, value, spec.Divides),
			})
		}
	}

	return errs
}
