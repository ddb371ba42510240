package sequence

import (
	"time"

	"github.com/musolsong/musolsong-core/internal/device"
)

// Mode identifies what a step does: configure the instruments without
// collecting science data (calibration) or collect science data
// (observation).
type Mode string

const (
	ModeCalibration Mode = "calibration"
	ModeObservation Mode = "observation"
)

// AllModes returns all valid step modes.
func AllModes() []Mode {
	return []Mode{ModeCalibration, ModeObservation}
}

// Valid reports whether the mode is a recognised value.
func (m Mode) Valid() bool {
	return m == ModeCalibration || m == ModeObservation
}

// RetryPolicy bounds how a failed step attempt is retried.
// Backoff is a fixed delay between attempts.
type RetryPolicy struct {
	MaxRetries     int     `yaml:"max_retries"`
	BackoffSeconds float64 `yaml:"backoff_seconds"`
}

// Backoff returns the inter-attempt delay as a Duration.
func (r RetryPolicy) Backoff() time.Duration {
	return time.Duration(r.BackoffSeconds * float64(time.Second))
}

// Step is one entry of a sequence: a set of modulation parameters applied
// to one or both instruments under a single handshake.
type Step struct {
	Mode Mode `yaml:"mode"`

	// Params maps modulation parameter names to values. The allowed set,
	// ranges and units are fixed per mode; see params.go.
	Params map[string]float64 `yaml:"params"`

	// Devices are the instruments this step coordinates, in declaration
	// order. Order matters: arm/trigger calls are issued in this order
	// and it breaks ties when several devices fail at once.
	Devices []device.Role `yaml:"devices"`

	// TimeoutSeconds bounds the step's wait-ready handshake.
	TimeoutSeconds float64 `yaml:"timeout_seconds"`

	Retry RetryPolicy `yaml:"retry"`

	// Description is free text carried through to logs and reports.
	Description string `yaml:"description,omitempty"`
}

// Timeout returns the handshake bound as a Duration.
func (s Step) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds * float64(time.Second))
}

// Document is the decoded, structurally valid form of a sequence file.
// It carries no semantic guarantees; only a Validated produced by
// Validate may reach the execution engine.
type Document struct {
	ProjectName   string `yaml:"project_name"`
	ProjectNumber int    `yaml:"project_number"`
	Steps         []Step `yaml:"steps"`
}

// deepCopy clones the document so a Validated holds its own state.
// Params maps are cloned; everything else is value-copied.
func (d *Document) deepCopy() Document {
	cpy := *d
	if d.Steps != nil {
		cpy.Steps = make([]Step, len(d.Steps))
		for i, s := range d.Steps {
			cpy.Steps[i] = s
			if s.Params != nil {
				params := make(map[string]float64, len(s.Params))
				for k, v := range s.Params {
					params[k] = v
				}
				cpy.Steps[i].Params = params
			}
			if s.Devices != nil {
				devices := make([]device.Role, len(s.Devices))
				copy(devices, s.Devices)
				cpy.Steps[i].Devices = devices
			}
		}
	}
	return cpy
}

// Validated is a sequence that has passed semantic validation.
//
// It is a distinct type from Document on purpose: the execution engine
// accepts only a Validated, so execution is unreachable without passing
// the Validator. The document inside is a private deep copy; steps are
// immutable once validated.
type Validated struct {
	doc Document
}

// ProjectName returns the project identifier.
func (v *Validated) ProjectName() string { return v.doc.ProjectName }

// ProjectNumber returns the numeric project identifier.
func (v *Validated) ProjectNumber() int { return v.doc.ProjectNumber }

// Steps returns the validated steps in execution order.
// Callers must not mutate the returned slice.
func (v *Validated) Steps() []Step { return v.doc.Steps }
