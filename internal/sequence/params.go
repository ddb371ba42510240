package sequence

// ParamSpec describes one allowed modulation parameter for a mode.
type ParamSpec struct {
	Name     string
	Unit     string
	Min      float64
	Max      float64
	Required bool

	// Divides, when non-zero, requires the value to divide this number
	// evenly. Used for retarder increments that must tile a full turn.
	Divides float64
}

// The parameter schema is closed per mode: any name outside the table
// is rejected, there is no passthrough for unknown parameters.
var modeSchemas = map[Mode][]ParamSpec{
	ModeObservation: {
		{Name: "alpha", Unit: "deg", Min: -180, Max: 180, Required: true},
		{Name: "beta", Unit: "deg", Min: -180, Max: 180, Required: true},
		{Name: "exposure", Unit: "s", Min: 0.1, Max: 300, Required: true},
		{Name: "repeat", Unit: "count", Min: 1, Max: 100},
	},
	ModeCalibration: {
		{Name: "angle", Unit: "deg", Min: 0, Max: 180, Required: true},
		{Name: "retarder", Unit: "deg", Min: 1, Max: 360, Divides: 360},
		{Name: "exposure", Unit: "s", Min: 0.1, Max: 300},
		{Name: "repeat", Unit: "count", Min: 1, Max: 100},
	},
}

// SchemaFor returns the parameter specs allowed for a mode, or nil if
// the mode is unknown.
func SchemaFor(m Mode) []ParamSpec {
	return modeSchemas[m]
}
