package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteStepDuration records the handshake duration of one step attempt.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - projectName: Project the run belongs to
//   - mode: Step mode ("calibration" or "observation")
//   - outcome: Attempt outcome ("success", "timeout", "device_error")
//   - stepIndex: Zero-based step position in the sequence
//   - durationMS: Trigger-to-last-ready elapsed time in milliseconds
func (c *Client) WriteStepDuration(projectName, mode, outcome string, stepIndex int, durationMS int64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"step_duration",
		map[string]string{
			"project": projectName,
			"mode":    mode,
			"outcome": outcome,
		},
		map[string]interface{}{
			"step_index":  stepIndex,
			"duration_ms": durationMS,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteRunSummary records the outcome of a completed run.
//
// Parameters:
//   - projectName: Project the run belongs to
//   - finalState: Terminal run state ("completed", "failed", "aborted", ...)
//   - stepsTotal: Number of steps in the sequence
//   - stepsCompleted: Number of steps that succeeded
//   - durationMS: Total run duration in milliseconds
func (c *Client) WriteRunSummary(projectName, finalState string, stepsTotal, stepsCompleted int, durationMS int64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"run_summary",
		map[string]string{
			"project":     projectName,
			"final_state": finalState,
		},
		map[string]interface{}{
			"steps_total":     stepsTotal,
			"steps_completed": stepsCompleted,
			"duration_ms":     durationMS,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
