// Package influxdb provides time-series telemetry for sequence runs.
//
// The controller records two measurements:
//
//   - step_duration: one point per step attempt, tagged by project, mode
//     and outcome, carrying the trigger-to-ready handshake duration
//   - run_summary: one point per terminated run with step counts and
//     total duration
//
// Writes are batched and non-blocking; a slow or absent InfluxDB server
// never delays a handshake. The integration is optional and disabled by
// default; the engine accepts a nil recorder.
package influxdb
