// Package sim provides in-process simulated instruments that satisfy
// the device capability contract.
//
// Simulated instruments back the engine when the system runs with
// simulation enabled, and they double as scriptable test doubles:
// each operation can be fed one-shot errors, timeouts and ready
// delays so failure handling can be exercised without a bench.
package sim
