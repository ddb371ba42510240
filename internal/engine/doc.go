// Package engine executes validated observation sequences against the
// instrument bench.
//
// The Engine owns the run lifecycle: it validates a document, walks
// the steps in order, and hands each step to the Synchronizer, which
// performs the arm/trigger/wait handshake across the step's target
// instruments. A step that fails is retried per its retry policy with
// a fixed backoff; a step that exhausts its budget fails the run, and
// later steps never start.
//
// Collaborators are optional and injected: a Notifier receives
// progress events, a Repository persists run history to SQLite, and a
// Recorder forwards step timings to InfluxDB. All three are
// fire-and-forget from the run's point of view; their failures are
// logged but never stop a sequence.
package engine
