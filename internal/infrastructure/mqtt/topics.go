package mqtt

import "fmt"

// Topic prefixes for the MUSOL/SONG MQTT contract.
//
// Instrument topics use the flat scheme: musolsong/{category}/{instrument}[/...]
// where instrument is "polarimeter" or "spectrograph". The hardware bridges
// on the far side of these topics are out of scope for the controller; this
// file is the complete wire contract between the two.
const (
	// TopicPrefix is the base for all controller topics.
	TopicPrefix = "musolsong"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "musolsong/system"

	// TopicPrefixRun is the base for run progress topics.
	TopicPrefixRun = "musolsong/run"
)

// Topics provides builders for controller MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.InstrumentCommand("polarimeter")
//	// Returns: "musolsong/command/polarimeter"
type Topics struct{}

// InstrumentCommand returns the topic for commands to an instrument bridge.
//
// Example: musolsong/command/polarimeter
func (Topics) InstrumentCommand(instrument string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, instrument)
}

// InstrumentAck returns the topic for command acknowledgements from an
// instrument bridge. Acks are correlated to commands by command ID.
//
// Example: musolsong/ack/spectrograph
func (Topics) InstrumentAck(instrument string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, instrument)
}

// InstrumentStatus returns the topic for readiness/completion notifications
// from an instrument bridge.
//
// Example: musolsong/status/polarimeter
func (Topics) InstrumentStatus(instrument string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefix, instrument)
}

// RunEvent returns the topic for progress events of a sequence run.
// Front-ends subscribe here; the controller never waits for them.
//
// Example: musolsong/run/f8a1.../event
func (Topics) RunEvent(runID string) string {
	return fmt.Sprintf("%s/%s/event", TopicPrefixRun, runID)
}

// RunReport returns the topic for the final report of a sequence run.
//
// Example: musolsong/run/f8a1.../report
func (Topics) RunReport(runID string) string {
	return fmt.Sprintf("%s/%s/report", TopicPrefixRun, runID)
}

// SystemStatus returns the topic for controller online/offline status.
//
// Example: musolsong/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
