// Package mqtt provides the MQTT client for the MUSOL/SONG controller.
//
// The broker is the controller's only outward transport. It carries two
// traffic classes:
//
//   - Instrument commands: real-mode device backends publish arm/trigger/
//     abort commands to musolsong/command/{instrument} and listen on
//     musolsong/ack/{instrument} and musolsong/status/{instrument}. The
//     hardware bridges behind those topics (PLC, spectrograph server) are
//     separate processes and out of scope here.
//   - Run progress: the engine's progress events and final report are
//     published under musolsong/run/{run_id}/ for any listening front-end.
//     Publishing is fire-and-forget; the engine never waits for listeners.
//
// # Features
//
//   - Automatic reconnection with exponential backoff
//   - Subscription restoration after reconnect
//   - Last Will and Testament for crash detection
//   - Panic recovery in message handlers
//
// # Thread Safety
//
// All Client methods are safe for concurrent use.
package mqtt
