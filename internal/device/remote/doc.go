// Package remote implements the device capability contract over MQTT
// for the real bench instruments.
//
// Each instrument has a hardware bridge listening on a command topic
// and replying on ack and status topics. Commands carry correlation
// IDs; an ack must arrive within the configured timeout or the command
// counts as lost communication. Readiness and faults arrive
// asynchronously on the status topic and resolve WaitReady.
//
// The wire contract is the topic scheme in the infrastructure mqtt
// package plus the JSON shapes in this package. The bridges themselves
// live with the instrument hardware and are not part of this codebase.
package remote
