// Package sequence defines the observation sequence document model,
// its YAML decoding, and the semantic validator that gates entry to
// the execution engine.
//
// A sequence file moves through three stages:
//
//  1. Parse turns raw bytes into a Document or a ParseError. Parsing
//     is purely structural: well-formed YAML, known fields, required
//     fields present.
//  2. Validator.Validate checks the Document semantically against the
//     closed per-mode parameter schema, the device roster, retry and
//     timeout bounds, and the mode transition policy. All defects are
//     collected in one pass.
//  3. A successful validation yields a Validated, the only type the
//     engine will execute. There is no other way to construct one.
//
// The parameter schema is a closed table per mode (see params.go);
// unknown parameter names are rejected rather than passed through.
package sequence
