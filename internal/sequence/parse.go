package sequence

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Fields that must be present in the document and in every step. Their
// values are judged later by the Validator; parsing only checks that
// the keys exist at all, so "absent" and "present but wrong" produce
// different error kinds.
var (
	requiredDocFields  = []string{"project_name", "project_number", "steps"}
	requiredStepFields = []string{"mode", "params", "devices", "timeout_seconds"}
)

// Parse decodes a sequence document from raw YAML bytes.
//
// It returns a *ParseError with kind ParseMalformedSyntax when the
// bytes are not well-formed YAML or contain unknown fields, and kind
// ParseMissingField when a required field is absent. The returned
// Document is structurally sound but not yet semantically validated.
func Parse(data []byte) (*Document, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Kind: ParseMalformedSyntax, Err: err}
	}
	if raw == nil {
		return nil, &ParseError{Kind: ParseMissingField, Field: requiredDocFields[0]}
	}

	for _, field := range requiredDocFields {
		if _, ok := raw[field]; !ok {
			return nil, &ParseError{Kind: ParseMissingField, Field: field}
		}
	}
	if steps, ok := raw["steps"].([]any); ok {
		for i, entry := range steps {
			step, ok := entry.(map[string]any)
			if !ok {
				return nil, &ParseError{
					Kind: ParseMalformedSyntax,
					Err:  fmt.Errorf("steps[%d] is not a mapping", i),
				}
			}
			for _, field := range requiredStepFields {
				if _, ok := step[field]; !ok {
					return nil, &ParseError{
						Kind:  ParseMissingField,
						Field: fmt.Sprintf("steps[%d].%s", i, field),
					}
				}
			}
		}
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, &ParseError{Kind: ParseMalformedSyntax, Err: err}
	}
	return &doc, nil
}

// ParseFile reads and parses a sequence document from disk.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sequence: read %s: %w", path, err)
	}
	return Parse(data)
}
