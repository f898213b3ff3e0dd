// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a compiled JSON Schema describing one oracle response shape.
// Schemas are immutable and safe to share.
type Schema struct {
	name         string
	source       string
	compiled     *jsonschema.Schema
	instructions string
}

// NewSchema compiles a JSON Schema document.
//
// Inputs:
//
//	name - Short identifier used in logs, metrics and errors ("reaction").
//	source - JSON Schema text (draft 2020-12 unless $schema says otherwise).
//
// Outputs:
//
//	*Schema - The compiled schema.
//	error - Non-nil if the text is not a valid schema.
func NewSchema(name, source string) (*Schema, error) {
	compiled, err := jsonschema.CompileString(name+".json", source)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{
		name:         name,
		source:       source,
		compiled:     compiled,
		instructions: formatInstructions(source),
	}, nil
}

// MustSchema is NewSchema for package-level schema literals.
func MustSchema(name, source string) *Schema {
	s, err := NewSchema(name, source)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema identifier.
func (s *Schema) Name() string { return s.name }

// Source returns the schema text.
func (s *Schema) Source() string { return s.source }

// FormatInstructions is the text bound to {format_instructions}.
func (s *Schema) FormatInstructions() string { return s.instructions }

// ValidateJSON checks raw JSON against the schema and returns one
// message per failing leaf, sorted. A nil slice means the document is valid.
func (s *Schema) ValidateJSON(raw []byte) ([]string, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return s.validate(doc), nil
}

func (s *Schema) validate(doc any) []string {
	err := s.compiled.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var msgs []string
	collectLeaves(ve, &msgs)
	if len(msgs) == 0 {
		msgs = append(msgs, ve.Error())
	}
	sort.Strings(msgs)
	return msgs
}

func collectLeaves(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*out = append(*out, fmt.Sprintf("%s: %s", loc, ve.Message))
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, out)
	}
}

func formatInstructions(source string) string {
	var b strings.Builder
	b.WriteString("The output should be a single JSON object that conforms to the JSON schema below. ")
	b.WriteString("Do not include any text outside the JSON object.\n\n")
	b.WriteString("```json\n")
	b.WriteString(strings.TrimSpace(source))
	b.WriteString("\n```")
	return b.String()
}
