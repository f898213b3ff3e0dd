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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchema_Invalid(t *testing.T) {
	_, err := NewSchema("bad", `{"type": 12}`)
	assert.Error(t, err)
	assert.Panics(t, func() { MustSchema("bad", `not json`) })
}

func TestSchema_FixedArity(t *testing.T) {
	s := MustSchema("questions", `{
		"type": "object",
		"properties": {"questions": {"type": "array", "items": {"type": "string"}, "minItems": 3, "maxItems": 3}},
		"required": ["questions"]
	}`)

	msgs, err := s.ValidateJSON([]byte(`{"questions": ["a", "b", "c"]}`))
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = s.ValidateJSON([]byte(`{"questions": ["a", "b"]}`))
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[0], "/questions")
}

func TestSchema_Enum(t *testing.T) {
	s := MustSchema("reaction", `{"type":"object","properties":{"reaction":{"enum":["continue","postpone","cancel"]}},"required":["reaction"]}`)
	msgs, err := s.ValidateJSON([]byte(`{"reaction": "ignore"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, msgs)

	_, err = s.ValidateJSON([]byte(`{"reaction": `))
	assert.Error(t, err)
}

func TestSchema_FormatInstructionsEmbedSchema(t *testing.T) {
	assert.Contains(t, ratingSchema.FormatInstructions(), `"maximum": 10`)
	assert.Equal(t, "rating", ratingSchema.Name())
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, true},
		{"prose", `The answer is {"a":1}. Done.`, `{"a":1}`, true},
		{"fence", "```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"nested", `x {"a":{"b":[1,2]}} y {"c":2}`, `{"a":{"b":[1,2]}}`, true},
		{"brace in string", `{"a":"}{"}`, `{"a":"}{"}`, true},
		{"escaped quote", `{"a":"say \"hi\" }"}`, `{"a":"say \"hi\" }"}`, true},
		{"unbalanced then valid", `{ oops {"a":1}`, `{"a":1}`, true},
		{"none", "no json here", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSON(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
