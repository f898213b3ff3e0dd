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
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSchemaValidation is matched by *SchemaValidationError.
	ErrSchemaValidation = errors.New("oracle response failed schema validation")

	// ErrOracleUnavailable means every attempt failed in transport.
	ErrOracleUnavailable = errors.New("oracle unavailable")

	// ErrNoJSON is reported as a violation when a response has no JSON object.
	ErrNoJSON = errors.New("response contains no JSON object")
)

// SchemaValidationError is returned when the retry budget is spent
// without a response that passes every check.
type SchemaValidationError struct {
	// Schema is the name of the schema that was violated.
	Schema string

	// Attempts is how many oracle responses were examined.
	Attempts int

	// Violations from the last rejected response.
	Violations []string

	// LastResponse is the raw text of the last rejected response.
	LastResponse string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("oracle: schema %s: %d attempts rejected: %s",
		e.Schema, e.Attempts, strings.Join(e.Violations, "; "))
}

// Is makes errors.Is(err, ErrSchemaValidation) true.
func (e *SchemaValidationError) Is(target error) bool {
	return target == ErrSchemaValidation
}

// violation is one rejected response, kept for the correction prompt.
type violation struct {
	messages []string
	response string
}

func (v *violation) Error() string {
	return strings.Join(v.messages, "; ")
}

func newViolation(response string, msgs ...string) *violation {
	return &violation{messages: msgs, response: response}
}
