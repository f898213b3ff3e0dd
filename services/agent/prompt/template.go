// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompt renders the fixed prompt catalog used by the agent core.
//
// Templates use single-brace placeholders ({full_name}). A doubled brace
// ({{ or }}) renders a literal brace so JSON examples can be embedded.
// Rendering refuses to run when any placeholder has no input; that is a
// programming error and is never retried.
package prompt

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMissingTemplateInput is matched by every *MissingInputError.
var ErrMissingTemplateInput = errors.New("missing template input")

// MissingInputError lists the placeholders that had no value.
type MissingInputError struct {
	Template Name
	Missing  []string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("prompt %s: missing inputs: %s", e.Template, strings.Join(e.Missing, ", "))
}

// Is makes errors.Is(err, ErrMissingTemplateInput) true.
func (e *MissingInputError) Is(target error) bool {
	return target == ErrMissingTemplateInput
}

// Inputs binds placeholder names to their rendered text.
type Inputs map[string]string

// Clone returns a shallow copy safe to extend.
func (in Inputs) Clone() Inputs {
	out := make(Inputs, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Template is a parsed prompt. It is immutable and safe for concurrent use.
type Template struct {
	name  Name
	text  string
	parts []part
	vars  []string
}

type part struct {
	literal string
	varName string
}

// Parse splits text into literal and placeholder parts.
func Parse(name Name, text string) *Template {
	t := &Template{name: name, text: text}
	seen := make(map[string]bool)

	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.parts = append(t.parts, part{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '{' && i+1 < len(text) && text[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(text) && text[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '{':
			end := identEnd(text, i+1)
			if end > i+1 && end < len(text) && text[end] == '}' {
				flush()
				v := text[i+1 : end]
				t.parts = append(t.parts, part{varName: v})
				if !seen[v] {
					seen[v] = true
					t.vars = append(t.vars, v)
				}
				i = end
			} else {
				lit.WriteByte(c)
			}
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return t
}

func identEnd(s string, start int) int {
	i := start
	for i < len(s) {
		c := s[i]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			i++
			continue
		}
		break
	}
	return i
}

// Name returns the catalog name of the template.
func (t *Template) Name() Name { return t.name }

// Variables returns placeholder names in first-appearance order.
func (t *Template) Variables() []string {
	out := make([]string, len(t.vars))
	copy(out, t.vars)
	return out
}

// References reports whether the template has a {name} placeholder.
func (t *Template) References(name string) bool {
	for _, v := range t.vars {
		if v == name {
			return true
		}
	}
	return false
}

// Render substitutes every placeholder. Extra inputs are ignored.
//
// Outputs:
//
//	string - The rendered prompt.
//	error  - *MissingInputError (sorted names) if any placeholder is unbound.
func (t *Template) Render(inputs Inputs) (string, error) {
	var missing []string
	for _, v := range t.vars {
		if _, ok := inputs[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", &MissingInputError{Template: t.name, Missing: missing}
	}

	var b strings.Builder
	b.Grow(len(t.text))
	for _, p := range t.parts {
		if p.varName != "" {
			b.WriteString(inputs[p.varName])
		} else {
			b.WriteString(p.literal)
		}
	}
	return b.String(), nil
}
