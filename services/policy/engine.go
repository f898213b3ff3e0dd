// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy classifies text against regex data-classification
// rules. The save-document tool asks it before an agent writes anything
// that looks like a credential or personal data into the shared store.
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Public is returned by Classify when nothing matches.
const Public = "public"

// ErrBlocked is matched by every *ViolationError.
var ErrBlocked = errors.New("content blocked by document policy")

//go:embed patterns.yaml
var defaultPatterns []byte

// ViolationError names the first blocked finding.
type ViolationError struct {
	Finding Finding
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%s: contains %s (%s) on line %d",
		ErrBlocked, e.Finding.ClassificationName, e.Finding.PatternDescription, e.Finding.LineNumber)
}

func (e *ViolationError) Is(target error) bool { return target == ErrBlocked }

// Engine holds the compiled classifications, highest priority first.
//
// Thread Safety: Safe for concurrent use; immutable after construction.
type Engine struct {
	classifications []Classification
	blocked         map[string]bool
	minConfidence   ConfidenceLevel
}

// Option configures an Engine.
type Option func(*Engine)

// WithBlocked sets the classifications Check rejects. The default is
// "secret".
func WithBlocked(names ...string) Option {
	return func(e *Engine) {
		e.blocked = make(map[string]bool, len(names))
		for _, n := range names {
			e.blocked[n] = true
		}
	}
}

// WithMinConfidence ignores weaker patterns in Check. The default is Medium.
func WithMinConfidence(level ConfidenceLevel) Option {
	return func(e *Engine) { e.minConfidence = level }
}

// New builds an Engine from the embedded patterns.
func New(opts ...Option) (*Engine, error) {
	return Load(defaultPatterns, opts...)
}

// Load builds an Engine from classification YAML.
func Load(data []byte, opts ...Option) (*Engine, error) {
	var file classificationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy patterns: %w", err)
	}
	if err := file.compile(); err != nil {
		return nil, err
	}
	file.sortByPriority()

	e := &Engine{
		classifications: file.Classifications,
		blocked:         map[string]bool{"secret": true},
		minConfidence:   Medium,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Classifications returns the names known to the engine, highest
// priority first.
func (e *Engine) Classifications() []string {
	out := make([]string, len(e.classifications))
	for i, c := range e.classifications {
		out[i] = c.Name
	}
	return out
}

// Classify returns the first classification that matches data, or Public.
func (e *Engine) Classify(data []byte) string {
	for _, c := range e.classifications {
		for _, p := range c.Patterns {
			if p.compiled.Match(data) {
				return c.Name
			}
		}
	}
	return Public
}

// Scan reports every match, line by line, in priority order per line.
func (e *Engine) Scan(content string) []Finding {
	var findings []Finding
	for lineNum, line := range strings.Split(content, "\n") {
		for _, c := range e.classifications {
			for _, p := range c.Patterns {
				match := p.compiled.FindString(line)
				if match == "" {
					continue
				}
				findings = append(findings, Finding{
					LineNumber:         lineNum + 1,
					MatchedContent:     strings.TrimSpace(match),
					ClassificationName: c.Name,
					PatternID:          p.ID,
					PatternDescription: p.Description,
					Confidence:         p.Confidence,
				})
			}
		}
	}
	return findings
}

// Check returns a *ViolationError for the first finding in a blocked
// classification at or above the minimum confidence.
func (e *Engine) Check(content string) error {
	for _, f := range e.Scan(content) {
		if e.blocked[f.ClassificationName] && rank(f.Confidence) >= rank(e.minConfidence) {
			return &ViolationError{Finding: f}
		}
	}
	return nil
}

func rank(c ConfidenceLevel) int {
	switch c {
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}
