// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plain() (*Printer, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewPrinter(&buf, ModePlain), &buf
}

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow} {
		assert.Contains(t, icon.Render(), string(icon))
	}
}

func TestPrinter_PlainMode(t *testing.T) {
	p, buf := plain()

	p.Title("Step 1")
	p.Success("tick committed")
	p.Warning("agent stalled")
	p.Error("oracle unavailable")
	p.Info("sally is in the office")
	p.Field("reaction", "continue")
	p.Bullets([]string{"a", "b"})
	p.Box("Plan", "write\nreport")
	p.Summary(2, 1, 3)

	want := strings.Join([]string{
		"# Step 1",
		"OK: tick committed",
		"WARN: agent stalled",
		"ERROR: oracle unavailable",
		"sally is in the office",
		"reaction: continue",
		"- a",
		"- b",
		"Plan: write report",
		"SUMMARY: ticked=2 stalled=1 total=3",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestPrinter_StyledModeKeepsText(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeStyled)

	p.Success("done")
	p.Field("agent", "sally")
	p.Box("Reflection", "Sally likes puzzles")

	out := buf.String()
	assert.Contains(t, out, "done")
	assert.Contains(t, out, "sally")
	assert.Contains(t, out, "Sally likes puzzles")
	assert.Equal(t, ModeStyled, p.Mode())
}

func TestPrinter_JSON(t *testing.T) {
	p, buf := plain()
	require.NoError(t, p.JSON(map[string]int{"rating": 7}))
	assert.JSONEq(t, `{"rating":7}`, buf.String())
}

func TestDetectMode_RegularFileIsPlain(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, ModePlain, DetectMode(f))
}
