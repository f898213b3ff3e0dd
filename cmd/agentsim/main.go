// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command agentsim runs a workplace of LLM-driven agents, either as a
// batch simulation or behind an HTTP API.
package main

import (
	"os"

	"github.com/AleutianAI/AleutianTeam/pkg/ux"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		ux.NewPrinter(os.Stderr, ux.DetectMode(os.Stderr)).Error(err.Error())
		os.Exit(1)
	}
}
