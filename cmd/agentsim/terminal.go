// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianTeam/pkg/ux"
	"github.com/AleutianAI/AleutianTeam/services/agent/tools"
)

// terminal answers the human tool and tool approvals on a console. Agents
// tick concurrently, so questions are serialized.
type terminal struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out *ux.Printer
	w   io.Writer
}

var _ tools.HumanInput = (*terminal)(nil)

func newTerminal(in io.Reader, out io.Writer, mode ux.Mode) *terminal {
	return &terminal{in: bufio.NewReader(in), out: ux.NewPrinter(out, mode), w: out}
}

// Ask implements tools.HumanInput.
func (t *terminal) Ask(ctx context.Context, agentName, question string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.out.Box(agentName+" asks", question)
	fmt.Fprint(t.w, "> ")
	return t.readLine(ctx)
}

// Approve is used as the core's executor.ApprovalFunc.
func (t *terminal) Approve(ctx context.Context, tool tools.Resolved, tctx tools.Context, input string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.out.WarningBox("Approval required",
		fmt.Sprintf("%s wants to run %s\ninput: %s", tctx.AgentName, tool.Name(), input))
	fmt.Fprint(t.w, "Allow? [y/N] ")
	answer, err := t.readLine(ctx)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (t *terminal) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := t.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read terminal input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
