// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llmtest provides deterministic llm.LLMClient implementations
// for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianTeam/services/llm"
)

// Reply is one scripted oracle turn.
type Reply struct {
	Text string
	Err  error
}

// Text is shorthand for a successful Reply.
func Text(s string) Reply { return Reply{Text: s} }

// Fail is shorthand for a transport failure.
func Fail(err error) Reply { return Reply{Err: err} }

// Call records one Generate invocation.
type Call struct {
	Prompt string
	Params llm.GenerationParams
}

// Scripted answers Generate calls from a fixed queue, in order.
//
// Thread Safety: Safe for concurrent use, but the order replies are
// handed out in is the order calls arrive. Use Router when several
// agents share one client.
type Scripted struct {
	mu      sync.Mutex
	index   int
	replies []Reply
	calls   []Call
}

// NewScripted creates a scripted client. Plain strings and Reply values
// are both accepted.
func NewScripted(replies ...any) *Scripted {
	s := &Scripted{}
	for _, r := range replies {
		switch v := r.(type) {
		case string:
			s.replies = append(s.replies, Text(v))
		case Reply:
			s.replies = append(s.replies, v)
		case error:
			s.replies = append(s.replies, Fail(v))
		default:
			panic(fmt.Sprintf("llmtest: unsupported reply type %T", r))
		}
	}
	return s
}

var _ llm.LLMClient = (*Scripted)(nil)

func (s *Scripted) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Prompt: prompt, Params: params})
	if s.index >= len(s.replies) {
		return "", fmt.Errorf("script exhausted at step %d", s.index+1)
	}
	current := s.replies[s.index]
	s.index++
	if current.Err != nil {
		return "", current.Err
	}
	return current.Text, nil
}

// Calls returns a copy of every recorded invocation.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Prompts returns just the prompts of every recorded invocation.
func (s *Scripted) Prompts() []string {
	calls := s.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Prompt
	}
	return out
}

// Remaining reports how many replies have not been consumed.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies) - s.index
}

// Route maps a prompt substring to a queue of replies.
type Route struct {
	Contains string
	Replies  []Reply
}

// Router answers by matching the prompt against routes in order. The
// first route whose marker appears in the prompt and still has replies
// wins; its last reply repeats once the queue is drained.
type Router struct {
	mu     sync.Mutex
	routes []*routeState
	calls  []Call
}

type routeState struct {
	Route
	next int
}

// NewRouter creates a Router from the routes.
func NewRouter(routes ...Route) *Router {
	r := &Router{}
	for _, rt := range routes {
		r.routes = append(r.routes, &routeState{Route: rt})
	}
	return r
}

var _ llm.LLMClient = (*Router)(nil)

func (r *Router) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{Prompt: prompt, Params: params})
	for _, rt := range r.routes {
		if !strings.Contains(prompt, rt.Contains) || len(rt.Replies) == 0 {
			continue
		}
		reply := rt.Replies[min(rt.next, len(rt.Replies)-1)]
		rt.next++
		if reply.Err != nil {
			return "", reply.Err
		}
		return reply.Text, nil
	}
	return "", fmt.Errorf("no route matches prompt (%d routes)", len(r.routes))
}

// Calls returns a copy of every recorded invocation.
func (r *Router) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}
