// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTeam/services/memory"
	"github.com/AleutianAI/AleutianTeam/services/world"
	"github.com/tmc/langchaingo/tools/serpapi"
)

// Default endpoints for the credential-gated tools.
const (
	DefaultSerpAPIURL = "https://serpapi.com/search"
	DefaultWolframURL = "https://api.wolframalpha.com/v1/result"
)

// Message is one utterance delivered by the speak tool.
type Message struct {
	FromID     string            `json:"from_id"`
	FromName   string            `json:"from_name"`
	LocationID world.LocationRef `json:"location_id"`
	Recipient  string            `json:"recipient"`
	Content    string            `json:"content"`
}

// Messenger delivers speech to the other agents at a location.
type Messenger interface {
	Send(ctx context.Context, msg Message) error
}

// HumanInput asks the human operator a question on an agent's behalf.
type HumanInput interface {
	Ask(ctx context.Context, agentName, question string) (string, error)
}

// Waiter checks whether an awaited event shows up in an agent's memories.
type Waiter interface {
	HasHappened(ctx context.Context, agentID, event string) (bool, error)
}

// DocumentPolicy vets content before save-document stores it.
// *policy.Engine satisfies it.
type DocumentPolicy interface {
	Check(content string) error
}

// Deps wires the built-in tools to the rest of the system. A nil
// dependency leaves the tools that need it unregistered.
type Deps struct {
	World       world.Context
	Directory   world.Directory
	Messenger   Messenger
	Human       HumanInput
	Waiter      Waiter
	Documents   memory.Store
	Policy      DocumentPolicy
	Credentials *Credentials
	HTTPClient  *http.Client
	SerpAPIURL  string
	WolframURL  string
}

// Builtins builds every built-in tool whose dependencies are present,
// in canonical order. search and wolfram-alpha are gated on their
// credentials.
func Builtins(d Deps) ([]*Contract, error) {
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if d.SerpAPIURL == "" {
		d.SerpAPIURL = DefaultSerpAPIURL
	}
	if d.WolframURL == "" {
		d.WolframURL = DefaultWolframURL
	}

	type builder struct {
		enabled bool
		spec    func(Deps) Spec
	}
	builders := []builder{
		{d.Credentials.Has(CredentialSerpAPI), searchSpec},
		{d.Messenger != nil && d.World != nil, speakSpec},
		{true, waitSpec},
		{d.Credentials.Has(CredentialWolframAlpha), wolframSpec},
		{d.Human != nil, humanSpec},
		{d.Directory != nil, directorySpec},
		{d.Documents != nil, saveDocumentSpec},
		{d.Documents != nil, readDocumentSpec},
		{d.Documents != nil, searchDocumentsSpec},
	}

	var out []*Contract
	for _, b := range builders {
		if !b.enabled {
			continue
		}
		c, err := New(b.spec(d))
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

const summaryTail = " Write a single sentence with useful information about how the result can help you accomplish your plan: {plan_description}."

// =============================================================================
// search
// =============================================================================

func searchSpec(d Deps) Spec {
	return Spec{
		Name:            NameSearch,
		Description:     "Search the web for information. Input should be a search query.",
		RequiresContext: true,
		Worldwide:       true,
		Timeout:         30 * time.Second,
		SummaryTemplate: "You have just searched Google with the following search input: {tool_input} and got the following result {tool_result}." + summaryTail,
		UsageTemplate:   "To make progress on their plans, {agent_full_name} searched Google and realised the following: {tool_usage_reflection}.",
		Action: func(ctx context.Context, p Payload) (string, error) {
			query := strings.TrimSpace(p.Input())
			if query == "" {
				return "", errors.New("search query is empty")
			}
			client, err := endpointClient(d.HTTPClient, d.SerpAPIURL)
			if err != nil {
				return "", fmt.Errorf("search endpoint: %w", err)
			}
			var result string
			err = d.Credentials.Use(CredentialSerpAPI, func(key string) error {
				tool, err := serpapi.New(serpapi.WithAPIKey(key), serpapi.WithHTTPClient(client))
				if err != nil {
					return err
				}
				result, err = tool.Call(ctx, query)
				return redact(err, key)
			})
			if err != nil {
				return "", fmt.Errorf("search failed: %w", err)
			}
			return result, nil
		},
	}
}

// =============================================================================
// speak
// =============================================================================

const speakInputSchema = `{
  "type": "object",
  "properties": {
    "recipient": {"type": "string", "minLength": 1},
    "message": {"type": "string", "minLength": 1}
  },
  "required": ["recipient", "message"]
}`

func speakSpec(d Deps) Spec {
	return Spec{
		Name: NameSpeak,
		Description: "Say something in {location_name}. The following people are also in {location_name} and are the only people who can hear you: [{other_agent_names}]. " +
			"You can say something to everyone in {location_name} or to one specific person at your location. " +
			"The input must be a JSON string with two keys: \"recipient\" and \"message\". The value of \"recipient\" is the name of the person you are talking to, or \"everyone\" to address the whole room; the value of \"message\" is a string. " +
			"If you are waiting for a reply, just use the 'wait' tool. " +
			"Example input: {{\"recipient\": \"Jonathan\", \"message\": \"Hello Jonathan! 😄\"}}",
		LocationScoped:  true,
		RequiresContext: true,
		Worldwide:       true,
		InputSchema:     speakInputSchema,
		Timeout:         10 * time.Second,
		UsageTemplate:   "To make progress on their plans, {agent_full_name} spoke to {recipient_full_name}.",
		Action: func(ctx context.Context, p Payload) (string, error) {
			tctx, _ := p.ToolContext()
			recipient, _ := p.String("recipient")
			message, _ := p.String("message")

			if !strings.EqualFold(recipient, "everyone") {
				agents, err := d.World.CoLocatedAgents(ctx, tctx.LocationID)
				if err != nil {
					return "", err
				}
				found := false
				for _, a := range agents {
					if a.ID != tctx.AgentID && strings.EqualFold(a.Name, recipient) {
						recipient = a.Name
						found = true
						break
					}
				}
				if !found {
					return "", fmt.Errorf("%s is not in %s, only the people listed in the tool description can hear you", recipient, tctx.LocationName)
				}
			}

			err := d.Messenger.Send(ctx, Message{
				FromID:     tctx.AgentID,
				FromName:   tctx.AgentName,
				LocationID: tctx.LocationID,
				Recipient:  recipient,
				Content:    message,
			})
			if err != nil {
				return "", fmt.Errorf("message not delivered: %w", err)
			}
			return fmt.Sprintf("Message sent to %s: %s", recipient, message), nil
		},
	}
}

// =============================================================================
// wait
// =============================================================================

func waitSpec(d Deps) Spec {
	return Spec{
		Name: NameWait,
		Description: "Useful for when you are waiting for something to happen. Describe in detail what you are waiting for. " +
			"Start your input with \"I am waiting for...\" (for example: I am waiting for a meeting to start in the conference room).",
		RequiresContext: true,
		Worldwide:       true,
		UsageTemplate:   "{agent_full_name} is waiting.",
		Action: func(ctx context.Context, p Payload) (string, error) {
			event := strings.TrimSpace(p.Input())
			if event == "" {
				return "", errors.New("describe what you are waiting for")
			}
			if d.Waiter == nil {
				return "Waiting: " + event, nil
			}
			tctx, _ := p.ToolContext()
			happened, err := d.Waiter.HasHappened(ctx, tctx.AgentID, event)
			if err != nil {
				return "", err
			}
			if happened {
				return "The wait is over, this has happened: " + event, nil
			}
			return "Still waiting: " + event, nil
		},
	}
}

// =============================================================================
// wolfram-alpha
// =============================================================================

func wolframSpec(d Deps) Spec {
	return Spec{
		Name:            NameWolframAlpha,
		Description:     "A wrapper around Wolfram Alpha. Useful for when you need to answer questions about Math, Science, Technology, Culture, Society and Everyday Life. Input should be a search query.",
		Worldwide:       true,
		Timeout:         30 * time.Second,
		SummaryTemplate: "You have just used Wolfram Alpha with the following input: {tool_input} and got the following result {tool_result}." + summaryTail,
		UsageTemplate:   "In order to make progress on their plans, {agent_full_name} used Wolfram Alpha and realised the following: {tool_usage_reflection}.",
		Action: func(ctx context.Context, p Payload) (string, error) {
			query := strings.TrimSpace(p.Input())
			if query == "" {
				return "", errors.New("query is empty")
			}
			var answer string
			err := d.Credentials.Use(CredentialWolframAlpha, func(appID string) error {
				q := url.Values{}
				q.Set("appid", appID)
				q.Set("i", query)
				body, status, err := httpGet(ctx, d.HTTPClient, d.WolframURL+"?"+q.Encode(), http.StatusOK, http.StatusNotImplemented)
				if err != nil {
					return redact(err, appID)
				}
				if status == http.StatusNotImplemented {
					answer = "Wolfram Alpha wasn't able to answer it"
					return nil
				}
				answer = strings.TrimSpace(string(body))
				return nil
			})
			if err != nil {
				return "", fmt.Errorf("wolfram alpha failed: %w", err)
			}
			return answer, nil
		},
	}
}

// =============================================================================
// human
// =============================================================================

func humanSpec(d Deps) Spec {
	return Spec{
		Name: NameHuman,
		Description: "You can ask a human for guidance when you think you got stuck or you are not sure what to do next. " +
			"The input should be a question for the human.",
		RequiresContext: true,
		Worldwide:       true,
		SummaryTemplate: "You have just asked a human for help by saying {tool_input}. This is what they replied: {tool_result}." + summaryTail,
		UsageTemplate:   "In order to make progress on their plans, {agent_full_name} spoke to a human.",
		Action: func(ctx context.Context, p Payload) (string, error) {
			question := strings.TrimSpace(p.Input())
			if question == "" {
				return "", errors.New("question is empty")
			}
			tctx, _ := p.ToolContext()
			return d.Human.Ask(ctx, tctx.AgentName, question)
		},
	}
}

// =============================================================================
// company-directory
// =============================================================================

func directorySpec(d Deps) Spec {
	return Spec{
		Name:            NameCompanyDirectory,
		Description:     "A directory of everyone you can talk to, detailing their names and bios. Useful for when you need help from another person. Takes an empty string as input.",
		RequiresContext: true,
		Worldwide:       true,
		Timeout:         10 * time.Second,
		SummaryTemplate: "You have just consulted the company directory and found out the following: {tool_result}." + summaryTail,
		UsageTemplate:   "In order to make progress on their plans, {agent_full_name} consulted the company directory and realised the following: {tool_usage_reflection}",
		Action: func(ctx context.Context, p Payload) (string, error) {
			tctx, _ := p.ToolContext()
			profiles, err := d.Directory.Profiles(ctx)
			if err != nil {
				return "", err
			}
			var lines []string
			for _, pr := range profiles {
				if pr.ID == tctx.AgentID {
					continue
				}
				lines = append(lines, pr.Name+": "+pr.PublicBio)
			}
			if len(lines) == 0 {
				return "The directory is empty.", nil
			}
			return strings.Join(lines, "\n"), nil
		},
	}
}

// =============================================================================
// documents
// =============================================================================

func saveDocumentSpec(d Deps) Spec {
	return Spec{
		Name: NameSaveDocument,
		Description: "Write text to an existing document or create a new one. Useful for when you need to save a document for later use. " +
			"Input should be a JSON string with two keys: \"title\" and \"document\". The value of \"title\" should be a string, and the value of \"document\" should be a string.",
		RequiresContext: true,
		Worldwide:       true,
		InputSchema: `{
  "type": "object",
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "document": {"type": "string"}
  },
  "required": ["title", "document"]
}`,
		Timeout:       30 * time.Second,
		UsageTemplate: "In order to make progress on their plans, {agent_full_name} saved a document.",
		Action: func(ctx context.Context, p Payload) (string, error) {
			tctx, _ := p.ToolContext()
			title, _ := p.String("title")
			content, _ := p.Args["document"].(string)
			if d.Policy != nil {
				if err := d.Policy.Check(title + "\n" + content); err != nil {
					return "", fmt.Errorf("document not saved: %w", err)
				}
			}
			doc := memory.Document{
				Title:           title,
				NormalizedTitle: memory.NormalizeTitle(title),
				Content:         content,
				AgentID:         tctx.AgentID,
			}
			if _, err := d.Documents.Insert(ctx, doc, memory.EmbeddingText(doc)); err != nil {
				return "", fmt.Errorf("save document: %w", err)
			}
			return "Document saved: " + title, nil
		},
	}
}

func readDocumentSpec(d Deps) Spec {
	return Spec{
		Name: NameReadDocument,
		Description: "Read text from an existing document. Useful for when you need to read a document that you have saved. " +
			"Input should be a JSON string with one key: \"title\". The value of \"title\" should be a string.",
		RequiresContext: true,
		Worldwide:       true,
		InputSchema: `{
  "type": "object",
  "properties": {"title": {"type": "string", "minLength": 1}},
  "required": ["title"]
}`,
		Timeout:       30 * time.Second,
		UsageTemplate: "In order to make progress on their plans, {agent_full_name} read a document.",
		Action: func(ctx context.Context, p Payload) (string, error) {
			title, _ := p.String("title")
			doc, err := d.Documents.FindByNormalizedTitle(ctx, memory.NormalizeTitle(title))
			if errors.Is(err, memory.ErrNotFound) {
				return "Document not found: " + title, nil
			}
			if err != nil {
				return "", fmt.Errorf("read document: %w", err)
			}
			return fmt.Sprintf("Document found: %s\nContent:\n%s", title, doc.Content), nil
		},
	}
}

func searchDocumentsSpec(d Deps) Spec {
	return Spec{
		Name: NameSearchDocuments,
		Description: "Search documents that you have saved in the past. Useful for when you need to read a document whose name you forgot. " +
			"Input should be a JSON string with one key: \"query\". The value of \"query\" should be a string.",
		RequiresContext: true,
		Worldwide:       true,
		InputSchema: `{
  "type": "object",
  "properties": {"query": {"type": "string", "minLength": 1}},
  "required": ["query"]
}`,
		Timeout:       30 * time.Second,
		UsageTemplate: "In order to make progress on their plans, {agent_full_name} searched for documents.",
		Action: func(ctx context.Context, p Payload) (string, error) {
			query, _ := p.String("query")
			docs, err := d.Documents.Search(ctx, query, 10)
			if err != nil {
				return "", fmt.Errorf("search documents: %w", err)
			}
			if len(docs) == 0 {
				return "No documents found for query: " + query, nil
			}
			titles := make([]string, len(docs))
			for i, doc := range docs {
				titles[i] = quote(doc.Title)
			}
			return fmt.Sprintf("Documents found for query %s:\n%s", quote(query), strings.Join(titles, "\n")), nil
		},
	}
}

func quote(s string) string { return `"` + s + `"` }

// =============================================================================
// HTTP
// =============================================================================

// endpointClient returns a copy of client that sends every request to
// endpoint, keeping the request's query.
func endpointClient(client *http.Client, endpoint string) (*http.Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute URL", endpoint)
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c := *client
	c.Transport = endpointTransport{endpoint: u, base: base}
	return &c, nil
}

type endpointTransport struct {
	endpoint *url.URL
	base     http.RoundTripper
}

func (t endpointTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.endpoint.Scheme
	r.URL.Host = t.endpoint.Host
	r.URL.Path = t.endpoint.Path
	r.Host = t.endpoint.Host
	return t.base.RoundTrip(r)
}

// redactedError keeps err's cause but drops request URLs and the secret
// from its text. Tool errors become observations the oracle and the
// agent's memory see.
type redactedError struct {
	msg   string
	cause error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.cause }

func redact(err error, secret string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	cause := err
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		msg = strings.ReplaceAll(msg, urlErr.URL, withoutQuery(urlErr.URL))
		cause = urlErr.Err
	}
	if secret != "" {
		msg = strings.ReplaceAll(msg, secret, "[redacted]")
		msg = strings.ReplaceAll(msg, url.QueryEscape(secret), "[redacted]")
	}
	return &redactedError{msg: msg, cause: cause}
}

func withoutQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "[redacted url]"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// httpGet fetches rawURL and fails unless the status is one of ok.
func httpGet(ctx context.Context, client *http.Client, rawURL string, ok ...int) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	for _, s := range ok {
		if resp.StatusCode == s {
			return body, resp.StatusCode, nil
		}
	}
	return nil, resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
}
