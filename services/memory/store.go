// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory is the document store agents write to and read from
// through the document tools. Store is the boundary; three backends
// implement it: an in-process map, SQLite, and Weaviate.
package memory

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no document has the requested title.
	ErrNotFound = errors.New("document not found")

	// ErrEmptyTitle is returned when inserting a document without a title.
	ErrEmptyTitle = errors.New("document title is empty")
)

// Document is one saved note.
type Document struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	NormalizedTitle string    `json:"normalized_title"`
	Content         string    `json:"content"`
	AgentID         string    `json:"agent_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store persists documents keyed by normalized title.
//
// Insert replaces any document with the same normalized title, so saving
// twice under one title overwrites. embeddingText is what the backend
// indexes for Search; it usually repeats the title ahead of the content.
type Store interface {
	Insert(ctx context.Context, doc Document, embeddingText string) (Document, error)
	FindByNormalizedTitle(ctx context.Context, normalizedTitle string) (Document, error)
	Search(ctx context.Context, query string, limit int) ([]Document, error)
	Close() error
}

// NormalizeTitle lower-cases and trims title and replaces spaces with
// underscores. "  Q3 Roadmap " becomes "q3_roadmap".
func NormalizeTitle(title string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(title)), " ", "_")
}

// EmbeddingText is the text indexed for a document.
func EmbeddingText(doc Document) string {
	return doc.Title + " (" + doc.NormalizedTitle + ")\n" + doc.Content
}
