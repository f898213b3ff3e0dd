// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianTeam/services/llm"
	"github.com/google/uuid"
)

// InMemoryStore keeps documents in a map. Search uses cosine similarity
// over chunk vectors when an embedder is configured and keyword overlap
// otherwise.
//
// Thread Safety: Safe for concurrent use.
type InMemoryStore struct {
	chunker *chunker
	now     func() time.Time

	mu   sync.RWMutex
	docs map[string]entry
}

type entry struct {
	doc    Document
	chunks []chunk
	text   string
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store. embedder may be nil.
func NewInMemoryStore(embedder llm.Embedder) *InMemoryStore {
	return &InMemoryStore{
		chunker: newChunker(embedder),
		now:     time.Now,
		docs:    make(map[string]entry),
	}
}

func (s *InMemoryStore) Insert(ctx context.Context, doc Document, embeddingText string) (Document, error) {
	doc, err := prepare(doc, s.now)
	if err != nil {
		return Document{}, err
	}
	if embeddingText == "" {
		embeddingText = EmbeddingText(doc)
	}
	chunks, err := s.chunker.chunks(ctx, embeddingText)
	if err != nil {
		return Document{}, err
	}
	s.mu.Lock()
	s.docs[doc.NormalizedTitle] = entry{doc: doc, chunks: chunks, text: embeddingText}
	s.mu.Unlock()
	return doc, nil
}

func (s *InMemoryStore) FindByNormalizedTitle(_ context.Context, normalizedTitle string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[normalizedTitle]
	if !ok {
		return Document{}, ErrNotFound
	}
	return e.doc, nil
}

func (s *InMemoryStore) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	qv, err := s.chunker.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]scored, 0, len(s.docs))
	for _, e := range s.docs {
		results = append(results, scored{doc: e.doc, score: scoreEntry(qv, query, e.chunks, e.text)})
	}
	return rank(results, limit), nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

func scoreEntry(qv []float32, query string, chunks []chunk, text string) float64 {
	if qv == nil {
		return keywordScore(query, text)
	}
	best := 0.0
	for _, c := range chunks {
		if sim := cosine(qv, c.vector); sim > best {
			best = sim
		}
	}
	return best
}

// prepare fills the derived fields shared by every backend.
func prepare(doc Document, now func() time.Time) (Document, error) {
	if doc.NormalizedTitle == "" {
		doc.NormalizedTitle = NormalizeTitle(doc.Title)
	}
	if doc.NormalizedTitle == "" {
		return Document{}, ErrEmptyTitle
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now().UTC()
	}
	return doc, nil
}
