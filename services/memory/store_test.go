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
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

// letterEmbedder maps text to a 26-dim letter histogram so similar
// words land close together.
type letterEmbedder struct{ queries int }

func (e *letterEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v, nil
}

func (e *letterEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (e *letterEmbedder) EmbedQuery(ctx context.Context, q string) ([]float32, error) {
	e.queries++
	return e.Embed(ctx, q)
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "q3_roadmap", NormalizeTitle("  Q3 Roadmap "))
	assert.Equal(t, "notes", NormalizeTitle("NOTES"))
	assert.Equal(t, "", NormalizeTitle("   "))
}

// =============================================================================
// Shared Store contract
// =============================================================================

func storeContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("insert and find", func(t *testing.T) {
		s := open(t)
		doc, err := s.Insert(ctx, Document{Title: "Q3 Roadmap", Content: "ship the widget", AgentID: "sally"}, "")
		require.NoError(t, err)
		assert.Equal(t, "q3_roadmap", doc.NormalizedTitle)
		assert.NotEmpty(t, doc.ID)
		assert.False(t, doc.CreatedAt.IsZero())

		got, err := s.FindByNormalizedTitle(ctx, "q3_roadmap")
		require.NoError(t, err)
		assert.Equal(t, "Q3 Roadmap", got.Title)
		assert.Equal(t, "ship the widget", got.Content)
		assert.Equal(t, "sally", got.AgentID)
		assert.Equal(t, doc.ID, got.ID)
		assert.WithinDuration(t, doc.CreatedAt, got.CreatedAt, time.Millisecond)
	})

	t.Run("insert replaces same title", func(t *testing.T) {
		s := open(t)
		_, err := s.Insert(ctx, Document{Title: "Notes", Content: "v1"}, "")
		require.NoError(t, err)
		_, err = s.Insert(ctx, Document{Title: " notes ", Content: "v2"}, "")
		require.NoError(t, err)

		got, err := s.FindByNormalizedTitle(ctx, "notes")
		require.NoError(t, err)
		assert.Equal(t, "v2", got.Content)

		all, err := s.Search(ctx, "notes", 10)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("not found", func(t *testing.T) {
		s := open(t)
		_, err := s.FindByNormalizedTitle(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty title", func(t *testing.T) {
		s := open(t)
		_, err := s.Insert(ctx, Document{Title: "  ", Content: "x"}, "")
		assert.ErrorIs(t, err, ErrEmptyTitle)
	})

	t.Run("search ranks and limits", func(t *testing.T) {
		s := open(t)
		for _, d := range []Document{
			{Title: "Coffee machine", Content: "The coffee machine on floor two is broken"},
			{Title: "Lunch order", Content: "Pizza for the team on Friday"},
			{Title: "Coffee beans", Content: "Order more coffee beans"},
		} {
			_, err := s.Insert(ctx, d, "")
			require.NoError(t, err)
		}
		got, err := s.Search(ctx, "coffee", 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Contains(t, got[0].Title, "Coffee")
	})

	t.Run("search empty store", func(t *testing.T) {
		s := open(t)
		got, err := s.Search(ctx, "anything", 5)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestInMemoryStore_Keyword(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return NewInMemoryStore(nil) })
}

func TestInMemoryStore_Embedded(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return NewInMemoryStore(&letterEmbedder{}) })
}

func TestSQLiteStore_Keyword(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "docs.db"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStore_Embedded(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "docs.db"), &letterEmbedder{})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "docs.db")
	s, err := OpenSQLite(path, nil)
	require.NoError(t, err)
	_, err = s.Insert(context.Background(), Document{Title: "Keep", Content: "me"}, "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.FindByNormalizedTitle(context.Background(), "keep")
	require.NoError(t, err)
	assert.Equal(t, "me", got.Content)
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite("", nil)
	assert.Error(t, err)
}

func TestQueryVector_PrefersQueryEmbedder(t *testing.T) {
	e := &letterEmbedder{}
	c := newChunker(e)
	_, err := c.queryVector(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, 1, e.queries)
}

// =============================================================================
// Helpers
// =============================================================================

func TestVectorRoundTrip(t *testing.T) {
	v := []float32{0.5, -1.25, 3}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.Nil(t, encodeVector(nil))
	assert.Nil(t, decodeVector(nil))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 2}))
}

func TestKeywordScore(t *testing.T) {
	assert.InDelta(t, 0.5, keywordScore("coffee tea", "Coffee is great"), 1e-9)
	assert.Zero(t, keywordScore("", "x"))
}

func TestParseDocuments(t *testing.T) {
	resp := &models.GraphQLResponse{Data: map[string]models.JSONObject{
		"Get": map[string]any{
			DocumentClassName: []any{
				map[string]any{"doc_id": "1", "title": "A", "normalized_title": "a", "content": "x", "agent_id": "s", "created_at": "2024-01-02T03:04:05Z"},
				map[string]any{"doc_id": "1", "title": "A", "normalized_title": "a", "content": "x", "agent_id": "s", "created_at": "2024-01-02T03:04:05Z"},
				map[string]any{"doc_id": "2", "title": "B", "normalized_title": "b", "content": "y", "agent_id": "t", "created_at": "bad"},
			},
		},
	}}
	docs, err := parseDocuments(resp)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, 2024, docs[0].CreatedAt.Year())
	assert.True(t, docs[2].CreatedAt.IsZero())

	deduped := dedupe(docs, 5)
	assert.Len(t, deduped, 2)
	assert.Len(t, dedupe(docs, 1), 1)
}

func TestParseDocuments_Errors(t *testing.T) {
	_, err := parseDocuments(&models.GraphQLResponse{Errors: []*models.GraphQLError{{Message: "boom"}}})
	assert.ErrorContains(t, err, "boom")

	docs, err := parseDocuments(nil)
	assert.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDocumentSchema(t *testing.T) {
	class := DocumentSchema()
	assert.Equal(t, DocumentClassName, class.Class)
	assert.Equal(t, "none", class.Vectorizer)
	names := make([]string, 0, len(class.Properties))
	for _, p := range class.Properties {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "normalized_title")
	assert.Contains(t, names, "chunk_index")
}

func TestChunkID_Deterministic(t *testing.T) {
	assert.Equal(t, chunkID("doc", 1), chunkID("doc", 1))
	assert.NotEqual(t, chunkID("doc", 1), chunkID("doc", 2))
}
