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
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianTeam/services/llm"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	chunkSize    = 1000
	chunkOverlap = 100
)

var separators = []string{"\n\n", "\n", ". ", " ", ""}

// queryEmbedder is implemented by embedders that embed queries
// differently from documents (Gemini task types).
type queryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// chunker splits text and embeds each piece. A nil embedder yields no
// vectors and the backends fall back to keyword scoring.
type chunker struct {
	embedder llm.Embedder
	splitter textsplitter.TextSplitter
}

func newChunker(embedder llm.Embedder) *chunker {
	return &chunker{
		embedder: embedder,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(separators),
		),
	}
}

type chunk struct {
	text   string
	vector []float32
}

func (c *chunker) chunks(ctx context.Context, text string) ([]chunk, error) {
	parts, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	if len(parts) == 0 {
		parts = []string{text}
	}
	out := make([]chunk, len(parts))
	for i, p := range parts {
		out[i].text = p
	}
	if c.embedder == nil {
		return out, nil
	}
	vecs, err := c.embedder.EmbedBatch(ctx, parts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vecs) != len(parts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(parts))
	}
	for i := range out {
		out[i].vector = vecs[i]
	}
	return out, nil
}

func (c *chunker) queryVector(ctx context.Context, query string) ([]float32, error) {
	if c.embedder == nil {
		return nil, nil
	}
	if qe, ok := c.embedder.(queryEmbedder); ok {
		return qe.EmbedQuery(ctx, query)
	}
	return c.embedder.Embed(ctx, query)
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func tokens(s string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		out[f] = true
	}
	return out
}

// keywordScore is the fraction of query tokens found in text.
func keywordScore(query, text string) float64 {
	q := tokens(query)
	if len(q) == 0 {
		return 0
	}
	t := tokens(text)
	hit := 0
	for w := range q {
		if t[w] {
			hit++
		}
	}
	return float64(hit) / float64(len(q))
}

type scored struct {
	doc   Document
	score float64
}

// rank sorts by score descending then title, drops zero scores and
// truncates to limit.
func rank(in []scored, limit int) []Document {
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].score != in[j].score {
			return in[i].score > in[j].score
		}
		return in[i].doc.NormalizedTitle < in[j].doc.NormalizedTitle
	})
	out := make([]Document, 0, len(in))
	for _, s := range in {
		if s.score <= 0 {
			break
		}
		out = append(out, s.doc)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
