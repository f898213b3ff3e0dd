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
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/AleutianAI/AleutianTeam/services/llm"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// DocumentClassName is the Weaviate class holding document chunks.
const DocumentClassName = "AgentDocument"

// WeaviateStore stores one object per chunk, each carrying the whole
// document's fields so a hit can be returned without a second lookup.
// Vectors come from the configured embedder (vectorizer "none").
type WeaviateStore struct {
	client  *weaviate.Client
	chunker *chunker
	now     func() time.Time
	logger  *slog.Logger
}

var _ Store = (*WeaviateStore)(nil)

// NewWeaviateStore connects to serviceURL (e.g. http://weaviate:8080) and
// makes sure the document class exists. An embedder is required.
func NewWeaviateStore(ctx context.Context, serviceURL string, embedder llm.Embedder, logger *slog.Logger) (*WeaviateStore, error) {
	if embedder == nil {
		return nil, errors.New("weaviate store requires an embedder")
	}
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(serviceURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", serviceURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: u.Host, Scheme: u.Scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	s := &WeaviateStore{client: client, chunker: newChunker(embedder), now: time.Now, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DocumentSchema describes the chunk class.
func DocumentSchema() *models.Class {
	text := func(name, desc string) *models.Property {
		return &models.Property{Name: name, Description: desc, DataType: []string{"text"}}
	}
	return &models.Class{
		Class:       DocumentClassName,
		Description: "A chunk of a document saved by a simulated agent",
		Vectorizer:  "none",
		Properties: []*models.Property{
			text("doc_id", "Document id shared by all chunks"),
			text("title", "Title as written by the agent"),
			text("normalized_title", "Lower-cased, trimmed title with spaces as underscores"),
			text("content", "Full document content"),
			text("chunk", "The chunk of embedding text this object indexes"),
			text("agent_id", "Agent that saved the document"),
			text("created_at", "RFC3339 creation time"),
			{Name: "chunk_index", Description: "Position of the chunk", DataType: []string{"int"}},
		},
	}
}

func (s *WeaviateStore) ensureSchema(ctx context.Context) error {
	if _, err := s.client.Schema().ClassGetter().WithClassName(DocumentClassName).Do(ctx); err == nil {
		return nil
	}
	s.logger.Info("Schema not found, creating it...", "class", DocumentClassName)
	if err := s.client.Schema().ClassCreator().WithClass(DocumentSchema()).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", DocumentClassName, err)
	}
	return nil
}

func titleFilter(normalizedTitle string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"normalized_title"}).
		WithOperator(filters.Equal).
		WithValueString(normalizedTitle)
}

func (s *WeaviateStore) Insert(ctx context.Context, doc Document, embeddingText string) (Document, error) {
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

	if _, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(DocumentClassName).
		WithOutput("minimal").
		WithWhere(titleFilter(doc.NormalizedTitle)).
		Do(ctx); err != nil {
		return Document{}, fmt.Errorf("replace document %s: %w", doc.NormalizedTitle, err)
	}

	objects := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		objects[i] = &models.Object{
			Class:  DocumentClassName,
			ID:     strfmt.UUID(chunkID(doc.ID, i)),
			Vector: c.vector,
			Properties: map[string]any{
				"doc_id":           doc.ID,
				"title":            doc.Title,
				"normalized_title": doc.NormalizedTitle,
				"content":          doc.Content,
				"chunk":            c.text,
				"agent_id":         doc.AgentID,
				"created_at":       doc.CreatedAt.Format(time.RFC3339Nano),
				"chunk_index":      i,
			},
		}
	}
	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("failed to save objects to Weaviate: %w", err)
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			return Document{}, fmt.Errorf("weaviate batch item: %s", item.Result.Errors.Error[0].Message)
		}
	}
	return doc, nil
}

func chunkID(docID string, i int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", docID, i)))
	id, _ := uuid.FromBytes(sum[:16])
	return id.String()
}

var documentFields = []graphql.Field{
	{Name: "doc_id"},
	{Name: "title"},
	{Name: "normalized_title"},
	{Name: "content"},
	{Name: "agent_id"},
	{Name: "created_at"},
}

func (s *WeaviateStore) FindByNormalizedTitle(ctx context.Context, normalizedTitle string) (Document, error) {
	result, err := s.client.GraphQL().Get().
		WithClassName(DocumentClassName).
		WithFields(documentFields...).
		WithWhere(titleFilter(normalizedTitle)).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("find document: %w", err)
	}
	docs, err := parseDocuments(result)
	if err != nil {
		return Document{}, err
	}
	if len(docs) == 0 {
		return Document{}, ErrNotFound
	}
	return docs[0], nil
}

func (s *WeaviateStore) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 10
	}
	qv, err := s.chunker.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}
	result, err := s.client.GraphQL().Get().
		WithClassName(DocumentClassName).
		WithFields(documentFields...).
		WithNearVector(s.client.GraphQL().NearVectorArgBuilder().WithVector(qv)).
		WithLimit(limit * 4).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	docs, err := parseDocuments(result)
	if err != nil {
		return nil, err
	}
	return dedupe(docs, limit), nil
}

// Close is a no-op; the client holds no persistent connection.
func (s *WeaviateStore) Close() error { return nil }

type getDocumentsResponse struct {
	Get map[string][]struct {
		DocID           string `json:"doc_id"`
		Title           string `json:"title"`
		NormalizedTitle string `json:"normalized_title"`
		Content         string `json:"content"`
		AgentID         string `json:"agent_id"`
		CreatedAt       string `json:"created_at"`
	} `json:"Get"`
}

func parseDocuments(result *models.GraphQLResponse) ([]Document, error) {
	if result == nil {
		return nil, nil
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search error: %s", result.Errors[0].Message)
	}
	raw, err := json.Marshal(result.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql data: %w", err)
	}
	var parsed getDocumentsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse graphql data: %w", err)
	}
	objs := parsed.Get[DocumentClassName]
	out := make([]Document, 0, len(objs))
	for _, o := range objs {
		created, _ := time.Parse(time.RFC3339Nano, o.CreatedAt)
		out = append(out, Document{
			ID:              o.DocID,
			Title:           o.Title,
			NormalizedTitle: o.NormalizedTitle,
			Content:         o.Content,
			AgentID:         o.AgentID,
			CreatedAt:       created,
		})
	}
	return out, nil
}

// dedupe keeps the first hit per document, preserving rank order.
func dedupe(docs []Document, limit int) []Document {
	seen := make(map[string]bool, len(docs))
	out := make([]Document, 0, limit)
	for _, d := range docs {
		if seen[d.NormalizedTitle] {
			continue
		}
		seen[d.NormalizedTitle] = true
		out = append(out, d)
		if len(out) == limit {
			break
		}
	}
	return out
}
