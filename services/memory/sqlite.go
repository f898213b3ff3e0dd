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
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/AleutianTeam/services/llm"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists documents and their chunk vectors in one SQLite
// file. Vector search is brute force in Go, which is fine for the few
// thousand notes a simulation produces.
type SQLiteStore struct {
	db      *sql.DB
	chunker *chunker
	now     func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens or creates the database at path. embedder may be nil.
func OpenSQLite(path string, embedder llm.Embedder) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, chunker: newChunker(embedder), now: time.Now}, nil
}

func initSQLite(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS documents (
			normalized_title TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			embedding_text TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			normalized_title TEXT NOT NULL REFERENCES documents(normalized_title) ON DELETE CASCADE,
			idx INTEGER NOT NULL,
			text TEXT NOT NULL,
			vector BLOB,
			PRIMARY KEY (normalized_title, idx)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("init sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, doc Document, embeddingText string) (Document, error) {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE normalized_title = ?", doc.NormalizedTitle); err != nil {
		return Document{}, fmt.Errorf("replace document: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO documents (normalized_title, id, title, content, agent_id, created_at, embedding_text) VALUES (?, ?, ?, ?, ?, ?, ?)",
		doc.NormalizedTitle, doc.ID, doc.Title, doc.Content, doc.AgentID, doc.CreatedAt.Format(time.RFC3339Nano), embeddingText,
	); err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	for i, c := range chunks {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO chunks (normalized_title, idx, text, vector) VALUES (?, ?, ?, ?)",
			doc.NormalizedTitle, i, c.text, encodeVector(c.vector),
		); err != nil {
			return Document{}, fmt.Errorf("insert chunk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStore) FindByNormalizedTitle(ctx context.Context, normalizedTitle string) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, title, normalized_title, content, agent_id, created_at FROM documents WHERE normalized_title = ?",
		normalizedTitle)
	doc, err := scanDocument(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return doc, err
}

func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	qv, err := s.chunker.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, normalized_title, content, agent_id, created_at, embedding_text FROM documents")
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	var docs []Document
	var texts []string
	for rows.Next() {
		var text string
		doc, err := scanDocument(rows.Scan, &text)
		if err != nil {
			rows.Close()
			return nil, err
		}
		docs = append(docs, doc)
		texts = append(texts, text)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	results := make([]scored, 0, len(docs))
	for i, doc := range docs {
		var chunks []chunk
		if qv != nil {
			if chunks, err = s.loadChunks(ctx, doc.NormalizedTitle); err != nil {
				return nil, err
			}
		}
		results = append(results, scored{doc: doc, score: scoreEntry(qv, query, chunks, texts[i])})
	}
	return rank(results, limit), nil
}

func (s *SQLiteStore) loadChunks(ctx context.Context, normalizedTitle string) ([]chunk, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT text, vector FROM chunks WHERE normalized_title = ? ORDER BY idx", normalizedTitle)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()
	var out []chunk
	for rows.Next() {
		var c chunk
		var blob []byte
		if err := rows.Scan(&c.text, &blob); err != nil {
			return nil, err
		}
		c.vector = decodeVector(blob)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanDocument(scan func(dest ...any) error, extra ...any) (Document, error) {
	var doc Document
	var created string
	dest := append([]any{&doc.ID, &doc.Title, &doc.NormalizedTitle, &doc.Content, &doc.AgentID, &created}, extra...)
	if err := scan(dest...); err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Document{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	doc.CreatedAt = t
	return doc, nil
}

func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}
