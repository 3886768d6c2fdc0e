// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memory implements the episodic memory store: SQLite-backed chunk
// storage with FTS5 full-text candidates, optional vector candidates, and
// hybrid re-ranking with temporal decay and MMR diversity.
package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/teradata-labs/agentos/pkg/types"
)

// Config tunes the store and its ranking.
type Config struct {
	Path string
	// EnableEmbeddings creates the chunks_vec table and turns on vector
	// candidates. Without it, search is BM25-only.
	EnableEmbeddings bool
	VectorWeight     float64
	BM25Weight       float64
	HalfLifeDays     float64
	MMRLambda        float64
}

func (c *Config) setDefaults() {
	if c.VectorWeight == 0 && c.BM25Weight == 0 {
		c.VectorWeight = 0.7
		c.BM25Weight = 0.3
	}
	if c.HalfLifeDays == 0 {
		c.HalfLifeDays = 30
	}
	if c.MMRLambda == 0 {
		c.MMRLambda = 0.7
	}
}

// Store is the episodic memory store. Writes serialize on a mutex; SQLite
// has a single writer anyway.
type Store struct {
	db     *sql.DB
	cfg    Config
	logger *zap.Logger
	mu     sync.Mutex
}

// Open creates or opens the store at cfg.Path and migrates the schema.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, &types.MemoryStoreError{Op: "open", Err: err}
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, &types.MemoryStoreError{Op: "pragma", Err: err}
		}
	}

	s := &Store{db: db, cfg: cfg, logger: logger}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	session_id TEXT,
	content TEXT NOT NULL,
	importance REAL NOT NULL DEFAULT 0.5,
	token_count INTEGER NOT NULL DEFAULT 0,
	source_type TEXT NOT NULL DEFAULT '',
	chunk_index INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_chunks_agent_id ON chunks(agent_id);
CREATE INDEX IF NOT EXISTS idx_chunks_created_at ON chunks(created_at);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	content,
	content='chunks',
	content_rowid='rowid',
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
	INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
END;
CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
	INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;
CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
	INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
	INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TABLE IF NOT EXISTS schema_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return &types.MemoryStoreError{Op: "init schema", Err: err}
	}
	if s.cfg.EnableEmbeddings {
		vecSchema := `
CREATE TABLE IF NOT EXISTS chunks_vec (
	rowid INTEGER PRIMARY KEY,
	embedding BLOB NOT NULL
);

CREATE TRIGGER IF NOT EXISTS chunks_vec_ad AFTER DELETE ON chunks BEGIN
	DELETE FROM chunks_vec WHERE rowid = old.rowid;
END;`
		if _, err := s.db.Exec(vecSchema); err != nil {
			return &types.MemoryStoreError{Op: "init vec schema", Err: err}
		}
	}
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO schema_meta(key, value) VALUES ('schema_version', '1')`); err != nil {
		return &types.MemoryStoreError{Op: "init schema meta", Err: err}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts or replaces a chunk transactionally, keeping the FTS index
// and the vector table in sync. Zero importance is the unset sentinel and
// defaults to the content heuristic; out-of-range values clamp to [0,1], so
// a negative value pins an explicit zero.
func (s *Store) Upsert(ctx context.Context, chunk types.MemoryChunk) error {
	if chunk.ID == "" || chunk.AgentID == "" {
		return &types.MemoryStoreError{Op: "upsert", Err: fmt.Errorf("chunk id and agent id are required")}
	}
	if chunk.Importance == 0 {
		chunk.Importance = ScoreImportance(chunk.Content)
	}
	chunk.Importance = clamp01(chunk.Importance)
	if chunk.TokenCount == 0 {
		chunk.TokenCount = estimateTokens(chunk.Content)
	}
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now().UTC()
	}

	var metadata []byte
	if chunk.Metadata != nil {
		var err error
		metadata, err = json.Marshal(chunk.Metadata)
		if err != nil {
			return &types.MemoryStoreError{Op: "upsert", Err: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &types.MemoryStoreError{Op: "upsert", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	// Explicit delete-then-insert so the external-content FTS triggers
	// fire for both halves of the replace.
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, chunk.ID); err != nil {
		return &types.MemoryStoreError{Op: "upsert", Err: err}
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO chunks (id, agent_id, session_id, content, importance, token_count, source_type, chunk_index, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.AgentID, chunk.SessionID, chunk.Content, chunk.Importance,
		chunk.TokenCount, chunk.SourceType, chunk.ChunkIndex, chunk.CreatedAt.Unix(), metadata)
	if err != nil {
		return &types.MemoryStoreError{Op: "upsert", Err: err}
	}

	if s.cfg.EnableEmbeddings && len(chunk.Embedding) > 0 {
		rowid, err := res.LastInsertId()
		if err != nil {
			return &types.MemoryStoreError{Op: "upsert", Err: err}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO chunks_vec (rowid, embedding) VALUES (?, ?)`,
			rowid, encodeEmbedding(chunk.Embedding)); err != nil {
			return &types.MemoryStoreError{Op: "upsert vec", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &types.MemoryStoreError{Op: "upsert", Err: err}
	}
	return nil
}

// Get fetches one chunk by agent and id.
func (s *Store) Get(ctx context.Context, agentID, id string) (*types.MemoryChunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, session_id, content, importance, token_count, source_type, chunk_index, created_at, metadata
		FROM chunks WHERE agent_id = ? AND id = ?`, agentID, id)
	chunk, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, &types.MemoryStoreError{Op: "get", Err: fmt.Errorf("chunk %s not found", id)}
	}
	if err != nil {
		return nil, &types.MemoryStoreError{Op: "get", Err: err}
	}
	return chunk, nil
}

// UpdateImportance clamps the value to [0,1] and applies it transactionally.
func (s *Store) UpdateImportance(ctx context.Context, agentID, id string, importance float64) error {
	importance = clamp01(importance)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &types.MemoryStoreError{Op: "update importance", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE chunks SET importance = ? WHERE agent_id = ? AND id = ?`,
		importance, agentID, id)
	if err != nil {
		return &types.MemoryStoreError{Op: "update importance", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &types.MemoryStoreError{Op: "update importance", Err: fmt.Errorf("chunk %s not found", id)}
	}
	return tx.Commit()
}

// Delete removes a chunk and its index entries.
func (s *Store) Delete(ctx context.Context, agentID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE agent_id = ? AND id = ?`, agentID, id); err != nil {
		return &types.MemoryStoreError{Op: "delete", Err: err}
	}
	return nil
}

// DecaySweep multiplies the importance of chunks older than the cutoff by
// factor, flooring at 0. Used by the maintenance job.
func (s *Store) DecaySweep(ctx context.Context, olderThan time.Time, factor float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET importance = MAX(0.0, importance * ?) WHERE created_at < ?`,
		factor, olderThan.Unix())
	if err != nil {
		return 0, &types.MemoryStoreError{Op: "decay sweep", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*types.MemoryChunk, error) {
	var (
		chunk     types.MemoryChunk
		sessionID sql.NullString
		createdAt int64
		metadata  sql.NullString
	)
	if err := row.Scan(&chunk.ID, &chunk.AgentID, &sessionID, &chunk.Content,
		&chunk.Importance, &chunk.TokenCount, &chunk.SourceType, &chunk.ChunkIndex,
		&createdAt, &metadata); err != nil {
		return nil, err
	}
	chunk.SessionID = sessionID.String
	chunk.CreatedAt = time.Unix(createdAt, 0).UTC()
	if metadata.Valid && metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &chunk.Metadata)
	}
	return &chunk, nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// encodeEmbedding packs a vector as little-endian float32.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
