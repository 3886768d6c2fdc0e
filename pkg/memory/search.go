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

package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/teradata-labs/agentos/pkg/types"
)

const defaultMaxResults = 10

// SearchFilters narrow the candidate set before ranking.
type SearchFilters struct {
	MinImportance float64
	DateFrom      time.Time
	DateTo        time.Time
	SessionID     string
	SourceTypes   []string
}

// SearchOptions describe one search call.
type SearchOptions struct {
	AgentID    string
	Query      string
	Embedding  []float32
	Filters    SearchFilters
	MaxResults int
}

// SearchResult pairs a chunk with its fused score. MatchType records which
// candidate pool produced it: "bm25", "vector", or "hybrid" when both did.
type SearchResult struct {
	Chunk     types.MemoryChunk
	Score     float64
	MatchType string
}

// Search runs hybrid retrieval: BM25 candidates from FTS5, vector candidates
// from the embedding table when enabled, then weighted fusion with temporal
// decay and MMR diversity. Both candidate pools are capped at four times the
// requested result count.
func (s *Store) Search(ctx context.Context, opts SearchOptions) ([]SearchResult, error) {
	if opts.AgentID == "" {
		return nil, &types.MemoryStoreError{Op: "search", Err: fmt.Errorf("agent id is required")}
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = defaultMaxResults
	}
	maxCandidates := 4 * opts.MaxResults

	bm25, err := s.bm25Candidates(ctx, opts, maxCandidates)
	if err != nil {
		return nil, err
	}

	var vector map[string]scoredChunk
	if s.cfg.EnableEmbeddings && len(opts.Embedding) > 0 {
		vector, err = s.vectorCandidates(ctx, opts, maxCandidates)
		if err != nil {
			return nil, err
		}
	}

	fused := s.fuse(bm25, vector)
	selected := mmrSelect(fused, opts.Embedding, s.cfg.MMRLambda, opts.MaxResults)

	s.logger.Debug("memory search",
		zap.String("agent_id", opts.AgentID),
		zap.Int("bm25_candidates", len(bm25)),
		zap.Int("vector_candidates", len(vector)),
		zap.Int("results", len(selected)))
	return selected, nil
}

type scoredChunk struct {
	chunk types.MemoryChunk
	score float64
}

func (s *Store) bm25Candidates(ctx context.Context, opts SearchOptions, limit int) (map[string]scoredChunk, error) {
	ftsQuery := convertToFTSQuery(opts.Query)
	if ftsQuery == "" {
		return nil, nil
	}

	where, args := buildFilterClause(opts.AgentID, opts.Filters)
	query := fmt.Sprintf(`
		SELECT c.id, c.agent_id, c.session_id, c.content, c.importance, c.token_count,
		       c.source_type, c.chunk_index, c.created_at, c.metadata, chunks_fts.rank
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ? AND %s
		ORDER BY chunks_fts.rank
		LIMIT ?`, where)
	allArgs := append([]any{ftsQuery}, args...)
	allArgs = append(allArgs, limit)

	rows, err := s.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, &types.MemoryStoreError{Op: "search fts", Err: err}
	}
	defer rows.Close()

	out := make(map[string]scoredChunk)
	for rows.Next() {
		chunk, rank, err := scanChunkWithRank(rows)
		if err != nil {
			return nil, &types.MemoryStoreError{Op: "search fts", Err: err}
		}
		// FTS5 rank is more negative for better matches.
		out[chunk.ID] = scoredChunk{chunk: *chunk, score: -rank}
	}
	return out, rows.Err()
}

func (s *Store) vectorCandidates(ctx context.Context, opts SearchOptions, limit int) (map[string]scoredChunk, error) {
	where, args := buildFilterClause(opts.AgentID, opts.Filters)
	query := fmt.Sprintf(`
		SELECT c.id, c.agent_id, c.session_id, c.content, c.importance, c.token_count,
		       c.source_type, c.chunk_index, c.created_at, c.metadata, v.embedding
		FROM chunks_vec v
		JOIN chunks c ON c.rowid = v.rowid
		WHERE %s`, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &types.MemoryStoreError{Op: "search vec", Err: err}
	}
	defer rows.Close()

	scored := make([]scoredChunk, 0, 64)
	for rows.Next() {
		var (
			chunk               types.MemoryChunk
			sessionID, metadata *string
			createdAt           int64
			blob                []byte
		)
		if err := rows.Scan(&chunk.ID, &chunk.AgentID, &sessionID, &chunk.Content,
			&chunk.Importance, &chunk.TokenCount, &chunk.SourceType, &chunk.ChunkIndex,
			&createdAt, &metadata, &blob); err != nil {
			return nil, &types.MemoryStoreError{Op: "search vec", Err: err}
		}
		if sessionID != nil {
			chunk.SessionID = *sessionID
		}
		chunk.CreatedAt = time.Unix(createdAt, 0).UTC()
		chunk.Embedding = decodeEmbedding(blob)
		// Similarity from L2 distance: 1/(1+d), so identical vectors score 1.
		dist := l2Distance(opts.Embedding, chunk.Embedding)
		scored = append(scored, scoredChunk{chunk: chunk, score: 1 / (1 + dist)})
	}
	if err := rows.Err(); err != nil {
		return nil, &types.MemoryStoreError{Op: "search vec", Err: err}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	out := make(map[string]scoredChunk, len(scored))
	for _, sc := range scored {
		out[sc.chunk.ID] = sc
	}
	return out, nil
}

// fuse unions the pools, normalizes BM25 scores into [0,1], applies the
// weighted sum and exponential temporal decay.
func (s *Store) fuse(bm25, vector map[string]scoredChunk) []SearchResult {
	var maxBM25 float64
	for _, sc := range bm25 {
		if sc.score > maxBM25 {
			maxBM25 = sc.score
		}
	}

	now := time.Now()
	seen := make(map[string]bool)
	var out []SearchResult
	add := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true

		var (
			base      float64
			matchType string
			chunk     types.MemoryChunk
		)
		b, inBM25 := bm25[id]
		v, inVec := vector[id]
		switch {
		case inBM25 && inVec:
			chunk, matchType = v.chunk, "hybrid"
			base = s.cfg.VectorWeight*v.score + s.cfg.BM25Weight*normalize(b.score, maxBM25)
		case inVec:
			chunk, matchType = v.chunk, "vector"
			base = s.cfg.VectorWeight * v.score
		default:
			chunk, matchType = b.chunk, "bm25"
			base = s.cfg.BM25Weight * normalize(b.score, maxBM25)
		}

		ageDays := now.Sub(chunk.CreatedAt).Hours() / 24
		decay := math.Pow(0.5, ageDays/s.cfg.HalfLifeDays)
		out = append(out, SearchResult{
			Chunk:     chunk,
			Score:     base * decay,
			MatchType: matchType,
		})
	}
	for id := range vector {
		add(id)
	}
	for id := range bm25 {
		add(id)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// mmrSelect picks up to k results greedily, trading relevance against
// similarity to already-selected results.
func mmrSelect(candidates []SearchResult, queryEmbedding []float32, lambda float64, k int) []SearchResult {
	if len(candidates) <= 1 {
		return candidates
	}

	selected := make([]SearchResult, 0, k)
	remaining := append([]SearchResult(nil), candidates...)
	for len(selected) < k && len(remaining) > 0 {
		bestIdx, bestScore := 0, math.Inf(-1)
		for i, cand := range remaining {
			var maxSim float64
			for _, sel := range selected {
				if sim := chunkSimilarity(cand.Chunk, sel.Chunk); sim > maxSim {
					maxSim = sim
				}
			}
			mmr := lambda*cand.Score - (1-lambda)*maxSim
			if mmr > bestScore {
				bestIdx, bestScore = i, mmr
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// chunkSimilarity uses embedding cosine when both chunks carry vectors, and
// token Jaccard overlap otherwise.
func chunkSimilarity(a, b types.MemoryChunk) float64 {
	if len(a.Embedding) > 0 && len(a.Embedding) == len(b.Embedding) {
		return cosine(a.Embedding, b.Embedding)
	}
	return jaccard(tokenSet(a.Content), tokenSet(b.Content))
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		set[strings.Trim(word, ".,;:!?\"'()")] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var inter int
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func cosine(a, b []float32) float64 {
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

func l2Distance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func normalize(score, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return score / max
}

func buildFilterClause(agentID string, f SearchFilters) (string, []any) {
	clauses := []string{"c.agent_id = ?"}
	args := []any{agentID}
	if f.MinImportance > 0 {
		clauses = append(clauses, "c.importance >= ?")
		args = append(args, f.MinImportance)
	}
	if !f.DateFrom.IsZero() {
		clauses = append(clauses, "c.created_at >= ?")
		args = append(args, f.DateFrom.Unix())
	}
	if !f.DateTo.IsZero() {
		clauses = append(clauses, "c.created_at <= ?")
		args = append(args, f.DateTo.Unix())
	}
	if f.SessionID != "" {
		clauses = append(clauses, "c.session_id = ?")
		args = append(args, f.SessionID)
	}
	if len(f.SourceTypes) > 0 {
		placeholders := strings.Repeat("?,", len(f.SourceTypes))
		clauses = append(clauses, fmt.Sprintf("c.source_type IN (%s)", placeholders[:len(placeholders)-1]))
		for _, st := range f.SourceTypes {
			args = append(args, st)
		}
	}
	return strings.Join(clauses, " AND "), args
}

// convertToFTSQuery strips FTS5 operator syntax from free text and OR-joins
// the remaining terms. This is deliberately lossy: a natural-language query
// should never raise a syntax error.
func convertToFTSQuery(query string) string {
	terms := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	cleaned := terms[:0]
	for _, t := range terms {
		switch strings.ToUpper(t) {
		case "AND", "OR", "NOT", "NEAR":
			continue
		}
		cleaned = append(cleaned, `"`+t+`"`)
	}
	return strings.Join(cleaned, " OR ")
}

func scanChunkWithRank(row rowScanner) (*types.MemoryChunk, float64, error) {
	var (
		chunk               types.MemoryChunk
		sessionID, metadata *string
		createdAt           int64
		rank                float64
	)
	if err := row.Scan(&chunk.ID, &chunk.AgentID, &sessionID, &chunk.Content,
		&chunk.Importance, &chunk.TokenCount, &chunk.SourceType, &chunk.ChunkIndex,
		&createdAt, &metadata, &rank); err != nil {
		return nil, 0, err
	}
	if sessionID != nil {
		chunk.SessionID = *sessionID
	}
	chunk.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &chunk, rank, nil
}
