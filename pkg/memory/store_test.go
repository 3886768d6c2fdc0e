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
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/agentos/pkg/types"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "memory.db")
	}
	s, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAndGet(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	chunk := types.MemoryChunk{
		ID:         "c1",
		AgentID:    "A",
		SessionID:  "s1",
		Content:    "We decided to migrate the billing service to the new queue.",
		SourceType: "conversation",
		Metadata:   map[string]any{"topic": "billing"},
	}
	require.NoError(t, s.Upsert(ctx, chunk))

	got, err := s.Get(ctx, "A", "c1")
	require.NoError(t, err)
	assert.Equal(t, chunk.Content, got.Content)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "billing", got.Metadata["topic"])
	assert.Greater(t, got.Importance, 0.5, "decision content boosts importance")
	assert.Greater(t, got.TokenCount, 0)

	// Replace keeps a single row.
	chunk.Content = "Updated content about the billing migration."
	require.NoError(t, s.Upsert(ctx, chunk))
	got, err = s.Get(ctx, "A", "c1")
	require.NoError(t, err)
	assert.Equal(t, chunk.Content, got.Content)
}

func TestUpsertImportanceSentinel(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	// Zero means unset and takes the content heuristic; a negative value
	// clamps to zero, which is how callers pin an explicit zero.
	require.NoError(t, s.Upsert(ctx, types.MemoryChunk{
		ID: "unset", AgentID: "A", Content: "We decided to freeze the schema.",
	}))
	got, err := s.Get(ctx, "A", "unset")
	require.NoError(t, err)
	assert.Greater(t, got.Importance, 0.5)

	require.NoError(t, s.Upsert(ctx, types.MemoryChunk{
		ID: "pinned", AgentID: "A", Content: "We decided to freeze the schema.",
		Importance: -1,
	}))
	got, err = s.Get(ctx, "A", "pinned")
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Importance)
}

func TestGetMissingChunk(t *testing.T) {
	s := newTestStore(t, Config{})
	_, err := s.Get(context.Background(), "A", "nope")
	var storeErr *types.MemoryStoreError
	assert.ErrorAs(t, err, &storeErr)
}

func TestUpdateImportanceClamps(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, types.MemoryChunk{ID: "c1", AgentID: "A", Content: "some fact worth keeping around"}))

	require.NoError(t, s.UpdateImportance(ctx, "A", "c1", 3.5))
	got, err := s.Get(ctx, "A", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Importance)

	require.NoError(t, s.UpdateImportance(ctx, "A", "c1", -1))
	got, err = s.Get(ctx, "A", "c1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Importance)

	assert.Error(t, s.UpdateImportance(ctx, "A", "missing", 0.5))
}

func TestHybridSearchFindsFoxChunks(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	contents := []string{
		"The quick brown fox jumps over the lazy dog",
		"TypeScript is a programming language",
		"The fox was very quick indeed",
	}
	for i, content := range contents {
		require.NoError(t, s.Upsert(ctx, types.MemoryChunk{
			ID:      "c" + string(rune('1'+i)),
			AgentID: "A",
			Content: content,
		}))
	}

	results, err := s.Search(ctx, SearchOptions{AgentID: "A", Query: "quick fox"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	top := results[0].Chunk.Content
	assert.Contains(t, top, "fox", "top result is fox-related, got %q", top)
	assert.Equal(t, "bm25", results[0].MatchType)
}

func TestSearchScopedToAgent(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, types.MemoryChunk{ID: "c1", AgentID: "A", Content: "rust ownership rules"}))
	require.NoError(t, s.Upsert(ctx, types.MemoryChunk{ID: "c2", AgentID: "B", Content: "rust ownership rules"}))

	results, err := s.Search(ctx, SearchOptions{AgentID: "A", Query: "rust ownership"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "A", results[0].Chunk.AgentID)
}

func TestSearchFilters(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	old := time.Now().AddDate(0, 0, -90)
	require.NoError(t, s.Upsert(ctx, types.MemoryChunk{
		ID: "old", AgentID: "A", Content: "deployment checklist item", CreatedAt: old, Importance: 0.9,
	}))
	require.NoError(t, s.Upsert(ctx, types.MemoryChunk{
		ID: "new", AgentID: "A", Content: "deployment checklist revision", Importance: 0.2,
	}))

	results, err := s.Search(ctx, SearchOptions{
		AgentID: "A",
		Query:   "deployment checklist",
		Filters: SearchFilters{MinImportance: 0.5},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "old", results[0].Chunk.ID)

	results, err = s.Search(ctx, SearchOptions{
		AgentID: "A",
		Query:   "deployment checklist",
		Filters: SearchFilters{DateFrom: time.Now().AddDate(0, 0, -7)},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].Chunk.ID)
}

func TestTemporalDecayPrefersRecent(t *testing.T) {
	s := newTestStore(t, Config{HalfLifeDays: 30})
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, types.MemoryChunk{
		ID: "stale", AgentID: "A", Content: "kubernetes upgrade notes",
		CreatedAt: time.Now().AddDate(0, -6, 0),
	}))
	require.NoError(t, s.Upsert(ctx, types.MemoryChunk{
		ID: "fresh", AgentID: "A", Content: "kubernetes upgrade notes",
	}))

	results, err := s.Search(ctx, SearchOptions{AgentID: "A", Query: "kubernetes upgrade"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "fresh", results[0].Chunk.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestVectorSearch(t *testing.T) {
	s := newTestStore(t, Config{EnableEmbeddings: true})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, types.MemoryChunk{
		ID: "near", AgentID: "A", Content: "close in vector space",
		Embedding: []float32{1, 0, 0},
	}))
	require.NoError(t, s.Upsert(ctx, types.MemoryChunk{
		ID: "far", AgentID: "A", Content: "distant in vector space",
		Embedding: []float32{0, 1, 0},
	}))

	results, err := s.Search(ctx, SearchOptions{
		AgentID:   "A",
		Query:     "zzz nomatch",
		Embedding: []float32{0.99, 0.01, 0},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].Chunk.ID)
	assert.Equal(t, "vector", results[0].MatchType)
}

func TestDeleteClearsEmbeddingRow(t *testing.T) {
	s := newTestStore(t, Config{EnableEmbeddings: true})
	ctx := context.Background()

	// Deleting a chunk frees its rowid for reuse; the embedding row must go
	// with it or the next insert inherits a stranger's vector.
	require.NoError(t, s.Upsert(ctx, types.MemoryChunk{
		ID: "gone", AgentID: "A", Content: "postgres failover runbook",
		Embedding: []float32{1, 0, 0},
	}))
	require.NoError(t, s.Delete(ctx, "A", "gone"))
	require.NoError(t, s.Upsert(ctx, types.MemoryChunk{
		ID: "plain", AgentID: "A", Content: "unrelated standup notes",
	}))

	results, err := s.Search(ctx, SearchOptions{
		AgentID:   "A",
		Query:     "zzz nomatch",
		Embedding: []float32{1, 0, 0},
	})
	require.NoError(t, err)
	assert.Empty(t, results, "chunk without an embedding matched by vector")
}

func TestUpsertReplaceDropsOldEmbedding(t *testing.T) {
	s := newTestStore(t, Config{EnableEmbeddings: true})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, types.MemoryChunk{
		ID: "c1", AgentID: "A", Content: "vector backed fact",
		Embedding: []float32{0, 1, 0},
	}))
	require.NoError(t, s.Upsert(ctx, types.MemoryChunk{
		ID: "c1", AgentID: "A", Content: "replaced without a vector",
	}))

	results, err := s.Search(ctx, SearchOptions{
		AgentID:   "A",
		Query:     "zzz nomatch",
		Embedding: []float32{0, 1, 0},
	})
	require.NoError(t, err)
	assert.Empty(t, results, "replaced chunk kept the old embedding")
}

func TestHybridMatchType(t *testing.T) {
	s := newTestStore(t, Config{EnableEmbeddings: true})
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, types.MemoryChunk{
		ID: "both", AgentID: "A", Content: "grpc streaming backpressure",
		Embedding: []float32{1, 0},
	}))

	results, err := s.Search(ctx, SearchOptions{
		AgentID:   "A",
		Query:     "grpc backpressure",
		Embedding: []float32{1, 0},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hybrid", results[0].MatchType)
}

func TestConvertToFTSQuery(t *testing.T) {
	assert.Equal(t, `"quick" OR "fox"`, convertToFTSQuery("quick fox"))
	assert.Equal(t, `"quick" OR "fox"`, convertToFTSQuery(`"quick* (fox)^2`))
	assert.Equal(t, `"a" OR "b"`, convertToFTSQuery("a AND b NOT NEAR"))
	assert.Equal(t, "", convertToFTSQuery("  ***  "))
}

func TestDecaySweep(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, types.MemoryChunk{
		ID: "old", AgentID: "A", Content: "aging fact about the system", Importance: 0.8,
		CreatedAt: time.Now().AddDate(0, -2, 0),
	}))
	require.NoError(t, s.Upsert(ctx, types.MemoryChunk{
		ID: "new", AgentID: "A", Content: "recent fact about the system", Importance: 0.8,
	}))

	n, err := s.DecaySweep(ctx, time.Now().AddDate(0, -1, 0), 0.5)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.Get(ctx, "A", "old")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, got.Importance, 1e-9)
	got, err = s.Get(ctx, "A", "new")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, got.Importance, 1e-9)
}

func TestChunkText(t *testing.T) {
	// Ten ~10-token sentences with a 25-token target form several chunks
	// whose boundaries overlap.
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString("This sentence fills about ten tokens of text. ")
	}
	chunks := ChunkText(b.String(), ChunkOptions{TargetTokens: 25, OverlapTokens: 12, MaxChunkTokens: 50})
	require.Greater(t, len(chunks), 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, estimateTokens(c), 50)
	}
	// Overlap: the last sentence of chunk 0 re-appears at the head of chunk 1.
	first := SplitSentences(chunks[0])
	second := SplitSentences(chunks[1])
	assert.Equal(t, first[len(first)-1], second[0])
}

func TestChunkOversizeSentenceEmittedAlone(t *testing.T) {
	huge := strings.Repeat("word ", 300) + "end."
	text := "Short intro. " + huge + " Short outro."
	chunks := ChunkText(text, ChunkOptions{TargetTokens: 50, OverlapTokens: 10, MaxChunkTokens: 100})

	found := false
	for _, c := range chunks {
		if strings.Contains(c, "word word word") && strings.HasSuffix(c, "end.") {
			found = true
			assert.NotContains(t, c, "outro")
		}
	}
	assert.True(t, found, "oversize sentence emitted as its own chunk")
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("First one. Second one! Third?\n\nParagraph break no terminator")
	assert.Equal(t, []string{"First one.", "Second one!", "Third?", "Paragraph break no terminator"}, got)

	assert.Empty(t, SplitSentences("   "))
	assert.Equal(t, []string{"Pi is 3.14 roughly."}, SplitSentences("Pi is 3.14 roughly."))
}

func TestScoreImportance(t *testing.T) {
	assert.InDelta(t, 0.5, ScoreImportance("A plain statement about nothing in particular today"), 1e-9)
	assert.Greater(t, ScoreImportance("We decided to adopt the new schema for all services"), 0.5)
	assert.Greater(t, ScoreImportance("TODO: rotate the credentials before the next release"), 0.5)
	assert.Greater(t, ScoreImportance("Example:\n```\nfunc main() {}\n```\nshown above for reference"), 0.5)
	assert.Less(t, ScoreImportance("ok"), 0.5)
	assert.LessOrEqual(t, ScoreImportance("We decided. TODO: ```code``` and we agreed on the conclusion. Must follow up."), 1.0)
}
