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

import "strings"

// ChunkOptions tune sentence-aware chunking. Token counts use the same
// chars/4 estimate as the rest of the runtime.
type ChunkOptions struct {
	TargetTokens  int
	OverlapTokens int
	MaxChunkTokens int
}

func (o *ChunkOptions) setDefaults() {
	if o.TargetTokens == 0 {
		o.TargetTokens = 256
	}
	if o.OverlapTokens == 0 {
		o.OverlapTokens = 32
	}
	if o.MaxChunkTokens == 0 {
		o.MaxChunkTokens = 512
	}
}

// ChunkText splits text into sentence-aligned chunks near the target size,
// carrying a tail of trailing sentences into the next chunk as overlap. A
// single sentence larger than the max is emitted alone rather than split
// mid-sentence.
func ChunkText(text string, opts ChunkOptions) []string {
	opts.setDefaults()

	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var (
		chunks  []string
		current []string
		tokens  int
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, " "))
		// Re-seed the next chunk with trailing sentences up to the
		// overlap budget.
		var overlap []string
		overlapTokens := 0
		for i := len(current) - 1; i >= 0; i-- {
			st := estimateTokens(current[i])
			if overlapTokens+st > opts.OverlapTokens {
				break
			}
			overlap = append([]string{current[i]}, overlap...)
			overlapTokens += st
		}
		current = overlap
		tokens = overlapTokens
	}

	for _, sentence := range sentences {
		st := estimateTokens(sentence)
		if st > opts.MaxChunkTokens {
			flush()
			chunks = append(chunks, sentence)
			current, tokens = nil, 0
			continue
		}
		if tokens+st > opts.TargetTokens && len(current) > 0 {
			flush()
		}
		current = append(current, sentence)
		tokens += st
	}
	if len(current) > 0 {
		// Skip a trailing chunk that is pure overlap of the previous one.
		tail := strings.Join(current, " ")
		if len(chunks) == 0 || !strings.HasSuffix(chunks[len(chunks)-1], tail) {
			chunks = append(chunks, tail)
		}
	}
	return chunks
}

// SplitSentences breaks text on sentence terminators and blank lines,
// trimming whitespace and dropping empties.
func SplitSentences(text string) []string {
	var (
		sentences []string
		start     int
	)
	runes := []rune(text)
	emit := func(end int) {
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" {
			sentences = append(sentences, s)
		}
		start = end
	}
	for i, r := range runes {
		switch r {
		case '.', '!', '?':
			// Terminator followed by whitespace or end of text closes a
			// sentence; "3.14" does not.
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				emit(i + 1)
			}
		case '\n':
			if i+1 < len(runes) && runes[i+1] == '\n' {
				emit(i)
			}
		}
	}
	emit(len(runes))
	return sentences
}

func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
