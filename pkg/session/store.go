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

// Package session persists conversations as append-only .jsonl logs, one
// file per session under sessions/<agentId>/<sessionId>.jsonl. The first
// line is a session_header object; every following line is a session_entry.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/agentos/pkg/types"
)

const (
	typeHeader = "session_header"
	typeEntry  = "session_entry"
)

// Store is a filesystem-backed session log. Appends to the same session
// serialize on a per-session mutex; distinct sessions write concurrently.
type Store struct {
	baseDir string
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a store rooted at baseDir (created on demand).
func NewStore(baseDir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		baseDir: baseDir,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Store) path(agentID, sessionID string) string {
	return filepath.Join(s.baseDir, agentID, sessionID+".jsonl")
}

func (s *Store) lock(agentID, sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := agentID + "/" + sessionID
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Create starts a new session for agentID and writes its header line.
func (s *Store) Create(agentID, channel string) (*types.SessionHeader, error) {
	header := &types.SessionHeader{
		Type:      typeHeader,
		SessionID: uuid.NewString(),
		AgentID:   agentID,
		Channel:   channel,
		CreatedAt: time.Now().UTC(),
	}
	if err := os.MkdirAll(filepath.Join(s.baseDir, agentID), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	if err := s.writeLine(agentID, header.SessionID, header); err != nil {
		return nil, err
	}
	s.logger.Debug("session created",
		zap.String("agent_id", agentID),
		zap.String("session_id", header.SessionID))
	return header, nil
}

// Exists reports whether the session log file is present.
func (s *Store) Exists(agentID, sessionID string) bool {
	_, err := os.Stat(s.path(agentID, sessionID))
	return err == nil
}

// Append adds one entry to the session log. The entry id and timestamp are
// filled when absent.
func (s *Store) Append(agentID, sessionID string, entry types.SessionEntry) error {
	entry.Type = typeEntry
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return s.writeLine(agentID, sessionID, entry)
}

// AppendMessage records a conversation message as a session entry.
func (s *Store) AppendMessage(agentID, sessionID string, msg types.Message) error {
	return s.Append(agentID, sessionID, types.SessionEntry{
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
		ToolCalls:  msg.ToolCalls,
	})
}

func (s *Store) writeLine(agentID, sessionID string, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal session line: %w", err)
	}

	l := s.lock(agentID, sessionID)
	l.Lock()
	defer l.Unlock()

	f, err := os.OpenFile(s.path(agentID, sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append session log: %w", err)
	}
	return nil
}

// Load reads the full session log. Blank lines are tolerated; any
// unparseable line makes the session unreadable (ErrSessionCorrupt).
func (s *Store) Load(agentID, sessionID string) (*types.SessionHeader, []types.SessionEntry, error) {
	l := s.lock(agentID, sessionID)
	l.Lock()
	defer l.Unlock()

	f, err := os.Open(s.path(agentID, sessionID))
	if err != nil {
		return nil, nil, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	var (
		header  *types.SessionHeader
		entries []types.SessionEntry
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if header == nil {
			var h types.SessionHeader
			if err := json.Unmarshal([]byte(line), &h); err != nil || h.Type != typeHeader {
				return nil, nil, fmt.Errorf("session %s line %d: %w", sessionID, lineNo, types.ErrSessionCorrupt)
			}
			header = &h
			continue
		}
		var e types.SessionEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil || e.Type != typeEntry {
			return nil, nil, fmt.Errorf("session %s line %d: %w", sessionID, lineNo, types.ErrSessionCorrupt)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read session log: %w", err)
	}
	if header == nil {
		return nil, nil, fmt.Errorf("session %s: empty log: %w", sessionID, types.ErrSessionCorrupt)
	}
	return header, entries, nil
}

// Messages replays the session log as conversation messages.
func (s *Store) Messages(agentID, sessionID string) ([]types.Message, error) {
	_, entries, err := s.Load(agentID, sessionID)
	if err != nil {
		return nil, err
	}
	msgs := make([]types.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, types.Message{
			Role:       e.Role,
			Content:    e.Content,
			ToolCallID: e.ToolCallID,
			ToolCalls:  e.ToolCalls,
		})
	}
	return msgs, nil
}

// Fork creates a new session containing the entry chain of the source up to
// and including fromEntryID. The copied entries keep their ids; the first
// copied entry records the fork point via parentId.
func (s *Store) Fork(agentID, sessionID, fromEntryID string) (*types.SessionHeader, error) {
	header, entries, err := s.Load(agentID, sessionID)
	if err != nil {
		return nil, err
	}

	cut := -1
	for i, e := range entries {
		if e.ID == fromEntryID {
			cut = i
			break
		}
	}
	if cut < 0 {
		return nil, fmt.Errorf("fork %s: entry %s not found", sessionID, fromEntryID)
	}

	forked, err := s.Create(agentID, header.Channel)
	if err != nil {
		return nil, err
	}
	for i := 0; i <= cut; i++ {
		e := entries[i]
		if i == 0 {
			e.ParentID = sessionID
		}
		if err := s.Append(agentID, forked.SessionID, e); err != nil {
			return nil, err
		}
	}
	return forked, nil
}

// List returns the session ids recorded for an agent.
func (s *Store) List(agentID string) ([]string, error) {
	dir := filepath.Join(s.baseDir, agentID)
	infos, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for _, info := range infos {
		name := info.Name()
		if strings.HasSuffix(name, ".jsonl") {
			ids = append(ids, strings.TrimSuffix(name, ".jsonl"))
		}
	}
	return ids, nil
}
