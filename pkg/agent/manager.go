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

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/agentos/pkg/hooks"
	"github.com/teradata-labs/agentos/pkg/llm"
	"github.com/teradata-labs/agentos/pkg/session"
	"github.com/teradata-labs/agentos/pkg/types"
)

// Unsubscriber is the inbox subscription handle the manager owns and
// releases at terminate.
type Unsubscriber interface {
	Unsubscribe() error
}

// ManagerConfig configures one agent.
type ManagerConfig struct {
	AgentID string
	Name    string
	// Persona is the fallback system prompt when agents/<id>/SOUL.md is
	// absent.
	Persona string
	// DataDir is the runtime data root; the agent workspace lives at
	// DataDir/agents/<id>.
	DataDir         string
	Model           string
	MaxTurns        int
	ContextWindow   int
	ReserveTokens   int
	KeepExchanges   int
	PromptMode      PromptMode
	BootstrapFiles  []string
	MaxCharsPerFile int
	MaxTotalChars   int
	Skills          []string
}

// Manager drives one agent through its lifecycle state machine and wires
// the loop, compactor, pruner and prompt assembly around a conversation it
// exclusively owns.
type Manager struct {
	cfg      ManagerConfig
	llm      *llm.Service
	sessions *session.Store
	registry *hooks.Registry
	defs     []types.ToolDefinition
	handlers map[string]ToolHandler
	logger   *zap.Logger

	mu            sync.Mutex
	status        types.AgentStatus
	conv          *ConversationContext
	sessionID     string
	loopIteration int
	persona       string
	compactor     *Compactor
	pruner        *Pruner
	assemblerRegs []*hooks.Registration
	prunerReg     *hooks.Registration
	inbox         Unsubscriber
	acb           types.AgentControlBlock
}

// NewManager creates a manager in REGISTERED state.
func NewManager(cfg ManagerConfig, llmSvc *llm.Service, sessions *session.Store, registry *hooks.Registry, defs []types.ToolDefinition, handlers map[string]ToolHandler, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		llm:      llmSvc,
		sessions: sessions,
		registry: registry,
		defs:     defs,
		handlers: handlers,
		logger:   logger.With(zap.String("agent_id", cfg.AgentID)),
		status:   types.StatusRegistered,
		acb: types.AgentControlBlock{
			AgentID:   cfg.AgentID,
			Status:    types.StatusRegistered,
			CreatedAt: time.Now().UTC(),
		},
	}
}

// ID returns the agent id.
func (m *Manager) ID() string { return m.cfg.AgentID }

// Status returns the current lifecycle state.
func (m *Manager) Status() types.AgentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// ControlBlock returns a copy of the agent's bookkeeping record.
func (m *Manager) ControlBlock() types.AgentControlBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	acb := m.acb
	acb.Status = m.status
	acb.LoopIteration = m.loopIteration
	acb.Usage = m.llm.SessionUsage(m.sessionID)
	return acb
}

// AttachInbox hands the manager ownership of its inbox subscription.
func (m *Manager) AttachInbox(sub Unsubscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox = sub
}

func (m *Manager) transitionLocked(to types.AgentStatus) error {
	if !m.status.CanTransition(to) {
		return &types.InvalidStateTransitionError{AgentID: m.cfg.AgentID, From: m.status, To: to}
	}
	m.logger.Debug("status transition",
		zap.String("from", string(m.status)),
		zap.String("to", string(to)))
	m.status = to
	m.acb.LastActiveAt = time.Now().UTC()
	return nil
}

func (m *Manager) transition(to types.AgentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

func (m *Manager) agentDir() string {
	return filepath.Join(m.cfg.DataDir, "agents", m.cfg.AgentID)
}

func (m *Manager) snapshotPath(sessionID string) string {
	return filepath.Join(m.agentDir(), "snapshots", sessionID+".json")
}

// Init prepares the agent workspace, loads the persona, creates the
// compactor, and registers the prompt-assembly and pruning handlers.
func (m *Manager) Init() error {
	if err := m.transition(types.StatusInitializing); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(m.agentDir(), "snapshots"), 0o755); err != nil {
		return fmt.Errorf("create agent workspace: %w", err)
	}

	persona := m.cfg.Persona
	if data, err := os.ReadFile(filepath.Join(m.agentDir(), "SOUL.md")); err == nil {
		persona = string(data)
	}
	if persona == "" {
		persona = fmt.Sprintf("You are %s, an autonomous agent.", m.cfg.Name)
	}

	client := &sessionClient{svc: m.llm, manager: m}
	assembler := NewAssembler(AssemblerConfig{
		Mode:            m.cfg.PromptMode,
		AgentID:         m.cfg.AgentID,
		AgentName:       m.cfg.Name,
		Model:           m.cfg.Model,
		RepoRoot:        m.cfg.DataDir,
		AgentDir:        m.agentDir(),
		BootstrapFiles:  m.cfg.BootstrapFiles,
		MaxCharsPerFile: m.cfg.MaxCharsPerFile,
		MaxTotalChars:   m.cfg.MaxTotalChars,
		Skills:          m.cfg.Skills,
	}, toolDefLister(m.defs))

	m.mu.Lock()
	m.persona = persona
	m.compactor = NewCompactor(client, m.registry, m.cfg.ContextWindow, m.cfg.ReserveTokens, m.cfg.KeepExchanges, m.logger)
	m.pruner = NewPruner(m.cfg.ContextWindow)
	m.assemblerRegs = assembler.Register(m.registry)
	m.prunerReg = m.pruner.Register(m.registry)
	m.mu.Unlock()

	return m.transition(types.StatusReady)
}

// toolDefLister adapts a static definition slice to the ToolLister surface.
type toolDefLister []types.ToolDefinition

func (l toolDefLister) List() []types.ToolDefinition { return l }

// sessionClient binds the shared LLM service to the manager's current
// session.
type sessionClient struct {
	svc     *llm.Service
	manager *Manager
}

func (c *sessionClient) StreamCompletion(ctx context.Context, messages []types.Message, tools []types.ToolDefinition, opts llm.CompletionOptions) (*llm.Response, error) {
	return c.svc.StreamCompletion(ctx, c.manager.currentSession(), messages, tools, opts)
}

func (c *sessionClient) CountTokens(messages []types.Message) (int, error) {
	return c.svc.CountTokens(c.manager.currentSession(), messages)
}

func (m *Manager) currentSession() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Dispatch runs one user message through the agent, streaming events on the
// returned channel. Each assistant message and tool result is persisted to
// the session log as it is emitted. The manager returns to READY when the
// stream completes; an error event forces ERROR.
func (m *Manager) Dispatch(ctx context.Context, text, sessionID string) (<-chan types.AgentEvent, error) {
	if err := m.transition(types.StatusRunning); err != nil {
		return nil, err
	}

	fail := func(err error) (<-chan types.AgentEvent, error) {
		m.forceError()
		return nil, err
	}

	if sessionID == "" || !m.sessions.Exists(m.cfg.AgentID, sessionID) {
		header, err := m.sessions.Create(m.cfg.AgentID, "")
		if err != nil {
			return fail(err)
		}
		sessionID = header.SessionID
	}
	if err := m.llm.BindSession(sessionID); err != nil {
		return fail(err)
	}

	m.mu.Lock()
	sessionChanged := m.sessionID != sessionID
	m.sessionID = sessionID
	conv := m.conv
	persona := m.persona
	compactor := m.compactor
	m.mu.Unlock()

	if conv == nil || sessionChanged {
		conv = NewConversationContext(persona)
		replayed, err := m.sessions.Messages(m.cfg.AgentID, sessionID)
		if err != nil {
			return fail(err)
		}
		for _, msg := range replayed {
			if msg.Role != types.RoleSystem {
				conv.Append(msg)
			}
		}
		m.mu.Lock()
		m.conv = conv
		m.mu.Unlock()
	}

	conv.AppendUser(text)
	if err := m.sessions.AppendMessage(m.cfg.AgentID, sessionID, types.Message{Role: types.RoleUser, Content: text}); err != nil {
		return fail(err)
	}

	if compactor.NeedsCompaction(conv) {
		if err := compactor.Compact(ctx, conv); err != nil {
			return fail(err)
		}
	}

	client := &sessionClient{svc: m.llm, manager: m}
	events := Run(ctx, client, conv, m.defs, m.handlers, m.registry, LoopConfig{
		MaxTurns: m.cfg.MaxTurns,
		Logger:   m.logger,
	})

	out := make(chan types.AgentEvent)
	go func() {
		defer close(out)
		errored := false
		for ev := range events {
			m.persistEvent(sessionID, ev)
			if ev.Type == types.EventError {
				errored = true
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				errored = true
			}
		}
		m.llm.UnbindSession(sessionID)
		if errored {
			m.forceError()
			return
		}
		if err := m.transition(types.StatusReady); err != nil {
			m.logger.Warn("post-dispatch transition failed", zap.Error(err))
		}
	}()
	return out, nil
}

func (m *Manager) persistEvent(sessionID string, ev types.AgentEvent) {
	var err error
	switch ev.Type {
	case types.EventAssistantMessage:
		m.mu.Lock()
		m.loopIteration++
		m.mu.Unlock()
		err = m.sessions.AppendMessage(m.cfg.AgentID, sessionID, types.Message{
			Role:      types.RoleAssistant,
			Content:   ev.Text,
			ToolCalls: ev.ToolCalls,
		})
	case types.EventToolResult:
		err = m.sessions.AppendMessage(m.cfg.AgentID, sessionID, types.Message{
			Role:       types.RoleTool,
			Content:    ev.Result,
			ToolCallID: ev.ToolCallID,
		})
	case types.EventToolBlocked:
		err = m.sessions.AppendMessage(m.cfg.AgentID, sessionID, types.Message{
			Role:       types.RoleTool,
			Content:    fmt.Sprintf(`{"error": "Tool blocked: %s"}`, ev.Reason),
			ToolCallID: ev.ToolCallID,
		})
	}
	if err != nil {
		m.logger.Error("persist event failed",
			zap.String("event", ev.Type),
			zap.Error(err))
	}
}

// forceError moves the agent to ERROR regardless of validity, for use on
// dispatch failures only.
func (m *Manager) forceError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.CanTransition(types.StatusError) {
		m.status = types.StatusError
		return
	}
	// RUNNING is the only state dispatch operates in; anything else here
	// means the machine already moved on.
	m.status = types.StatusError
}

// Suspend parks the agent and writes a snapshot of its in-memory context.
func (m *Manager) Suspend() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(types.StatusSuspended); err != nil {
		return err
	}

	snapshot := types.AgentSnapshot{
		AgentID:          m.cfg.AgentID,
		SessionID:        m.sessionID,
		LoopIteration:    m.loopIteration,
		PendingToolCalls: []types.ToolCall{},
		SavedAt:          time.Now().UTC(),
	}
	if m.conv != nil {
		snapshot.Messages = m.conv.Messages()
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	path := m.snapshotPath(m.sessionID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	m.acb.SnapshotRef = path
	m.logger.Info("agent suspended", zap.String("snapshot", path))
	return nil
}

// Resume reconstitutes the context from the suspend snapshot.
func (m *Manager) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != types.StatusSuspended {
		return &types.InvalidStateTransitionError{AgentID: m.cfg.AgentID, From: m.status, To: types.StatusReady}
	}

	data, err := os.ReadFile(m.snapshotPath(m.sessionID))
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	var snapshot types.AgentSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}

	conv := NewConversationContext(m.persona)
	conv.Replace(snapshot.Messages)
	m.conv = conv
	m.loopIteration = snapshot.LoopIteration

	return m.transitionLocked(types.StatusReady)
}

// Terminate flushes conversation memory, then releases the inbox
// subscription and all hook registrations.
func (m *Manager) Terminate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(types.StatusTerminated); err != nil {
		return err
	}
	if m.conv != nil {
		if _, err := m.registry.Fire(context.Background(), hooks.EventMemoryFlush, m.conv); err != nil {
			m.logger.Warn("memory flush at terminate failed", zap.Error(err))
		}
	}
	if m.inbox != nil {
		if err := m.inbox.Unsubscribe(); err != nil {
			m.logger.Warn("inbox unsubscribe failed", zap.Error(err))
		}
		m.inbox = nil
	}
	for _, reg := range m.assemblerRegs {
		reg.Dispose()
	}
	m.assemblerRegs = nil
	if m.prunerReg != nil {
		m.prunerReg.Dispose()
		m.prunerReg = nil
	}
	m.logger.Info("agent terminated")
	return nil
}
