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

package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/agentos/pkg/gateway"
	"github.com/teradata-labs/agentos/pkg/types"
)

// AgentEntry is one dispatchable agent, local or remote.
type AgentEntry interface {
	ID() string
	Status() types.AgentStatus
	Dispatch(ctx context.Context, text, sessionID string) (<-chan types.AgentEvent, error)
}

// LocalRegistry holds the agents running in this node.
type LocalRegistry struct {
	mu      sync.RWMutex
	entries map[string]AgentEntry
}

// NewLocalRegistry returns an empty registry.
func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{entries: make(map[string]AgentEntry)}
}

// Register adds or replaces an entry.
func (r *LocalRegistry) Register(entry AgentEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.ID()] = entry
}

// Unregister removes an entry by id.
func (r *LocalRegistry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, agentID)
}

// Get looks up a local entry.
func (r *LocalRegistry) Get(agentID string) (AgentEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[agentID]
	return entry, ok
}

// Has reports local presence.
func (r *LocalRegistry) Has(agentID string) bool {
	_, ok := r.Get(agentID)
	return ok
}

// All returns every local entry sorted by id.
func (r *LocalRegistry) All() []AgentEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Available returns the local entries ready to take work.
func (r *LocalRegistry) Available() []AgentEntry {
	var out []AgentEntry
	for _, entry := range r.All() {
		if status := entry.Status(); status == types.StatusReady || status == types.StatusRunning {
			out = append(out, entry)
		}
	}
	return out
}

// AgentIDs lists local agent ids sorted.
func (r *LocalRegistry) AgentIDs() []string {
	all := r.All()
	ids := make([]string, len(all))
	for i, entry := range all {
		ids[i] = entry.ID()
	}
	return ids
}

// FederatedRegistry wraps the local registry with remote-dispatch fallback:
// an unknown id resolves to a cached RemoteEntry bound to the same id.
// Presence and enumeration stay local so diagnostics reflect this node.
type FederatedRegistry struct {
	local     *LocalRegistry
	transport gateway.Transport
	timeout   time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	remotes map[string]*RemoteEntry
}

// NewFederatedRegistry wraps local. A zero timeout uses the 120 s default.
func NewFederatedRegistry(local *LocalRegistry, transport gateway.Transport, timeout time.Duration, logger *zap.Logger) *FederatedRegistry {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FederatedRegistry{
		local:     local,
		transport: transport,
		timeout:   timeout,
		logger:    logger,
		remotes:   make(map[string]*RemoteEntry),
	}
}

// Get returns the local entry when present, otherwise a cached remote entry.
// Remote entries hold no per-call state and may be recreated freely.
func (f *FederatedRegistry) Get(agentID string) AgentEntry {
	if entry, ok := f.local.Get(agentID); ok {
		return entry
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	remote, ok := f.remotes[agentID]
	if !ok {
		remote = NewRemoteEntry(agentID, f.transport, f.timeout, f.logger)
		f.remotes[agentID] = remote
	}
	return remote
}

// Has reports local presence only.
func (f *FederatedRegistry) Has(agentID string) bool { return f.local.Has(agentID) }

// All returns local entries only.
func (f *FederatedRegistry) All() []AgentEntry { return f.local.All() }

// Available returns local ready entries only.
func (f *FederatedRegistry) Available() []AgentEntry { return f.local.Available() }

// AgentIDs lists local agent ids.
func (f *FederatedRegistry) AgentIDs() []string { return f.local.AgentIDs() }

// Dispatch routes a task to the named agent, local or remote.
func (f *FederatedRegistry) Dispatch(ctx context.Context, agentID, text, sessionID string) (<-chan types.AgentEvent, error) {
	return f.Get(agentID).Dispatch(ctx, text, sessionID)
}

// DefaultRemoteTimeout bounds one remote dispatch.
const DefaultRemoteTimeout = 120 * time.Second

// RemoteEntry dispatches to an agent on another node over its durable inbox,
// receiving events on an ephemeral reply subject.
type RemoteEntry struct {
	agentID   string
	transport gateway.Transport
	timeout   time.Duration
	logger    *zap.Logger
}

// NewRemoteEntry binds a remote dispatcher to agentID.
func NewRemoteEntry(agentID string, transport gateway.Transport, timeout time.Duration, logger *zap.Logger) *RemoteEntry {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteEntry{agentID: agentID, transport: transport, timeout: timeout, logger: logger}
}

// ID returns the bound agent id.
func (r *RemoteEntry) ID() string { return r.agentID }

// Status is optimistic: remote state is unknown until a dispatch fails.
func (r *RemoteEntry) Status() types.AgentStatus { return types.StatusReady }

// Dispatch publishes a task.request and streams back the reply events. The
// reply inbox is subscribed before the publish so no response can be lost to
// the race. The subscription is removed on completion and on cancellation.
func (r *RemoteEntry) Dispatch(ctx context.Context, text, sessionID string) (<-chan types.AgentEvent, error) {
	inbox := r.transport.NewReplyInbox()

	// Buffered so the transport callback never blocks on a slow consumer.
	replies := make(chan *types.AgentMessage, 64)
	sub, err := r.transport.SubscribeReply(inbox, func(msg *types.AgentMessage) {
		select {
		case replies <- msg:
		default:
			r.logger.Warn("reply buffer full, dropping",
				zap.String("agent_id", r.agentID), zap.String("type", msg.Type))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing reply inbox: %w", err)
	}

	request, err := types.NewTaskRequest(types.OrchestratorURI, r.agentID, text, sessionID)
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	request.ReplyTo = inbox

	if err := r.transport.Publish(ctx, gateway.InboxSubject(r.agentID), request); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("publishing task.request: %w", err)
	}

	out := make(chan types.AgentEvent)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()

		timer := time.NewTimer(r.timeout)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				select {
				case out <- types.AgentEvent{
					Type:  types.EventError,
					Error: fmt.Sprintf("remote dispatch to %s timed out after %s", r.agentID, r.timeout),
				}:
				case <-ctx.Done():
				}
				return
			case msg := <-replies:
				switch msg.Type {
				case types.MessageTypeTaskResponse:
					var data types.TaskResponseData
					if err := msg.DecodeData(&data); err != nil {
						r.logger.Warn("unparseable task.response", zap.Error(err))
						continue
					}
					select {
					case out <- data.Event:
					case <-ctx.Done():
						return
					}
				case types.MessageTypeTaskDone:
					return
				case types.MessageTypeTaskError:
					var data types.TaskErrorData
					if err := msg.DecodeData(&data); err != nil {
						data.Error = "remote dispatch failed"
					}
					select {
					case out <- types.AgentEvent{Type: types.EventError, Error: data.Error}:
					case <-ctx.Done():
					}
					return
				}
			}
		}
	}()
	return out, nil
}
