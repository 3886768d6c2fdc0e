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

// Package hooks implements the lifecycle hook registry: named events with
// ordered, prioritized, disposable handler chains.
package hooks

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Event names a lifecycle point an agent fires during its run.
type Event string

const (
	EventInput              Event = "input"
	EventBeforeAgentStart   Event = "before_agent_start"
	EventAgentStart         Event = "agent_start"
	EventTurnStart          Event = "turn_start"
	EventContextAssemble    Event = "context_assemble"
	EventToolCall           Event = "tool_call"
	EventToolExecutionStart Event = "tool_execution_start"
	EventToolExecutionEnd   Event = "tool_execution_end"
	EventToolResult         Event = "tool_result"
	EventTurnEnd            Event = "turn_end"
	EventAgentEnd           Event = "agent_end"
	EventMemoryFlush        Event = "memory_flush"
	EventSessionCompact     Event = "session_compact"
)

// HandlerFunc receives the accumulator and returns the next value. Returning
// nil leaves the accumulator unchanged. Failing with a HookBlockError
// short-circuits the chain with the block surfacing to the caller; any other
// error propagates as-is.
type HandlerFunc func(ctx context.Context, acc any) (any, error)

type handlerEntry struct {
	id       uint64
	priority int
	fn       HandlerFunc
}

// Registration is the disposable handle returned by Register.
type Registration struct {
	registry *Registry
	event    Event
	id       uint64
}

// Dispose removes the handler from its event chain. Safe to call more than
// once; the removal takes effect on the next Fire.
func (r *Registration) Dispose() {
	if r == nil || r.registry == nil {
		return
	}
	r.registry.remove(r.event, r.id)
}

// Registry maps lifecycle events to ordered handler chains. All methods are
// safe for concurrent use. Handlers registered during a Fire take effect on
// subsequent fires only.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Event][]handlerEntry
	nextID   uint64
	logger   *zap.Logger
}

// NewRegistry creates an empty hook registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		handlers: make(map[Event][]handlerEntry),
		logger:   logger,
	}
}

// Register attaches fn to event at the given priority. Lower priorities run
// first; equal priorities run in registration order.
func (r *Registry) Register(event Event, priority int, fn HandlerFunc) *Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	entry := handlerEntry{id: r.nextID, priority: priority, fn: fn}

	chain := r.handlers[event]
	idx := len(chain)
	for i, h := range chain {
		if h.priority > priority {
			idx = i
			break
		}
	}
	chain = append(chain, handlerEntry{})
	copy(chain[idx+1:], chain[idx:])
	chain[idx] = entry
	r.handlers[event] = chain

	return &Registration{registry: r, event: event, id: entry.id}
}

func (r *Registry) remove(event Event, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := r.handlers[event]
	for i, h := range chain {
		if h.id == id {
			r.handlers[event] = append(chain[:i:i], chain[i+1:]...)
			return
		}
	}
}

// Count reports the number of handlers currently attached to event.
func (r *Registry) Count(event Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

// Fire runs the handlers registered for event at call time, in ascending
// priority order, threading the accumulator through the chain. The chain
// snapshot is taken up front, so registrations made by a handler do not run
// in the same fire. The accumulator as of the failure point is returned
// alongside any error.
func (r *Registry) Fire(ctx context.Context, event Event, seed any) (any, error) {
	r.mu.RLock()
	chain := make([]handlerEntry, len(r.handlers[event]))
	copy(chain, r.handlers[event])
	r.mu.RUnlock()

	acc := seed
	for _, h := range chain {
		next, err := h.fn(ctx, acc)
		if err != nil {
			return acc, err
		}
		if next != nil {
			acc = next
		}
	}
	return acc, nil
}
