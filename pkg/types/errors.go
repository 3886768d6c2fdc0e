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

package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the runtime's failure taxonomy.
var (
	// ErrProviderUnavailable is returned when a completion is requested
	// with no provider bound or all fallbacks exhausted.
	ErrProviderUnavailable = errors.New("llm provider unavailable")

	// ErrSessionCorrupt marks a session log with an unparseable line.
	// The session is unreadable from that point on.
	ErrSessionCorrupt = errors.New("session corrupt")

	// ErrAgentNotFound is returned by registries for unknown agent ids.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrToolNotFound is returned when the loop has no handler for a
	// model-requested tool name.
	ErrToolNotFound = errors.New("tool not found")

	// ErrCircuitOpen rejects work while a breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrSchedulerStopped rejects enqueues after shutdown.
	ErrSchedulerStopped = errors.New("scheduler stopped")
)

// HookBlockError short-circuits a hook chain; the reason surfaces to the
// caller. In the tool_call chain it converts to a tool_blocked event instead
// of propagating.
type HookBlockError struct {
	Reason string
}

func (e *HookBlockError) Error() string {
	return fmt.Sprintf("blocked by hook: %s", e.Reason)
}

// NewHookBlockError creates a HookBlockError with the given reason.
func NewHookBlockError(reason string) *HookBlockError {
	return &HookBlockError{Reason: reason}
}

// InvalidStateTransitionError reports a rejected lifecycle edge. The agent
// status is left unchanged.
type InvalidStateTransitionError struct {
	AgentID string
	From    AgentStatus
	To      AgentStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("agent %s: invalid state transition %s -> %s", e.AgentID, e.From, e.To)
}

// ValidationError reports a tool argument schema mismatch. It is returned to
// the model as a structured payload, never propagated as a loop failure.
type ValidationError struct {
	Tool   string
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("tool %s: invalid argument %q: %s", e.Tool, e.Field, e.Detail)
	}
	return fmt.Sprintf("tool %s: invalid arguments: %s", e.Tool, e.Detail)
}

// MemoryStoreError wraps a storage failure in the episodic memory store.
// It is returned to the tool caller and does not affect the reasoning loop.
type MemoryStoreError struct {
	Op  string
	Err error
}

func (e *MemoryStoreError) Error() string {
	return fmt.Sprintf("memory store %s: %v", e.Op, e.Err)
}

func (e *MemoryStoreError) Unwrap() error { return e.Err }

// TimeoutError reports an expired orchestration or remote-dispatch deadline.
type TimeoutError struct {
	Op      string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Elapsed)
}
