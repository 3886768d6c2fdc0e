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

// Package orchestrator routes work to agents: the priority scheduler, the
// binding router, and the local/federated registries.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/agentos/pkg/types"
)

// DefaultMaxConcurrent bounds simultaneous dispatches per node.
const DefaultMaxConcurrent = 4

// Executor starts one agent dispatch and returns its event stream.
type Executor func(ctx context.Context, task *types.ScheduledTask) (<-chan types.AgentEvent, error)

// TaskCallbacks receive the lifecycle of one scheduled task. Any may be nil.
type TaskCallbacks struct {
	OnEvent func(types.AgentEvent)
	OnDone  func()
	OnError func(error)
}

type queuedTask struct {
	task      *types.ScheduledTask
	callbacks TaskCallbacks
}

// Scheduler is a priority queue with a concurrency cap. Lower priority
// numbers run first; equal priorities keep FIFO order.
type Scheduler struct {
	mu       sync.Mutex
	pending  []*queuedTask
	running  int
	maxConc  int
	stopped  bool
	executor Executor
	logger   *zap.Logger
}

// NewScheduler wraps an executor. maxConcurrent <= 0 uses the default.
func NewScheduler(executor Executor, maxConcurrent int, logger *zap.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{executor: executor, maxConc: maxConcurrent, logger: logger}
}

// Enqueue accepts a task, filling id and timestamp, and either executes it
// immediately or inserts it before the first pending task with a strictly
// greater priority number. Returns the task id.
func (s *Scheduler) Enqueue(ctx context.Context, task *types.ScheduledTask, callbacks TaskCallbacks) (string, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	if task.Priority == 0 {
		task.Priority = types.PriorityUser
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return "", types.ErrSchedulerStopped
	}
	item := &queuedTask{task: task, callbacks: callbacks}
	if s.running < s.maxConc {
		s.running++
		s.mu.Unlock()
		go s.execute(ctx, item)
		return task.ID, nil
	}

	idx := len(s.pending)
	for i, pending := range s.pending {
		if pending.task.Priority > task.Priority {
			idx = i
			break
		}
	}
	s.pending = append(s.pending, nil)
	copy(s.pending[idx+1:], s.pending[idx:])
	s.pending[idx] = item
	s.mu.Unlock()

	s.logger.Debug("task queued",
		zap.String("task_id", task.ID),
		zap.String("agent_id", task.AgentID),
		zap.Int("priority", int(task.Priority)))
	return task.ID, nil
}

// Pending reports the queued (not yet running) task count.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop rejects further enqueues. In-flight tasks run to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *Scheduler) execute(ctx context.Context, item *queuedTask) {
	defer s.finish(ctx)

	cb := item.callbacks
	events, err := s.executor(ctx, item.task)
	if err != nil {
		s.logger.Warn("task failed to start",
			zap.String("task_id", item.task.ID), zap.Error(err))
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return
	}

	var failure error
	for event := range events {
		if cb.OnEvent != nil {
			cb.OnEvent(event)
		}
		if event.Type == types.EventError {
			failure = errors.New(event.Error)
		}
	}
	if failure != nil {
		if cb.OnError != nil {
			cb.OnError(failure)
		}
		return
	}
	if cb.OnDone != nil {
		cb.OnDone()
	}
}

// finish releases a slot and drains the queue head if capacity permits.
func (s *Scheduler) finish(ctx context.Context) {
	s.mu.Lock()
	s.running--
	var next *queuedTask
	if len(s.pending) > 0 && s.running < s.maxConc {
		next = s.pending[0]
		s.pending = s.pending[1:]
		s.running++
	}
	s.mu.Unlock()

	if next != nil {
		go s.execute(ctx, next)
	}
}
