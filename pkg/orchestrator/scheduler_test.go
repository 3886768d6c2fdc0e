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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/agentos/pkg/types"
)

// blockingExecutor records execution order and holds each task until
// released.
type blockingExecutor struct {
	mu      sync.Mutex
	order   []string
	release chan struct{}
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{release: make(chan struct{})}
}

func (e *blockingExecutor) run(_ context.Context, task *types.ScheduledTask) (<-chan types.AgentEvent, error) {
	e.mu.Lock()
	e.order = append(e.order, task.Message)
	e.mu.Unlock()

	out := make(chan types.AgentEvent)
	go func() {
		<-e.release
		close(out)
	}()
	return out, nil
}

func (e *blockingExecutor) executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

func task(msg string, priority types.Priority) *types.ScheduledTask {
	return &types.ScheduledTask{AgentID: "a", Message: msg, Priority: priority}
}

func TestSchedulerPriorityOrder(t *testing.T) {
	exec := newBlockingExecutor()
	s := NewScheduler(exec.run, 1, nil)
	ctx := context.Background()

	// Occupy the single slot, then queue mixed priorities.
	_, err := s.Enqueue(ctx, task("running", types.PriorityUser), TaskCallbacks{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(exec.executed()) == 1 },
		time.Second, time.Millisecond)

	_, _ = s.Enqueue(ctx, task("bg1", types.PriorityBackground), TaskCallbacks{})
	_, _ = s.Enqueue(ctx, task("user1", types.PriorityUser), TaskCallbacks{})
	_, _ = s.Enqueue(ctx, task("deleg1", types.PriorityDelegation), TaskCallbacks{})
	_, _ = s.Enqueue(ctx, task("user2", types.PriorityUser), TaskCallbacks{})
	assert.Equal(t, 4, s.Pending())

	close(exec.release)
	require.Eventually(t, func() bool { return len(exec.executed()) == 5 },
		time.Second, time.Millisecond)

	// Lower priority numbers first; FIFO within equal priority.
	assert.Equal(t, []string{"running", "user1", "user2", "deleg1", "bg1"}, exec.executed())
}

func TestSchedulerConcurrencyCap(t *testing.T) {
	exec := newBlockingExecutor()
	s := NewScheduler(exec.run, 2, nil)
	ctx := context.Background()

	for _, m := range []string{"t1", "t2", "t3"} {
		_, err := s.Enqueue(ctx, task(m, types.PriorityUser), TaskCallbacks{})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return len(exec.executed()) == 2 },
		time.Second, time.Millisecond)
	assert.Equal(t, 1, s.Pending(), "third task waits for a slot")

	close(exec.release)
	require.Eventually(t, func() bool { return len(exec.executed()) == 3 },
		time.Second, time.Millisecond)
}

func TestSchedulerCallbacks(t *testing.T) {
	events := []types.AgentEvent{
		{Type: types.EventAssistantMessage, Text: "hi"},
	}
	executor := func(context.Context, *types.ScheduledTask) (<-chan types.AgentEvent, error) {
		out := make(chan types.AgentEvent, len(events))
		for _, e := range events {
			out <- e
		}
		close(out)
		return out, nil
	}
	s := NewScheduler(executor, 1, nil)

	var got []types.AgentEvent
	done := make(chan struct{})
	_, err := s.Enqueue(context.Background(), task("t", types.PriorityUser), TaskCallbacks{
		OnEvent: func(e types.AgentEvent) { got = append(got, e) },
		OnDone:  func() { close(done) },
		OnError: func(err error) { t.Errorf("unexpected error: %v", err) },
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onDone never fired")
	}
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Text)
}

func TestSchedulerErrorEventInvokesOnError(t *testing.T) {
	executor := func(context.Context, *types.ScheduledTask) (<-chan types.AgentEvent, error) {
		out := make(chan types.AgentEvent, 1)
		out <- types.AgentEvent{Type: types.EventError, Error: "dispatch blew up"}
		close(out)
		return out, nil
	}
	s := NewScheduler(executor, 1, nil)

	errCh := make(chan error, 1)
	_, err := s.Enqueue(context.Background(), task("t", types.PriorityUser), TaskCallbacks{
		OnDone:  func() { t.Error("onDone fired for a failed dispatch") },
		OnError: func(err error) { errCh <- err },
	})
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.Contains(t, err.Error(), "dispatch blew up")
	case <-time.After(time.Second):
		t.Fatal("onError never fired")
	}
}

func TestSchedulerStop(t *testing.T) {
	s := NewScheduler(func(context.Context, *types.ScheduledTask) (<-chan types.AgentEvent, error) {
		out := make(chan types.AgentEvent)
		close(out)
		return out, nil
	}, 1, nil)

	s.Stop()
	_, err := s.Enqueue(context.Background(), task("t", types.PriorityUser), TaskCallbacks{})
	assert.ErrorIs(t, err, types.ErrSchedulerStopped)
}
