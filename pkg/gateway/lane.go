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

// Package gateway implements the ingress surface: lane-ordered dispatch,
// idempotency, circuit breaking, the durable broker adaptor, and the
// WebSocket/HTTP server.
package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/agentos/pkg/types"
)

// LaneHandler processes one message on a lane.
type LaneHandler func(ctx context.Context, msg *types.AgentMessage) error

// LaneQueue delivers messages with the same lane key strictly in enqueue
// order while distinct lanes drain concurrently. A handler error never
// aborts the drain. When a lane empties, its state is erased.
type LaneQueue struct {
	mu     sync.Mutex
	lanes  map[string]*lane
	logger *zap.Logger
}

type laneItem struct {
	msg     *types.AgentMessage
	handler LaneHandler
}

type lane struct {
	pending []laneItem
	active  bool
}

// NewLaneQueue returns an empty queue.
func NewLaneQueue(logger *zap.Logger) *LaneQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LaneQueue{lanes: make(map[string]*lane), logger: logger}
}

// Enqueue appends the message and its handler to the lane and starts a drain
// goroutine if the lane is idle.
func (q *LaneQueue) Enqueue(ctx context.Context, key string, msg *types.AgentMessage, handler LaneHandler) {
	q.mu.Lock()
	l, ok := q.lanes[key]
	if !ok {
		l = &lane{}
		q.lanes[key] = l
	}
	l.pending = append(l.pending, laneItem{msg: msg, handler: handler})
	if l.active {
		q.mu.Unlock()
		return
	}
	l.active = true
	q.mu.Unlock()

	go q.drain(ctx, key)
}

func (q *LaneQueue) drain(ctx context.Context, key string) {
	for {
		q.mu.Lock()
		l := q.lanes[key]
		if l == nil || len(l.pending) == 0 {
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}
		item := l.pending[0]
		l.pending = l.pending[1:]
		q.mu.Unlock()

		if err := item.handler(ctx, item.msg); err != nil {
			q.logger.Warn("lane handler failed",
				zap.String("lane", key),
				zap.String("message_id", item.msg.ID),
				zap.Error(err))
		}
	}
}

// Len reports the number of currently tracked lanes.
func (q *LaneQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}
