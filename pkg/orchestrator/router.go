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
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teradata-labs/agentos/pkg/gateway"
	"github.com/teradata-labs/agentos/pkg/types"
)

// registryView is the presence/status slice of a registry the router needs.
type registryView interface {
	Get(agentID string) (AgentEntry, bool)
}

// Router resolves (channelType, senderId, conversationId) to an agent by
// scoring bindings. It keeps its own per-agent breakers, independent of the
// gateway's, so routing health reflects dispatch outcomes.
type Router struct {
	mu       sync.RWMutex
	bindings []types.Binding

	registry registryView
	breakers *gateway.BreakerManager
	logger   *zap.Logger
}

// NewRouter creates a router over the registry with the initial bindings.
func NewRouter(registry registryView, bindings []types.Binding, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		bindings: bindings,
		registry: registry,
		breakers: gateway.NewBreakerManager(gateway.DefaultBreakerConfig(), nil, logger),
		logger:   logger,
	}
}

// SetBindings atomically replaces the binding table.
func (r *Router) SetBindings(bindings []types.Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = bindings
}

// Bindings returns a copy of the current table.
func (r *Router) Bindings() []types.Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.Binding(nil), r.bindings...)
}

// Resolve scores every binding and walks the candidates in descending score
// order, returning the first whose agent is registered, READY or RUNNING,
// and whose breaker admits traffic. Nil when nothing qualifies.
func (r *Router) Resolve(channelType, senderID, conversationID string) *types.ResolvedBinding {
	type candidate struct {
		score   int
		binding types.Binding
	}

	r.mu.RLock()
	candidates := make([]candidate, 0, len(r.bindings))
	for _, binding := range r.bindings {
		score, ok := scoreBinding(binding, channelType, senderID, conversationID)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{score: score, binding: binding})
	}
	r.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	for _, c := range candidates {
		entry, ok := r.registry.Get(c.binding.AgentID)
		if !ok {
			continue
		}
		if status := entry.Status(); status != types.StatusReady && status != types.StatusRunning {
			continue
		}
		if !r.breakers.Get(c.binding.AgentID).IsAllowed() {
			continue
		}
		return &types.ResolvedBinding{AgentID: c.binding.AgentID, Binding: c.binding}
	}
	return nil
}

// RecordSuccess marks a dispatched agent healthy.
func (r *Router) RecordSuccess(agentID string) {
	r.breakers.Get(agentID).RecordSuccess()
}

// RecordFailure counts a dispatch failure toward opening the agent's breaker.
func (r *Router) RecordFailure(agentID string) {
	r.breakers.Get(agentID).RecordFailure()
}

// scoreBinding returns the binding's score against the message attributes,
// or false when a set field disqualifies the match.
func scoreBinding(b types.Binding, channelType, senderID, conversationID string) (int, bool) {
	score := b.Priority

	if b.Peer != "" {
		if b.Peer != senderID {
			return 0, false
		}
		score += 4
	}
	if b.Team != "" {
		if b.Team != conversationID {
			return 0, false
		}
		score += 2
	}
	if b.Account != "" {
		score += 2
	}
	switch b.Channel {
	case "":
		// Unset does not constrain.
	case "default":
		// Matches everything, contributes nothing, even when the incoming
		// channel is itself named "default".
	case channelType:
		score++
	default:
		return 0, false
	}
	return score, true
}

// LoadBindings reads a binding table from a JSON file.
func LoadBindings(path string) ([]types.Binding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bindings: %w", err)
	}
	var bindings []types.Binding
	if err := json.Unmarshal(data, &bindings); err != nil {
		return nil, fmt.Errorf("parsing bindings %s: %w", path, err)
	}
	return bindings, nil
}

// WatchBindings hot-reloads the binding file on change until the context is
// canceled. A reload failure keeps the previous table.
func (r *Router) WatchBindings(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				bindings, err := LoadBindings(path)
				if err != nil {
					r.logger.Warn("binding reload failed, keeping previous table",
						zap.String("path", path), zap.Error(err))
					continue
				}
				r.SetBindings(bindings)
				r.logger.Info("bindings reloaded",
					zap.String("path", path), zap.Int("count", len(bindings)))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("binding watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
