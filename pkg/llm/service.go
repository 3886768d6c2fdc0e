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

package llm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/agentos/pkg/types"
)

// Service owns the provider set, per-session provider bindings, fallback
// rotation, and per-session usage accounting. All methods are safe for
// concurrent use.
type Service struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	fallbacks []string
	active    map[string]Provider
	usage     map[string]*types.Usage
	logger    *zap.Logger
}

// NewService creates a service with the given fallback ordering. Fallback
// names referencing unregistered providers are skipped at call time.
func NewService(fallbacks []string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		providers: make(map[string]Provider),
		fallbacks: fallbacks,
		active:    make(map[string]Provider),
		usage:     make(map[string]*types.Usage),
		logger:    logger,
	}
}

// RegisterProvider adds a provider. The first registered provider is the
// default binding target.
func (s *Service) RegisterProvider(p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.providers[p.Name()]; !exists {
		s.order = append(s.order, p.Name())
	}
	s.providers[p.Name()] = p
}

// BindSession selects the first provider for the session. Completion calls
// without a binding fail with ErrProviderUnavailable.
func (s *Service) BindSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return types.ErrProviderUnavailable
	}
	s.active[sessionID] = s.providers[s.order[0]]
	if _, ok := s.usage[sessionID]; !ok {
		s.usage[sessionID] = &types.Usage{}
	}
	return nil
}

// UnbindSession releases the session's provider binding. Usage accounting
// is retained.
func (s *Service) UnbindSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, sessionID)
}

func (s *Service) binding(sessionID string) (Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.active[sessionID]
	if !ok || p == nil {
		return nil, types.ErrProviderUnavailable
	}
	return p, nil
}

// candidates returns the active provider followed by the configured
// fallbacks, the active one excluded from the fallback tail.
func (s *Service) candidates(active Provider) []Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Provider{active}
	for _, name := range s.fallbacks {
		if name == active.Name() {
			continue
		}
		if p, ok := s.providers[name]; ok {
			out = append(out, p)
		}
	}
	return out
}

// StreamCompletion runs a completion against the session's provider,
// aggregating the chunk stream into one response. On failure the configured
// fallbacks are tried in order; the first success wins. Usage folds into the
// session accumulator.
func (s *Service) StreamCompletion(ctx context.Context, sessionID string, messages []types.Message, tools []types.ToolDefinition, opts CompletionOptions) (*Response, error) {
	active, err := s.binding(sessionID)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, p := range s.candidates(active) {
		stream, err := p.StreamCompletion(ctx, messages, tools, opts)
		if err != nil {
			lastErr = err
			s.logger.Warn("provider failed, rotating",
				zap.String("provider", p.Name()),
				zap.Error(err))
			continue
		}
		resp, err := Aggregate(stream)
		if err != nil {
			lastErr = err
			s.logger.Warn("provider stream failed, rotating",
				zap.String("provider", p.Name()),
				zap.Error(err))
			continue
		}
		s.recordUsage(sessionID, resp.Usage)
		return resp, nil
	}
	return nil, fmt.Errorf("%w: all providers failed: %v", types.ErrProviderUnavailable, lastErr)
}

// StreamRaw passes the active provider's chunk stream through unchanged.
// No fallback rotation applies once streaming has begun.
func (s *Service) StreamRaw(ctx context.Context, sessionID string, messages []types.Message, tools []types.ToolDefinition, opts CompletionOptions) (<-chan StreamChunk, error) {
	active, err := s.binding(sessionID)
	if err != nil {
		return nil, err
	}
	return active.StreamCompletion(ctx, messages, tools, opts)
}

// CountTokens delegates to the session's active provider.
func (s *Service) CountTokens(sessionID string, messages []types.Message) (int, error) {
	active, err := s.binding(sessionID)
	if err != nil {
		return 0, err
	}
	return active.CountTokens(messages)
}

func (s *Service) recordUsage(sessionID string, u types.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.usage[sessionID]
	if !ok {
		acc = &types.Usage{}
		s.usage[sessionID] = acc
	}
	acc.Add(u)
}

// SessionUsage returns the accumulated usage for a session.
func (s *Service) SessionUsage(sessionID string) types.Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if acc, ok := s.usage[sessionID]; ok {
		return *acc
	}
	return types.Usage{}
}
