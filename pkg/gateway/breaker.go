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

package gateway

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig defines circuit breaker behavior. Failures are counted in a
// sliding window rather than consecutively.
type BreakerConfig struct {
	FailureThreshold int
	FailureWindow    time.Duration
	Cooldown         time.Duration
	OnStateChange    func(from, to CircuitState)
}

// DefaultBreakerConfig returns the standard gateway parameters.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		Cooldown:         30 * time.Second,
	}
}

func (c *BreakerConfig) setDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = 60 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
}

// CircuitBreaker tracks timestamped failures in a sliding window. Reaching
// the threshold opens the circuit; after the cooldown the next state read
// promotes it to half-open, where a single success closes it and a single
// failure re-opens it.
type CircuitBreaker struct {
	mu       sync.Mutex
	state    CircuitState
	failures []time.Time
	openedAt time.Time
	cfg      BreakerConfig
	now      func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	cfg.setDefaults()
	return &CircuitBreaker{state: StateClosed, cfg: cfg, now: time.Now}
}

// RecordFailure timestamps one failure, prunes entries outside the window,
// and opens the circuit at the threshold. A failure in half-open re-opens
// immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	if cb.stateLocked(now) == StateHalfOpen {
		cb.transitionLocked(StateOpen, now)
		return
	}

	cb.failures = append(cb.failures, now)
	cb.pruneLocked(now)
	if cb.state == StateClosed && len(cb.failures) >= cb.cfg.FailureThreshold {
		cb.transitionLocked(StateOpen, now)
	}
}

// RecordSuccess clears the failure history and closes the circuit from any
// state.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = cb.failures[:0]
	if cb.state != StateClosed {
		cb.setStateLocked(StateClosed, cb.now())
	}
}

// State returns the current state, promoting OPEN to HALF_OPEN once the
// cooldown has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked(cb.now())
}

// IsAllowed reports whether a request may pass: closed and half-open allow,
// open rejects.
func (cb *CircuitBreaker) IsAllowed() bool {
	state := cb.State()
	return state == StateClosed || state == StateHalfOpen
}

func (cb *CircuitBreaker) stateLocked(now time.Time) CircuitState {
	if cb.state == StateOpen && now.Sub(cb.openedAt) >= cb.cfg.Cooldown {
		cb.setStateLocked(StateHalfOpen, now)
	}
	return cb.state
}

func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-cb.cfg.FailureWindow)
	kept := cb.failures[:0]
	for _, ts := range cb.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	cb.failures = kept
}

func (cb *CircuitBreaker) transitionLocked(to CircuitState, now time.Time) {
	if to == StateOpen {
		cb.openedAt = now
		cb.failures = cb.failures[:0]
	}
	cb.setStateLocked(to, now)
}

func (cb *CircuitBreaker) setStateLocked(to CircuitState, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateOpen {
		cb.openedAt = now
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// BreakerManager lazily creates one breaker per target.
type BreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      BreakerConfig
	// onStateChange receives the target along with the transition, so the
	// gateway can pause or resume that target's consumer.
	onStateChange func(target string, from, to CircuitState)
	logger        *zap.Logger
}

// NewBreakerManager creates an empty manager. onStateChange may be nil.
func NewBreakerManager(cfg BreakerConfig, onStateChange func(target string, from, to CircuitState), logger *zap.Logger) *BreakerManager {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerManager{
		breakers:      make(map[string]*CircuitBreaker),
		cfg:           cfg,
		onStateChange: onStateChange,
		logger:        logger,
	}
}

// Get returns the breaker for a target, creating it on first use.
func (m *BreakerManager) Get(target string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[target]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[target]; ok {
		return cb
	}
	cfg := m.cfg
	if m.onStateChange != nil {
		cfg.OnStateChange = func(from, to CircuitState) {
			m.logger.Info("circuit state change",
				zap.String("target", target),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			m.onStateChange(target, from, to)
		}
	}
	cb = NewCircuitBreaker(cfg)
	m.breakers[target] = cb
	return cb
}
