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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teradata-labs/agentos/pkg/types"
)

// TokenValidator authenticates a WebSocket client token. A nil validator
// accepts every connection.
type TokenValidator func(token string) bool

// HealthCheck reports one dependency's availability on /ready.
type HealthCheck func() bool

// ServerConfig configures the ingress server.
type ServerConfig struct {
	Addr          string
	ValidateToken TokenValidator
	Breaker       BreakerConfig
	// Checks appear in the /ready payload; all must pass for a 200.
	Checks map[string]HealthCheck
}

// Server is the gateway ingress: it accepts envelopes from WebSocket clients
// and programmatic injectors, orders them per lane, dedupes, gates on the
// per-target circuit breaker, and publishes survivors to agent inboxes.
// Responses route back by correlation id.
type Server struct {
	cfg       ServerConfig
	transport Transport
	lanes     *LaneQueue
	idem      IdempotencyChecker
	breakers  *BreakerManager
	logger    *zap.Logger
	startedAt time.Time

	mu sync.RWMutex
	// correlationId -> ws session that originated the request.
	correlations map[string]string
	// source URI -> ws session, for source-based lookup.
	sources map[string]string
	// ws session id -> connection.
	conns map[string]*wsConn
	// correlationId -> programmatic response listener.
	listeners map[string]func(*types.AgentMessage)
	// agent id -> pausable inbox consumer.
	consumers map[string]Subscription

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

// NewServer wires the ingress pipeline. The breaker manager's state-change
// callback pauses a target's consumer on open and resumes it on close.
func NewServer(cfg ServerConfig, transport Transport, idem IdempotencyChecker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:          cfg,
		transport:    transport,
		lanes:        NewLaneQueue(logger),
		idem:         idem,
		logger:       logger,
		startedAt:    time.Now(),
		correlations: make(map[string]string),
		sources:      make(map[string]string),
		conns:        make(map[string]*wsConn),
		listeners:    make(map[string]func(*types.AgentMessage)),
		consumers:    make(map[string]Subscription),
		upgrader:     websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
	s.breakers = NewBreakerManager(cfg.Breaker, s.onBreakerStateChange, logger)
	return s
}

// RegisterConsumer associates an agent's inbox subscription so breaker state
// changes can pause and resume it.
func (s *Server) RegisterConsumer(agentID string, sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumers[agentID] = sub
}

func (s *Server) onBreakerStateChange(target string, _, to CircuitState) {
	s.mu.RLock()
	sub := s.consumers[target]
	s.mu.RUnlock()
	if sub == nil {
		return
	}
	var err error
	switch to {
	case StateOpen:
		err = sub.Pause()
	case StateClosed:
		err = sub.Resume()
	}
	if err != nil {
		s.logger.Error("adjusting consumer for breaker state",
			zap.String("target", target), zap.Error(err))
	}
}

// HandleIncomingMessage runs the full ingress pipeline for one envelope.
// wsSessionID is empty for programmatic injection.
func (s *Server) HandleIncomingMessage(ctx context.Context, msg *types.AgentMessage, wsSessionID string) {
	if wsSessionID != "" {
		s.mu.Lock()
		if msg.CorrelationID != "" {
			s.correlations[msg.CorrelationID] = wsSessionID
		}
		if msg.Source != "" {
			s.sources[msg.Source] = wsSessionID
		}
		s.mu.Unlock()
	}

	key := laneKey(msg)
	s.lanes.Enqueue(ctx, key, msg, s.processMessage)
}

// InjectMessage is the entry point for channel adaptors. It shares the lane,
// idempotency, and breaker pipeline with socket traffic.
func (s *Server) InjectMessage(ctx context.Context, msg *types.AgentMessage) {
	s.HandleIncomingMessage(ctx, msg, "")
}

// processMessage is the per-message lane handler: dedupe, breaker gate,
// route to the target inbox, record the outcome.
func (s *Server) processMessage(ctx context.Context, msg *types.AgentMessage) error {
	first, err := s.idem.FirstSeen(ctx, msg.DedupeKey())
	if err != nil {
		return fmt.Errorf("idempotency check for %s: %w", msg.ID, err)
	}
	if !first {
		s.logger.Debug("duplicate message dropped", zap.String("message_id", msg.ID))
		return nil
	}

	target := agentIDFromURI(msg.Target)
	breaker := s.breakers.Get(target)
	if !breaker.IsAllowed() {
		s.logger.Debug("message dropped by open circuit",
			zap.String("target", target), zap.String("message_id", msg.ID))
		return nil
	}

	if err := s.transport.Publish(ctx, InboxSubject(target), msg); err != nil {
		breaker.RecordFailure()
		return fmt.Errorf("routing to %s: %w", target, err)
	}
	breaker.RecordSuccess()
	return nil
}

// OnResponseForCorrelation registers a programmatic listener for responses
// carrying the correlation id. Terminal envelopes remove it.
func (s *Server) OnResponseForCorrelation(correlationID string, fn func(*types.AgentMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[correlationID] = fn
}

// SendResponse delivers a response by preference: the originating WebSocket
// session, else a registered listener. With neither, the response drops.
func (s *Server) SendResponse(msg *types.AgentMessage) {
	s.mu.RLock()
	wsSessionID := s.correlations[msg.CorrelationID]
	conn := s.conns[wsSessionID]
	listener := s.listeners[msg.CorrelationID]
	s.mu.RUnlock()

	terminal := msg.Type == types.MessageTypeTaskDone || msg.Type == types.MessageTypeTaskError
	if terminal {
		defer s.forgetCorrelation(msg.CorrelationID)
	}

	switch {
	case conn != nil:
		if err := conn.writeJSON(msg); err != nil {
			s.logger.Warn("writing response to socket",
				zap.String("correlation_id", msg.CorrelationID), zap.Error(err))
		}
	case listener != nil:
		listener(msg)
	default:
		s.logger.Debug("response dropped, no recipient",
			zap.String("correlation_id", msg.CorrelationID),
			zap.String("type", msg.Type))
	}
}

func (s *Server) forgetCorrelation(correlationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.correlations, correlationID)
	delete(s.listeners, correlationID)
}

// Start serves /ws, /health, and /ready until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	s.httpServer = &http.Server{Addr: s.cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.logger.Info("gateway listening", zap.String("addr", s.cfg.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.ValidateToken != nil {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if !s.cfg.ValidateToken(token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	wsSessionID := uuid.NewString()
	wc := &wsConn{conn: conn}

	s.mu.Lock()
	s.conns[wsSessionID] = wc
	s.mu.Unlock()
	s.logger.Info("websocket connected", zap.String("ws_session", wsSessionID))

	defer func() {
		s.mu.Lock()
		delete(s.conns, wsSessionID)
		s.mu.Unlock()
		_ = conn.Close()
		s.logger.Info("websocket disconnected", zap.String("ws_session", wsSessionID))
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := decodeEnvelope(data)
		if err != nil {
			s.logger.Warn("unparseable websocket frame",
				zap.String("ws_session", wsSessionID), zap.Error(err))
			continue
		}
		s.HandleIncomingMessage(r.Context(), msg, wsSessionID)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"uptime": int(time.Since(s.startedAt).Seconds()),
	}
	ready := true
	for name, check := range s.cfg.Checks {
		ok := check()
		payload[name] = ok
		ready = ready && ok
	}
	payload["status"] = "ok"
	if !ready {
		payload["status"] = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// laneKey orders messages by conversation: same source, target, and
// correlation share a lane.
func laneKey(msg *types.AgentMessage) string {
	return msg.Source + ":" + msg.Target + ":" + msg.CorrelationID
}

func agentIDFromURI(uri string) string {
	return strings.TrimPrefix(uri, "agent://")
}
