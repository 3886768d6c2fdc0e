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

// Package app composes the runtime: broker, gateway, registries, scheduler,
// router, memory, sessions, the LLM service, and the configured agents.
package app

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/agentos/internal/config"
	"github.com/teradata-labs/agentos/internal/fsx"
	"github.com/teradata-labs/agentos/pkg/agent"
	"github.com/teradata-labs/agentos/pkg/gateway"
	"github.com/teradata-labs/agentos/pkg/llm"
	"github.com/teradata-labs/agentos/pkg/llm/anthropic"
	"github.com/teradata-labs/agentos/pkg/memory"
	"github.com/teradata-labs/agentos/pkg/orchestrator"
	"github.com/teradata-labs/agentos/pkg/session"
	"github.com/teradata-labs/agentos/pkg/types"
)

// App owns every long-lived component of one runtime node.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	transport gateway.Transport
	broker    *gateway.NATSBroker
	redis     *redis.Client
	server    *gateway.Server
	llm       *llm.Service
	sessions  *session.Store
	memory    *memory.Store
	local     *orchestrator.LocalRegistry
	fed       *orchestrator.FederatedRegistry
	scheduler *orchestrator.Scheduler
	router    *orchestrator.Router
	cron      *cron.Cron

	// spawnMu serializes runtime agent creation.
	spawnMu sync.Mutex
}

// New connects to the broker and assembles the full runtime from cfg.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	broker, err := gateway.NewNATSBroker(cfg.Broker.URL, logger)
	if err != nil {
		return nil, err
	}

	checks := map[string]gateway.HealthCheck{"nats": broker.Healthy}
	var idem gateway.IdempotencyChecker
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		idem = gateway.NewRedisIdempotency(redisClient, cfg.Gateway.IdempotencyTTL)
		checks["redis"] = func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Ping(ctx).Err() == nil
		}
	} else {
		idem = gateway.NewMemoryIdempotency(cfg.Gateway.IdempotencyTTL)
	}

	a, err := assemble(cfg, broker, idem, checks, logger)
	if err != nil {
		_ = broker.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, err
	}
	a.broker = broker
	a.redis = redisClient
	return a, nil
}

// assemble wires every component over an already-connected transport. Tests
// call it directly with an in-memory transport.
func assemble(cfg *config.Config, transport gateway.Transport, idem gateway.IdempotencyChecker, checks map[string]gateway.HealthCheck, logger *zap.Logger) (*App, error) {
	dataRoot, err := fsx.NewRoot(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	memPath := cfg.Memory.Path
	if memPath == "" {
		if memPath, err = dataRoot.Path("memory.db"); err != nil {
			return nil, err
		}
	}
	store, err := memory.Open(memory.Config{
		Path:             memPath,
		EnableEmbeddings: cfg.Memory.EnableEmbeddings,
		VectorWeight:     cfg.Memory.VectorWeight,
		BM25Weight:       cfg.Memory.BM25Weight,
		HalfLifeDays:     cfg.Memory.HalfLifeDays,
	}, logger)
	if err != nil {
		return nil, err
	}

	svc := llm.NewService(cfg.LLM.Fallbacks, logger)
	if cfg.LLM.APIKey != "" {
		svc.RegisterProvider(anthropic.NewClient(anthropic.Config{
			APIKey:   cfg.LLM.APIKey,
			Model:    cfg.LLM.Model,
			Endpoint: cfg.LLM.Endpoint,
		}))
	}

	sessionsDir, err := dataRoot.Path("sessions")
	if err != nil {
		return nil, err
	}

	local := orchestrator.NewLocalRegistry()
	a := &App{
		cfg:       cfg,
		logger:    logger,
		transport: transport,
		llm:       svc,
		sessions:  session.NewStore(sessionsDir, logger),
		memory:    store,
		local:     local,
		fed:       orchestrator.NewFederatedRegistry(local, transport, 0, logger),
		router:    orchestrator.NewRouter(local, nil, logger),
		cron:      cron.New(),
	}
	a.scheduler = orchestrator.NewScheduler(a.executeTask, cfg.Scheduler.MaxConcurrent, logger)
	a.server = gateway.NewServer(gateway.ServerConfig{
		Addr:          cfg.Gateway.Addr,
		ValidateToken: tokenValidator(cfg.Gateway.AuthToken),
		Breaker:       gateway.DefaultBreakerConfig(),
		Checks:        checks,
	}, transport, idem, logger)

	for _, ac := range cfg.Agents {
		if _, err := a.wireAgent(ac); err != nil {
			return nil, fmt.Errorf("wiring agent %s: %w", ac.ID, err)
		}
	}
	return a, nil
}

func tokenValidator(token string) gateway.TokenValidator {
	if token == "" {
		return nil
	}
	return func(candidate string) bool {
		return subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1
	}
}

// executeTask is the scheduler's executor: dispatch through the federated
// registry so local and remote agents share one path.
func (a *App) executeTask(ctx context.Context, task *types.ScheduledTask) (<-chan types.AgentEvent, error) {
	return a.fed.Dispatch(ctx, task.AgentID, task.Message, task.SessionID)
}

// Server exposes the gateway, for channel adaptors that inject envelopes and
// listen for responses.
func (a *App) Server() *gateway.Server { return a.server }

// Agents lists the ids of agents running on this node.
func (a *App) Agents() []string { return a.local.AgentIDs() }

// RouteInbound resolves a channel message to an agent through the binding
// table and queues it for dispatch. Dispatch outcomes feed the router's
// per-agent breakers.
func (a *App) RouteInbound(ctx context.Context, channelType, senderID, conversationID, text string) (string, error) {
	resolved := a.router.Resolve(channelType, senderID, conversationID)
	if resolved == nil {
		return "", types.ErrAgentNotFound
	}
	agentID := resolved.AgentID
	task := &types.ScheduledTask{
		AgentID:          agentID,
		Message:          text,
		Priority:         types.PriorityUser,
		BindingOverrides: resolved.Binding.Overrides,
	}
	return a.scheduler.Enqueue(ctx, task, orchestrator.TaskCallbacks{
		OnDone:  func() { a.router.RecordSuccess(agentID) },
		OnError: func(error) { a.router.RecordFailure(agentID) },
	})
}

// Spawn implements the agent_spawn tool: create, initialize, and register an
// agent at runtime.
func (a *App) Spawn(_ context.Context, agentID, name, persona string) error {
	a.spawnMu.Lock()
	defer a.spawnMu.Unlock()
	if a.local.Has(agentID) {
		return fmt.Errorf("agent %s already exists", agentID)
	}
	_, err := a.wireAgent(config.AgentConfig{ID: agentID, Name: name, Persona: persona})
	return err
}

// Run loads bindings, starts the maintenance schedule, and serves the
// gateway until the context is canceled. Shutdown runs before return.
func (a *App) Run(ctx context.Context) error {
	if path := a.cfg.BindingsPath; path != "" {
		bindings, err := orchestrator.LoadBindings(path)
		if err != nil {
			return err
		}
		a.router.SetBindings(bindings)
		if err := a.router.WatchBindings(ctx, path); err != nil {
			return err
		}
	}

	if _, err := a.cron.AddFunc(a.cfg.Maintenance.DecayCron, a.decaySweep); err != nil {
		return fmt.Errorf("scheduling decay sweep: %w", err)
	}
	a.cron.Start()

	err := a.server.Start(ctx)
	a.Shutdown()
	return err
}

// decaySweep ages out stale memory importance on the maintenance schedule.
func (a *App) decaySweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	olderThan := time.Now().UTC().AddDate(0, 0, -a.cfg.Maintenance.DecayAfterDays)
	n, err := a.memory.DecaySweep(ctx, olderThan, a.cfg.Maintenance.DecayFactor)
	if err != nil {
		a.logger.Error("memory decay sweep failed", zap.Error(err))
		return
	}
	a.logger.Info("memory decay sweep", zap.Int64("chunks", n))
}

// Shutdown stops intake, terminates agents, and releases every connection.
// In-flight dispatches run to completion before their agents terminate.
func (a *App) Shutdown() {
	a.scheduler.Stop()
	<-a.cron.Stop().Done()

	for _, entry := range a.local.All() {
		mgr, ok := entry.(*agent.Manager)
		if !ok {
			continue
		}
		if err := mgr.Terminate(); err != nil {
			a.logger.Warn("terminating agent",
				zap.String("agent_id", mgr.ID()), zap.Error(err))
		}
	}

	if a.broker != nil {
		_ = a.broker.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if err := a.memory.Close(); err != nil {
		a.logger.Warn("closing memory store", zap.Error(err))
	}
	a.logger.Info("runtime stopped")
}
