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

// Package config loads the runtime configuration from file and environment.
// Environment variables use the AGENTIC_OS_ prefix with "__" standing in for
// nesting, e.g. AGENTIC_OS_GATEWAY__ADDR.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	DataDir      string            `mapstructure:"data_dir"`
	BindingsPath string            `mapstructure:"bindings_path"`
	Gateway      GatewayConfig     `mapstructure:"gateway"`
	Broker       BrokerConfig      `mapstructure:"broker"`
	Redis        RedisConfig       `mapstructure:"redis"`
	Memory       MemoryConfig      `mapstructure:"memory"`
	LLM          LLMConfig         `mapstructure:"llm"`
	Scheduler    SchedulerConfig   `mapstructure:"scheduler"`
	Maintenance  MaintenanceConfig `mapstructure:"maintenance"`
	Agents       []AgentConfig     `mapstructure:"agents"`
}

// GatewayConfig configures the ingress server.
type GatewayConfig struct {
	Addr           string        `mapstructure:"addr"`
	AuthToken      string        `mapstructure:"auth_token"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

// BrokerConfig configures the durable message broker.
type BrokerConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig configures the idempotency backend. Empty Addr selects the
// in-memory checker.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MemoryConfig configures the episodic store.
type MemoryConfig struct {
	Path             string  `mapstructure:"path"`
	EnableEmbeddings bool    `mapstructure:"enable_embeddings"`
	VectorWeight     float64 `mapstructure:"vector_weight"`
	BM25Weight       float64 `mapstructure:"bm25_weight"`
	HalfLifeDays     float64 `mapstructure:"half_life_days"`
}

// LLMConfig configures providers and fallback ordering.
type LLMConfig struct {
	APIKey    string   `mapstructure:"api_key"`
	Endpoint  string   `mapstructure:"endpoint"`
	Model     string   `mapstructure:"model"`
	Fallbacks []string `mapstructure:"fallbacks"`
}

// SchedulerConfig bounds concurrent dispatches.
type SchedulerConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// MaintenanceConfig drives the periodic memory decay sweep.
type MaintenanceConfig struct {
	DecayCron      string  `mapstructure:"decay_cron"`
	DecayFactor    float64 `mapstructure:"decay_factor"`
	DecayAfterDays int     `mapstructure:"decay_after_days"`
}

// AgentConfig declares one agent to wire at startup.
type AgentConfig struct {
	ID              string   `mapstructure:"id"`
	Name            string   `mapstructure:"name"`
	Persona         string   `mapstructure:"persona"`
	Model           string   `mapstructure:"model"`
	MaxTurns        int      `mapstructure:"max_turns"`
	ContextWindow   int      `mapstructure:"context_window"`
	ReserveTokens   int      `mapstructure:"reserve_tokens"`
	KeepExchanges   int      `mapstructure:"keep_exchanges"`
	PromptMode      string   `mapstructure:"prompt_mode"`
	BootstrapFiles  []string `mapstructure:"bootstrap_files"`
	MaxCharsPerFile int      `mapstructure:"max_chars_per_file"`
	MaxTotalChars   int      `mapstructure:"max_total_chars"`
	Skills          []string `mapstructure:"skills"`
	AllowedTools    []string `mapstructure:"allowed_tools"`
	DeniedTools     []string `mapstructure:"denied_tools"`
	PinnedMCPTools  []string `mapstructure:"pinned_mcp_tools"`
}

// EnvPrefix is the environment variable namespace.
const EnvPrefix = "AGENTIC_OS"

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("gateway.addr", ":8080")
	v.SetDefault("gateway.idempotency_ttl", 10*time.Minute)
	v.SetDefault("broker.url", "nats://127.0.0.1:4222")
	v.SetDefault("memory.path", "")
	v.SetDefault("memory.vector_weight", 0.7)
	v.SetDefault("memory.bm25_weight", 0.3)
	v.SetDefault("memory.half_life_days", 30)
	v.SetDefault("scheduler.max_concurrent", 4)
	v.SetDefault("maintenance.decay_cron", "0 3 * * *")
	v.SetDefault("maintenance.decay_factor", 0.9)
	v.SetDefault("maintenance.decay_after_days", 30)
}

// Load reads the configuration. An explicit path must exist; without one,
// agentos.yaml is searched in the working directory and defaults apply when
// absent. Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("agentos")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url is required")
	}
	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("scheduler.max_concurrent must be positive, got %d", c.Scheduler.MaxConcurrent)
	}
	if c.Memory.VectorWeight < 0 || c.Memory.BM25Weight < 0 {
		return fmt.Errorf("memory ranking weights must be non-negative")
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, agent := range c.Agents {
		if agent.ID == "" {
			return fmt.Errorf("agent with empty id")
		}
		if seen[agent.ID] {
			return fmt.Errorf("duplicate agent id %q", agent.ID)
		}
		seen[agent.ID] = true
		switch agent.PromptMode {
		case "", "none", "minimal", "full":
		default:
			return fmt.Errorf("agent %s: invalid prompt_mode %q", agent.ID, agent.PromptMode)
		}
	}
	return nil
}
