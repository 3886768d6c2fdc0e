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
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultIdempotencyTTL bounds how long a message key blocks duplicates.
const DefaultIdempotencyTTL = 10 * time.Minute

// IdempotencyChecker atomically claims a message key. FirstSeen returns true
// exactly once per key within the TTL.
type IdempotencyChecker interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
}

// RedisIdempotency claims keys with SET NX so multiple gateway nodes share
// one dedupe space.
type RedisIdempotency struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisIdempotency wraps a redis client. A zero ttl uses the default.
func NewRedisIdempotency(client redis.UniversalClient, ttl time.Duration) *RedisIdempotency {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotency{client: client, ttl: ttl, prefix: "gateway:idem:"}
}

// FirstSeen claims the key; false means a duplicate.
func (r *RedisIdempotency) FirstSeen(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency check: %w", err)
	}
	return ok, nil
}

// MemoryIdempotency is a single-node checker used in tests and standalone
// deployments.
type MemoryIdempotency struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryIdempotency returns an empty checker.
func NewMemoryIdempotency(ttl time.Duration) *MemoryIdempotency {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &MemoryIdempotency{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// FirstSeen claims the key, expiring stale claims lazily.
func (m *MemoryIdempotency) FirstSeen(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if claimed, ok := m.seen[key]; ok && now.Sub(claimed) < m.ttl {
		return false, nil
	}
	m.seen[key] = now
	return true, nil
}
