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

package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/agentos/pkg/types"
)

func TestFireRunsInAscendingPriorityOrder(t *testing.T) {
	r := NewRegistry(nil)
	var order []string

	r.Register(EventTurnStart, 50, func(_ context.Context, acc any) (any, error) {
		order = append(order, "second")
		return acc, nil
	})
	r.Register(EventTurnStart, 10, func(_ context.Context, acc any) (any, error) {
		order = append(order, "first")
		return acc, nil
	})
	r.Register(EventTurnStart, 50, func(_ context.Context, acc any) (any, error) {
		order = append(order, "third")
		return acc, nil
	})

	_, err := r.Fire(context.Background(), EventTurnStart, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestFireThreadsAccumulator(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(EventInput, 10, func(_ context.Context, acc any) (any, error) {
		return acc.(int) + 1, nil
	})
	r.Register(EventInput, 20, func(_ context.Context, acc any) (any, error) {
		return acc.(int) * 10, nil
	})

	out, err := r.Fire(context.Background(), EventInput, 4)
	require.NoError(t, err)
	assert.Equal(t, 50, out)
}

func TestNilResultKeepsAccumulator(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(EventInput, 10, func(_ context.Context, acc any) (any, error) {
		return nil, nil
	})

	out, err := r.Fire(context.Background(), EventInput, "seed")
	require.NoError(t, err)
	assert.Equal(t, "seed", out)
}

func TestHookBlockErrorShortCircuits(t *testing.T) {
	r := NewRegistry(nil)
	ran := false
	r.Register(EventToolCall, 10, func(_ context.Context, acc any) (any, error) {
		return nil, types.NewHookBlockError("too risky")
	})
	r.Register(EventToolCall, 20, func(_ context.Context, acc any) (any, error) {
		ran = true
		return acc, nil
	})

	_, err := r.Fire(context.Background(), EventToolCall, nil)
	var blockErr *types.HookBlockError
	require.ErrorAs(t, err, &blockErr)
	assert.Equal(t, "too risky", blockErr.Reason)
	assert.False(t, ran, "handlers after the block must not run")
}

func TestOtherErrorsPropagate(t *testing.T) {
	r := NewRegistry(nil)
	boom := errors.New("boom")
	r.Register(EventTurnEnd, 10, func(_ context.Context, acc any) (any, error) {
		return nil, boom
	})

	_, err := r.Fire(context.Background(), EventTurnEnd, nil)
	assert.ErrorIs(t, err, boom)
}

func TestDisposeRemovesHandler(t *testing.T) {
	r := NewRegistry(nil)
	calls := 0
	reg := r.Register(EventAgentEnd, 10, func(_ context.Context, acc any) (any, error) {
		calls++
		return acc, nil
	})

	_, err := r.Fire(context.Background(), EventAgentEnd, nil)
	require.NoError(t, err)
	reg.Dispose()
	reg.Dispose() // idempotent
	_, err = r.Fire(context.Background(), EventAgentEnd, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, r.Count(EventAgentEnd))
}

func TestRegistrationDuringFireTakesEffectNextFire(t *testing.T) {
	r := NewRegistry(nil)
	lateCalls := 0
	r.Register(EventAgentStart, 10, func(_ context.Context, acc any) (any, error) {
		r.Register(EventAgentStart, 20, func(_ context.Context, acc any) (any, error) {
			lateCalls++
			return acc, nil
		})
		return acc, nil
	})

	_, err := r.Fire(context.Background(), EventAgentStart, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, lateCalls)

	_, err = r.Fire(context.Background(), EventAgentStart, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, lateCalls)
}
