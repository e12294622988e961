package server

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/defistate/defistate-amm-go/poolsystem"
	"github.com/defistate/defistate-amm-go/protocols/cpamm"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/stateops"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_InvalidConfig(t *testing.T) {
	_, err := NewPublisher(PublisherConfig{})
	assert.ErrorContains(t, err, "Pools is required")
}

func TestPublisher_SubscribeBeforeInit(t *testing.T) {
	env := newTestEnv(t)
	p, err := NewPublisher(PublisherConfig{
		Pools:   env.system,
		Tokens:  env.publisher.tokens,
		Differ:  env.ops,
		Metrics: env.publisher.metrics,
		Logger:  env.publisher.logger,
	})
	require.NoError(t, err)

	_, _, err = p.Subscribe()
	assert.ErrorContains(t, err, "not initialised")
	assert.ErrorContains(t, p.publish(context.Background()), "not initialised")
}

func TestPublisher_IncrementalPublish(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	events, unsubscribe, err := env.publisher.Subscribe()
	require.NoError(t, err)
	defer unsubscribe()
	full := <-events
	require.Equal(t, EventFull, full.Type)

	// Nothing changed: no event.
	require.NoError(t, env.publisher.publish(ctx))
	assert.Empty(t, events)

	b, err := env.system.CreatePool(ctx, poolsystem.CreatePoolRequest{Seed: 2, TokenX: 1, TokenY: 2})
	require.NoError(t, err)
	a, err := env.system.CreatePool(ctx, poolsystem.CreatePoolRequest{Seed: 1, TokenX: 2, TokenY: 1})
	require.NoError(t, err)
	require.NoError(t, env.publisher.publish(ctx))

	ev := <-events
	require.Equal(t, EventDiff, ev.Type)
	latest := env.publisher.Latest()
	pools := latest.Protocols[stateops.PoolsProtocolID].Data.([]cpamm.Pool)
	require.Len(t, pools, 2)
	assert.Equal(t, b.ID, pools[0].ID)
	assert.Equal(t, a.ID, pools[1].ID)
	assert.Equal(t, uint64(2), latest.Checkpoint.Sequence)

	_, err = env.system.Lock(ctx, "", a.ID)
	require.NoError(t, err)
	require.NoError(t, env.publisher.publish(ctx))

	ev = <-events
	var diff struct {
		Protocols map[string]struct {
			Data cpamm.CPAMMSystemDiff `json:"data"`
		} `json:"protocols"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &diff))
	updates := diff.Protocols[string(stateops.PoolsProtocolID)].Data.Updates
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Locked)
	assert.Equal(t, a.ID, updates[0].ID)
}

func TestPublisher_DropsSlowSubscriber(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pool, err := env.system.CreatePool(ctx, poolsystem.CreatePoolRequest{Seed: 1, TokenX: 1, TokenY: 2})
	require.NoError(t, err)
	require.NoError(t, env.publisher.publish(ctx))

	events, unsubscribe, err := env.publisher.Subscribe()
	require.NoError(t, err)
	defer unsubscribe()
	assert.Equal(t, 1.0, testutil.ToFloat64(env.publisher.metrics.subscribers))

	for i := 0; i < subscriberBuffer+1; i++ {
		if i%2 == 0 {
			_, err = env.system.Lock(ctx, "", pool.ID)
		} else {
			_, err = env.system.Unlock(ctx, "", pool.ID)
		}
		require.NoError(t, err)
		require.NoError(t, env.publisher.publish(ctx))
	}

	received := 0
	for range events {
		received++
	}
	assert.Equal(t, subscriberBuffer, received)
	assert.Zero(t, testutil.ToFloat64(env.publisher.metrics.subscribers))
}

// flakyPools fails the next Pool call for each id listed in failNext.
type flakyPools struct {
	*poolsystem.System
	failNext map[uint64]bool
}

func (f *flakyPools) Pool(ctx context.Context, poolID uint64) (cpamm.Pool, error) {
	if f.failNext[poolID] {
		delete(f.failNext, poolID)
		return cpamm.Pool{}, errors.New("store unavailable")
	}
	return f.System.Pool(ctx, poolID)
}

func TestPublisher_RetriesPoolsAfterFailedReload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	source := &flakyPools{System: env.system, failNext: map[uint64]bool{}}
	p, err := NewPublisher(PublisherConfig{
		Pools:   source,
		Tokens:  env.publisher.tokens,
		Differ:  env.ops,
		Metrics: env.publisher.metrics,
		Logger:  env.publisher.logger,
	})
	require.NoError(t, err)
	require.NoError(t, p.Init(ctx))

	events, unsubscribe, err := p.Subscribe()
	require.NoError(t, err)
	defer unsubscribe()
	require.Equal(t, EventFull, (<-events).Type)

	a, err := env.system.CreatePool(ctx, poolsystem.CreatePoolRequest{Seed: 1, TokenX: 1, TokenY: 2})
	require.NoError(t, err)
	source.failNext[a.ID] = true

	assert.ErrorContains(t, p.publish(ctx), "store unavailable")
	assert.Empty(t, events)
	assert.Empty(t, p.Latest().Protocols[stateops.PoolsProtocolID].Data.([]cpamm.Pool))

	tests := []struct {
		name    string
		change  func() uint64
		wantIDs func(changed uint64) []uint64
	}{
		{
			name:    "no further changes",
			change:  func() uint64 { return a.ID },
			wantIDs: func(uint64) []uint64 { return []uint64{a.ID} },
		},
		{
			name: "alongside a newer change",
			change: func() uint64 {
				b, err := env.system.CreatePool(ctx, poolsystem.CreatePoolRequest{Seed: 2, TokenX: 2, TokenY: 1})
				require.NoError(t, err)
				source.failNext[b.ID] = true
				require.ErrorContains(t, p.publish(ctx), "store unavailable")
				_, err = env.system.Lock(ctx, "", a.ID)
				require.NoError(t, err)
				return b.ID
			},
			wantIDs: func(changed uint64) []uint64 { return []uint64{a.ID, changed} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed := tt.change()
			require.NoError(t, p.publish(ctx))

			ev := <-events
			require.Equal(t, EventDiff, ev.Type)
			var diff struct {
				Protocols map[string]struct {
					Data cpamm.CPAMMSystemDiff `json:"data"`
				} `json:"protocols"`
			}
			require.NoError(t, json.Unmarshal(ev.Payload, &diff))
			data := diff.Protocols[string(stateops.PoolsProtocolID)].Data
			var got []uint64
			for _, pool := range data.Additions {
				got = append(got, pool.ID)
			}
			for _, pool := range data.Updates {
				got = append(got, pool.ID)
			}
			assert.ElementsMatch(t, tt.wantIDs(changed), got)

			published := p.Latest().Protocols[stateops.PoolsProtocolID].Data.([]cpamm.Pool)
			for _, id := range tt.wantIDs(changed) {
				assert.True(t, slices.ContainsFunc(published, func(pool cpamm.Pool) bool { return pool.ID == id }))
			}
			assert.Empty(t, p.pending)
		})
	}
}
