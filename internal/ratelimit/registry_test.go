package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfigs() map[string]Config {
	return map[string]Config{
		Auth:    {Window: 15 * time.Minute, MaxRequests: 5},
		API:     {Window: 15 * time.Minute, MaxRequests: 100},
		Tickets: {Window: time.Hour, MaxRequests: 10},
	}
}

func TestRegistryBuildsIndependentLimiters(t *testing.T) {
	reg, err := NewRegistry(defaultConfigs(), MemoryFactory())
	require.NoError(t, err)
	assert.Equal(t, []string{API, Auth, Tickets}, reg.Names())

	ctx := context.Background()
	auth := reg.MustGet(Auth)
	for i := 0; i < 5; i++ {
		require.True(t, auth.Allow(ctx, "1.2.3.4").Allowed)
	}
	require.False(t, auth.Allow(ctx, "1.2.3.4").Allowed)
	assert.True(t, reg.MustGet(API).Allow(ctx, "1.2.3.4").Allowed)
	assert.True(t, reg.MustGet(Tickets).Allow(ctx, "1.2.3.4").Allowed)
}

func TestRegistryRequiresNamedLimiters(t *testing.T) {
	cfgs := defaultConfigs()
	delete(cfgs, Tickets)
	_, err := NewRegistry(cfgs, MemoryFactory())
	assert.Error(t, err)
}

func TestRegistryRejectsInvalidConfig(t *testing.T) {
	cfgs := defaultConfigs()
	cfgs[API] = Config{Window: time.Minute}
	_, err := NewRegistry(cfgs, MemoryFactory())
	assert.Error(t, err)
}

func TestRegistryGetUnknown(t *testing.T) {
	reg, err := NewRegistry(defaultConfigs(), MemoryFactory())
	require.NoError(t, err)
	_, ok := reg.Get("nope")
	assert.False(t, ok)
	assert.Panics(t, func() { reg.MustGet("nope") })
}
