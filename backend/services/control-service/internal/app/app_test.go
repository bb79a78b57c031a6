package app

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"prepaidgrid/backend/services/control-service/internal/alerts"
	"prepaidgrid/backend/services/control-service/internal/config"
)

func TestDedupKeysUsesRedisWhenReachable(t *testing.T) {
	mr := miniredis.RunT(t)
	a := &App{logger: zap.NewNop()}

	keys := a.dedupKeys(config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:"})
	require.NotNil(t, keys)
	_, ok := keys.(*alerts.RedisKeySet)
	assert.True(t, ok)
	require.NotNil(t, a.redis)
	a.Close()
}

func TestDedupKeysFallsBackToMemory(t *testing.T) {
	a := &App{logger: zap.NewNop()}

	assert.Nil(t, a.dedupKeys(config.RedisConfig{}))

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	assert.Nil(t, a.dedupKeys(config.RedisConfig{Addr: addr}))
	assert.Nil(t, a.redis)
}
