package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "25530", cfg.ServerPort)
	assert.Equal(t, "sl:", cfg.KeyPrefix)
	assert.Equal(t, 24, cfg.JWTExpiryHours)
	assert.Equal(t, 100*time.Second, cfg.Hub.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.Hub.EvictionGrace)
	assert.Equal(t, 256, cfg.Hub.AppendQueueMax)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ROOM_EVICTION_GRACE", "5s")
	t.Setenv("WS_IDLE_TIMEOUT", "not-a-duration")
	t.Setenv("ROOM_APPEND_RETRY_BUDGET", "2")
	t.Setenv("CORS_ALLOWED_ORIGIN", "http://a.test, ,http://b.test")
	t.Setenv("LOG_LEVEL", "chatty")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Hub.EvictionGrace)
	assert.Equal(t, 100*time.Second, cfg.Hub.IdleTimeout, "非法时长应回退到默认值")
	assert.Equal(t, 2, cfg.Hub.AppendRetryBudget)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_RequiresSecrets(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig()
	assert.Error(t, err, "缺少 JWT_SECRET 时应失败")
}
