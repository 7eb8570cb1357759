package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-guild-bot/internal/config"
)

func TestBuildPoolConfig(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host: "db", Port: 5433, User: "bot", Password: "pw", Name: "guilds",
		PoolSize:        20,
		ConnectTimeout:  3 * time.Second,
		MaxConnLifetime: 10 * time.Minute,
	}

	pc, err := buildPoolConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(20), pc.MaxConns)
	assert.Equal(t, int32(5), pc.MinConns)
	assert.Equal(t, 3*time.Second, pc.ConnConfig.ConnectTimeout)
	assert.Equal(t, 10*time.Minute, pc.MaxConnLifetime)
	assert.Equal(t, 30*time.Minute, pc.MaxConnIdleTime)
	assert.Equal(t, "db", pc.ConnConfig.Host)
	assert.Equal(t, uint16(5433), pc.ConnConfig.Port)
	assert.Equal(t, "guilds", pc.ConnConfig.Database)
}

func TestBuildPoolConfig_SmallPoolKeepsOneConn(t *testing.T) {
	pc, err := buildPoolConfig(&config.DatabaseConfig{Host: "db", Port: 5432, User: "u", Name: "n", PoolSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int32(2), pc.MaxConns)
	assert.Equal(t, int32(1), pc.MinConns)
	assert.Equal(t, 10*time.Second, pc.ConnConfig.ConnectTimeout)
}
