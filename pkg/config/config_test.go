package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.ProofStore)
	assert.Equal(t, 30*time.Second, cfg.ExecTimeout)
	assert.Equal(t, int64(128), cfg.ExecMemoryLimitMB)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("COGNIGATE_ADDR", ":9090")
	t.Setenv("COGNIGATE_PROOF_STORE", "sqlite")
	t.Setenv("COGNIGATE_EXEC_TIMEOUT", "5s")
	t.Setenv("COGNIGATE_REDIS_DB", "3")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "sqlite", cfg.ProofStore)
	assert.Equal(t, 5*time.Second, cfg.ExecTimeout)
	assert.Equal(t, 3, cfg.RedisDB)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("COGNIGATE_EXEC_TIMEOUT", "not-a-duration")
	t.Setenv("COGNIGATE_REDIS_DB", "not-a-number")

	cfg := Load()
	assert.Equal(t, 30*time.Second, cfg.ExecTimeout)
	assert.Equal(t, 0, cfg.RedisDB)
}
