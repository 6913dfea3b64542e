package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ModeLocal, cfg.Mode)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, 30, cfg.Fatigue.SoftLimit)
	assert.Equal(t, 50, cfg.Fatigue.HardLimit)
	assert.Equal(t, 2*time.Hour, cfg.Fatigue.Window)
	assert.False(t, cfg.Fatigue.SoftCloseUsesProvider)
	assert.Equal(t, 20, cfg.Turn.HistoryLimit)
	assert.Equal(t, 10*time.Minute, cfg.Turn.AuditWindow)
	assert.True(t, cfg.Tools.EnforcePhases)
	assert.False(t, cfg.Phases.ForwardOnly)
	assert.Equal(t, "memory", cfg.Repair.Backend)
	assert.Equal(t, "worker-1", cfg.Repair.Consumer)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PERSONAI_FATIGUE_SOFT_LIMIT", "10")
	t.Setenv("PERSONAI_FATIGUE_HARD_LIMIT", "12")
	t.Setenv("PERSONAI_FATIGUE_WINDOW", "30m")
	t.Setenv("PERSONAI_SERVER_PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Fatigue.SoftLimit)
	assert.Equal(t, 12, cfg.Fatigue.HardLimit)
	assert.Equal(t, 30*time.Minute, cfg.Fatigue.Window)
	assert.Equal(t, "9090", cfg.Server.Port)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	content := []byte("storage:\n  backend: sqlite\n  sqlite_dsn: \":memory:\"\nfatigue:\n  soft_close_uses_provider: true\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, ":memory:", cfg.Storage.SQLiteDSN)
	assert.True(t, cfg.Fatigue.SoftCloseUsesProvider)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "gcp without project", mutate: func(c *Config) { c.Mode = ModeGCP }, wantErr: true},
		{name: "firestore without project", mutate: func(c *Config) { c.Storage.Backend = "firestore" }, wantErr: true},
		{name: "openai without endpoint", mutate: func(c *Config) { c.LLM.Provider = "openai" }, wantErr: true},
		{name: "jwt without secret", mutate: func(c *Config) { c.Auth.Mode = "jwt" }, wantErr: true},
		{name: "hard below soft", mutate: func(c *Config) { c.Fatigue.HardLimit = 10 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Mode:    ModeLocal,
				Storage: StorageConfig{Backend: "memory"},
				LLM:     LLMConfig{Provider: "mock"},
				Auth:    AuthConfig{Mode: "static"},
				Fatigue: FatigueConfig{SoftLimit: 30, HardLimit: 50},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
