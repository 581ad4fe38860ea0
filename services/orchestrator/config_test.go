// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Defaults Tests
// =============================================================================

// TestApplyConfigDefaults_AllDefaults verifies default values are applied.
func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	// Arrange
	cfg := Config{}

	// Act
	result := applyConfigDefaults(cfg)

	// Assert
	assert.Equal(t, 12210, result.Port, "default port should be 12210")
	assert.Equal(t, "info", result.Log.Level)
	assert.Equal(t, AuthModeNone, result.Auth.Mode)
	assert.Equal(t, DriverSQLite, result.Storage.Driver)
	assert.Equal(t, ":memory:", result.Storage.DSN)
	assert.Equal(t, 15*time.Second, result.ShutdownTimeout)
	assert.Equal(t, 0, result.SignupPoints, "programmatic configs grant nothing unless asked")
	assert.NoError(t, result.validate())
}

// TestApplyConfigDefaults_PreservesCustomValues verifies custom values are not overwritten.
func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	// Arrange
	cfg := Config{
		Port:         8080,
		OTelEndpoint: "custom-collector:4317",
		Auth:         AuthConfig{Mode: "JWT", JWTSecret: "s"},
		Storage:      StorageConfig{Driver: "Postgres", DSN: "postgres://x"},
	}

	// Act
	result := applyConfigDefaults(cfg)

	// Assert
	assert.Equal(t, 8080, result.Port, "custom port should be preserved")
	assert.Equal(t, "custom-collector:4317", result.OTelEndpoint)
	assert.Equal(t, AuthModeJWT, result.Auth.Mode, "mode is case-insensitive")
	assert.Equal(t, DriverPostgres, result.Storage.Driver)
	assert.Equal(t, "postgres://x", result.Storage.DSN)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown driver", Config{Storage: StorageConfig{Driver: "mysql"}}},
		{"postgres without dsn", Config{Storage: StorageConfig{Driver: DriverPostgres}}},
		{"jwt without secret", Config{Auth: AuthConfig{Mode: AuthModeJWT}}},
		{"unknown auth mode", Config{Auth: AuthConfig{Mode: "saml"}}},
		{"negative signup", Config{SignupPoints: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, applyConfigDefaults(tt.cfg).validate())
		})
	}
}

// =============================================================================
// Loading Tests
// =============================================================================

func TestApplyEnvOverrides(t *testing.T) {
	// Arrange
	env := map[string]string{
		"CHAT_PORT":            "9000",
		"CHAT_LOG_JSON":        "true",
		"CHAT_AUTH_MODE":       "jwt",
		"CHAT_JWT_SECRET":      "  hunter2  ",
		"CHAT_STORAGE_DRIVER":  "postgres",
		"CHAT_DATABASE_DSN":    "postgres://chat@db/chat",
		"CHAT_REDIS_URL":       "redis://cache:6379/0",
		"OPENAI_BASE_URL":      "http://llm:8000/v1",
		"CHAT_LLM_TEMPERATURE": "0.2",
		"CHAT_LLM_TIMEOUT":     "45s",
		"CHAT_LLM_MAX_RPS":     "2.5",
		"CHAT_SIGNUP_POINTS":   "0",
		"CHAT_ALLOWED_ORIGINS": "https://a.example, ,https://b.example",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	cfg := DefaultConfig()

	// Act
	err := applyEnvOverrides(&cfg, lookup)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, "hunter2", cfg.Auth.JWTSecret)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://chat@db/chat", cfg.Storage.DSN)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
	assert.Equal(t, "http://llm:8000/v1", cfg.LLM.BaseURL)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 2.5, cfg.LLM.MaxRPS)
	assert.Equal(t, 0, cfg.SignupPoints, "an explicit zero overrides the default grant")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestApplyEnvOverrides_InvalidValues(t *testing.T) {
	env := map[string]string{"CHAT_PORT": "eighty", "CHAT_LLM_TIMEOUT": "soon"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	cfg := DefaultConfig()

	err := applyEnvOverrides(&cfg, lookup)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHAT_PORT")
	assert.Contains(t, err.Error(), "CHAT_LLM_TIMEOUT")
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "chat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 8181
auth:
  mode: jwt
  jwt_secret: from-file
storage:
  driver: sqlite
  dsn: /var/lib/chat/chat.db
llm:
  timeout: 30s
  system_prompt: Answer briefly.
allowed_origins:
  - https://chat.example.com
`), 0o600))
	t.Setenv(ConfigPathEnv, path)
	t.Setenv("CHAT_JWT_SECRET", "from-env")

	// Act
	cfg, err := LoadConfig()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Port)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret, "environment wins over the file")
	assert.Equal(t, "/var/lib/chat/chat.db", cfg.Storage.DSN)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "Answer briefly.", cfg.LLM.SystemPrompt)
	assert.Equal(t, DefaultSignupPoints, cfg.SignupPoints, "absent keys keep the baseline")
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.AllowedOrigins)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	t.Setenv(ConfigPathEnv, filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := LoadConfig()

	assert.Error(t, err)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [nope"), 0o600))
	t.Setenv(ConfigPathEnv, path)

	_, err := LoadConfig()

	assert.Error(t, err)
}
