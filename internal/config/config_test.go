package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		envListenAddr, envDBPath, envLogLevel, envSelectorURL, envCoordinatorURL,
		envAgents, envMaxAttempts, envChunkFactor, envLeaseTTL, envBudget,
		envHeartbeatTimeout, envSweepInterval, envPollInterval, envRunner, envRunCommand,
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.Agents != defaultAgents {
		t.Errorf("Agents = %d, want %d", cfg.Agents, defaultAgents)
	}
	if cfg.MaxAttempts != defaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", cfg.MaxAttempts, defaultMaxAttempts)
	}
	if cfg.LeaseTTL != defaultLeaseTTL {
		t.Errorf("LeaseTTL = %v, want %v", cfg.LeaseTTL, defaultLeaseTTL)
	}
	if cfg.Budget != defaultBudget {
		t.Errorf("Budget = %v, want %v", cfg.Budget, defaultBudget)
	}
	if cfg.Runner != defaultRunner {
		t.Errorf("Runner = %q, want %q", cfg.Runner, defaultRunner)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envAgents, "8")
	t.Setenv(envLeaseTTL, "30s")
	t.Setenv(envBudget, "10m")
	t.Setenv(envRunner, "sim")
	t.Setenv(envRunCommand, "phpunit {file}")

	cfg := Load()

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.Agents != 8 {
		t.Errorf("Agents = %d, want 8", cfg.Agents)
	}
	if cfg.LeaseTTL != 30*time.Second {
		t.Errorf("LeaseTTL = %v, want 30s", cfg.LeaseTTL)
	}
	if cfg.Budget != 10*time.Minute {
		t.Errorf("Budget = %v, want 10m", cfg.Budget)
	}
	if cfg.Runner != "sim" {
		t.Errorf("Runner = %q, want %q", cfg.Runner, "sim")
	}
	if cfg.RunCommand != "phpunit {file}" {
		t.Errorf("RunCommand = %q, want %q", cfg.RunCommand, "phpunit {file}")
	}
}

func TestInvalidNumericEnvFallsBack(t *testing.T) {
	t.Setenv(envAgents, "zero")
	t.Setenv(envMaxAttempts, "-1")
	t.Setenv(envLeaseTTL, "soon")

	cfg := Load()

	if cfg.Agents != defaultAgents {
		t.Errorf("Agents = %d, want default %d", cfg.Agents, defaultAgents)
	}
	if cfg.MaxAttempts != defaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want default %d", cfg.MaxAttempts, defaultMaxAttempts)
	}
	if cfg.LeaseTTL != defaultLeaseTTL {
		t.Errorf("LeaseTTL = %v, want default %v", cfg.LeaseTTL, defaultLeaseTTL)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}
