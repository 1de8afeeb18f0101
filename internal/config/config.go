package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultListenAddr       = ":8080"
	defaultDBPath           = "splay.db"
	defaultSelectorURL      = ""
	defaultCoordinatorURL   = "http://localhost:8080"
	defaultAgents           = 4
	defaultMaxAttempts      = 3
	defaultChunkFactor      = 2
	defaultLeaseTTL         = 2 * time.Minute
	defaultBudget           = 30 * time.Minute
	defaultHeartbeatTimeout = 90 * time.Second
	defaultSweepInterval    = 5 * time.Second
	defaultPollInterval     = 2 * time.Second
	defaultRunner           = "exec"

	envListenAddr       = "SPLAY_LISTEN_ADDR"
	envDBPath           = "SPLAY_DB_PATH"
	envLogLevel         = "SPLAY_LOG_LEVEL"
	envSelectorURL      = "SPLAY_SELECTOR_URL"
	envCoordinatorURL   = "SPLAY_COORDINATOR_URL"
	envAgents           = "SPLAY_AGENTS"
	envMaxAttempts      = "SPLAY_MAX_ATTEMPTS"
	envChunkFactor      = "SPLAY_CHUNK_FACTOR"
	envLeaseTTL         = "SPLAY_LEASE_TTL"
	envBudget           = "SPLAY_BUDGET"
	envHeartbeatTimeout = "SPLAY_HEARTBEAT_TIMEOUT"
	envSweepInterval    = "SPLAY_SWEEP_INTERVAL"
	envPollInterval     = "SPLAY_POLL_INTERVAL"
	envRunner           = "SPLAY_RUNNER"
	envRunCommand       = "SPLAY_RUN_COMMAND"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr     string
	DBPath         string
	LogLevel       slog.Level
	SelectorURL    string
	CoordinatorURL string

	// Scheduling tunables.
	Agents      int
	MaxAttempts int
	ChunkFactor int
	LeaseTTL    time.Duration
	Budget      time.Duration

	// Failure-handling tunables.
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	PollInterval     time.Duration

	// Agent-side execution.
	Runner     string
	RunCommand string
}

// Load reads configuration from the environment with sensible defaults.
// A .env file in the working directory is merged in first, without
// overriding variables already set in the process environment.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:       defaultListenAddr,
		DBPath:           defaultDBPath,
		LogLevel:         slog.LevelInfo,
		SelectorURL:      defaultSelectorURL,
		CoordinatorURL:   defaultCoordinatorURL,
		Agents:           defaultAgents,
		MaxAttempts:      defaultMaxAttempts,
		ChunkFactor:      defaultChunkFactor,
		LeaseTTL:         defaultLeaseTTL,
		Budget:           defaultBudget,
		HeartbeatTimeout: defaultHeartbeatTimeout,
		SweepInterval:    defaultSweepInterval,
		PollInterval:     defaultPollInterval,
		Runner:           defaultRunner,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envSelectorURL); v != "" {
		cfg.SelectorURL = v
	}
	if v := os.Getenv(envCoordinatorURL); v != "" {
		cfg.CoordinatorURL = v
	}
	cfg.Agents = intEnv(envAgents, cfg.Agents)
	cfg.MaxAttempts = intEnv(envMaxAttempts, cfg.MaxAttempts)
	cfg.ChunkFactor = intEnv(envChunkFactor, cfg.ChunkFactor)
	cfg.LeaseTTL = durationEnv(envLeaseTTL, cfg.LeaseTTL)
	cfg.Budget = durationEnv(envBudget, cfg.Budget)
	cfg.HeartbeatTimeout = durationEnv(envHeartbeatTimeout, cfg.HeartbeatTimeout)
	cfg.SweepInterval = durationEnv(envSweepInterval, cfg.SweepInterval)
	cfg.PollInterval = durationEnv(envPollInterval, cfg.PollInterval)
	if v := os.Getenv(envRunner); v != "" {
		cfg.Runner = v
	}
	if v := os.Getenv(envRunCommand); v != "" {
		cfg.RunCommand = v
	}

	return cfg
}

func intEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
