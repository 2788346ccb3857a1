package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the volume agent.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// HTTP API settings
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Tab behavior
	EvalTimeoutMS    int
	TabSyncSeconds   int
	PropagateBatch   int
	PropagateDelayMS int
	DebounceMS       int

	// Persistence
	StorePath     string
	HistoryDir    string
	HistoryBuffer int
	HistorySizeMB int

	// Browser autolaunch
	LaunchBrowser bool
	ProfileDir    string
	StartURL      string

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		BindAddr:         getEnvOrDefault("AGENT_BIND_ADDR", "127.0.0.1:8377"),
		PortCandidates:   getEnvListOrDefault("AGENT_BIND_CANDIDATES", []string{"127.0.0.1:8378", "127.0.0.1:8379"}),
		PortAutoFallback: getEnvBoolOrDefault("AGENT_PORT_AUTO_FALLBACK", true),
		EvalTimeoutMS:    getEnvIntOrDefault("AGENT_EVAL_TIMEOUT_MS", 5000),
		TabSyncSeconds:   getEnvIntOrDefault("AGENT_TAB_SYNC_SECONDS", 5),
		PropagateBatch:   getEnvIntOrDefault("AGENT_PROPAGATE_BATCH", 5),
		PropagateDelayMS: getEnvIntOrDefault("AGENT_PROPAGATE_DELAY_MS", 50),
		DebounceMS:       getEnvIntOrDefault("AGENT_DEBOUNCE_MS", 100),
		StorePath:        getEnvOrDefault("AGENT_STORE_PATH", "./data/domain_volumes.json"),
		HistoryDir:       getEnvOrDefault("AGENT_HISTORY_DIR", "./data/history"),
		HistoryBuffer:    getEnvIntOrDefault("AGENT_HISTORY_BUFFER", 256),
		HistorySizeMB:    getEnvIntOrDefault("AGENT_HISTORY_SIZE_MB", 25),
		LaunchBrowser:    getEnvBoolOrDefault("AGENT_LAUNCH_BROWSER", false),
		ProfileDir:       getEnvOrDefault("AGENT_PROFILE_DIR", "./data/profile"),
		StartURL:         getEnvOrDefault("AGENT_START_URL", "about:blank"),
		LogLevel:         strings.ToLower(getEnvOrDefault("AGENT_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("AGENT_LOG_FILE", "logs/volume_agent.log"),
	}

	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.PropagateBatch < 1 {
		cfg.PropagateBatch = 1
	}
	if cfg.DebounceMS < 10 {
		cfg.DebounceMS = 10
	}

	return cfg, nil
}

// CDPURL returns the full CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
