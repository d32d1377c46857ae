package jshost

import (
	"os"
	"strconv"

	"github.com/cryguy/jshost/internal/core"
)

// Config holds runtime configuration for a Host.
type Config = core.EngineConfig

const (
	defaultMemoryLimitMB      = 128
	defaultShutdownTimeoutMs  = 5000
	defaultMinTimerIntervalMs = 1
	defaultFetchTimeoutSec    = 30
	defaultMaxFetchRequests   = 64
	defaultMaxResponseBytes   = 10 << 20
	defaultMaxSockets         = 16
	defaultMaxOpenFiles       = 64
	defaultStoragePath        = ":memory:"
	defaultLogLevel           = "info"

	envMemoryLimitMB      = "JSHOST_MEMORY_LIMIT_MB"
	envShutdownTimeoutMs  = "JSHOST_SHUTDOWN_TIMEOUT_MS"
	envMinTimerIntervalMs = "JSHOST_MIN_TIMER_INTERVAL_MS"
	envFetchTimeoutSec    = "JSHOST_FETCH_TIMEOUT_SEC"
	envMaxFetchRequests   = "JSHOST_MAX_FETCH_REQUESTS"
	envMaxResponseBytes   = "JSHOST_MAX_RESPONSE_BYTES"
	envMaxSockets         = "JSHOST_MAX_SOCKETS"
	envMaxOpenFiles       = "JSHOST_MAX_OPEN_FILES"
	envFSRoot             = "JSHOST_FS_ROOT"
	envStoragePath        = "JSHOST_STORAGE_PATH"
	envBootstrapScript    = "JSHOST_BOOTSTRAP_SCRIPT"
	envBootstrapLoader    = "JSHOST_BOOTSTRAP_LOADER"
	envLogLevel           = "JSHOST_LOG_LEVEL"
)

// DefaultConfig returns the configuration used when nothing is overridden.
// The file system bridge is disabled until FSRoot is set.
func DefaultConfig() Config {
	return Config{
		MemoryLimitMB:      defaultMemoryLimitMB,
		ShutdownTimeoutMs:  defaultShutdownTimeoutMs,
		MinTimerIntervalMs: defaultMinTimerIntervalMs,
		FetchTimeoutSec:    defaultFetchTimeoutSec,
		MaxFetchRequests:   defaultMaxFetchRequests,
		MaxResponseBytes:   defaultMaxResponseBytes,
		MaxSockets:         defaultMaxSockets,
		MaxOpenFiles:       defaultMaxOpenFiles,
		StoragePath:        defaultStoragePath,
		LogLevel:           defaultLogLevel,
	}
}

// LoadConfig reads configuration from JSHOST_* environment variables on
// top of DefaultConfig. Unparseable numbers keep their default.
func LoadConfig() Config {
	cfg := DefaultConfig()

	intVars := []struct {
		env string
		dst *int
	}{
		{envMemoryLimitMB, &cfg.MemoryLimitMB},
		{envShutdownTimeoutMs, &cfg.ShutdownTimeoutMs},
		{envMinTimerIntervalMs, &cfg.MinTimerIntervalMs},
		{envFetchTimeoutSec, &cfg.FetchTimeoutSec},
		{envMaxFetchRequests, &cfg.MaxFetchRequests},
		{envMaxResponseBytes, &cfg.MaxResponseBytes},
		{envMaxSockets, &cfg.MaxSockets},
		{envMaxOpenFiles, &cfg.MaxOpenFiles},
	}
	for _, v := range intVars {
		if s := os.Getenv(v.env); s != "" {
			if n, err := strconv.Atoi(s); err == nil {
				*v.dst = n
			}
		}
	}

	if v := os.Getenv(envFSRoot); v != "" {
		cfg.FSRoot = v
	}
	if v := os.Getenv(envStoragePath); v != "" {
		cfg.StoragePath = v
	}
	if v := os.Getenv(envBootstrapScript); v != "" {
		cfg.BootstrapScript = v
	}
	if v := os.Getenv(envBootstrapLoader); v != "" {
		cfg.BootstrapLoader = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}

// withDefaults fills the fields whose zero value would make the host
// unusable. Zero limits elsewhere mean "unlimited".
func withDefaults(cfg Config) Config {
	if cfg.ShutdownTimeoutMs <= 0 {
		cfg.ShutdownTimeoutMs = defaultShutdownTimeoutMs
	}
	if cfg.MinTimerIntervalMs <= 0 {
		cfg.MinTimerIntervalMs = defaultMinTimerIntervalMs
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = defaultStoragePath
	}
	return cfg
}
