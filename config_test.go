package jshost

import (
	"strings"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("JSHOST_MEMORY_LIMIT_MB", "64")
	t.Setenv("JSHOST_SHUTDOWN_TIMEOUT_MS", "250")
	t.Setenv("JSHOST_MAX_SOCKETS", "not-a-number")
	t.Setenv("JSHOST_FS_ROOT", "/srv/scripts")
	t.Setenv("JSHOST_BOOTSTRAP_LOADER", "ts")
	t.Setenv("JSHOST_LOG_LEVEL", "debug")

	cfg := LoadConfig()
	def := DefaultConfig()

	tests := []struct {
		name      string
		got, want any
	}{
		{"MemoryLimitMB", cfg.MemoryLimitMB, 64},
		{"ShutdownTimeoutMs", cfg.ShutdownTimeoutMs, 250},
		{"MaxSockets", cfg.MaxSockets, def.MaxSockets},
		{"MaxOpenFiles", cfg.MaxOpenFiles, def.MaxOpenFiles},
		{"FSRoot", cfg.FSRoot, "/srv/scripts"},
		{"StoragePath", cfg.StoragePath, ":memory:"},
		{"BootstrapLoader", cfg.BootstrapLoader, "ts"},
		{"LogLevel", cfg.LogLevel, "debug"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := withDefaults(Config{})
	if cfg.ShutdownTimeoutMs != defaultShutdownTimeoutMs {
		t.Errorf("ShutdownTimeoutMs = %d", cfg.ShutdownTimeoutMs)
	}
	if cfg.MinTimerIntervalMs != defaultMinTimerIntervalMs {
		t.Errorf("MinTimerIntervalMs = %d", cfg.MinTimerIntervalMs)
	}
	if cfg.StoragePath != ":memory:" {
		t.Errorf("StoragePath = %q", cfg.StoragePath)
	}
	if cfg.MaxSockets != 0 {
		t.Errorf("MaxSockets = %d, zero should stay unlimited", cfg.MaxSockets)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateUninitialized: "uninitialized",
		StateRunning:       "running",
		StateClosed:        "closed",
		StateFailed:        "failed",
		State(9):           "State(9)",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int32(s), got, want)
		}
	}
}

func TestTransformBootstrap(t *testing.T) {
	src := "export const x: number = 1;"
	if out, err := transformBootstrap(src, ""); err != nil || out != src {
		t.Errorf("no loader = %q, %v", out, err)
	}
	out, err := transformBootstrap("const n: number = 2; globalThis.n = n;", "ts")
	if err != nil {
		t.Fatalf("ts: %v", err)
	}
	if len(out) == 0 || strings.Contains(out, ": number") {
		t.Errorf("ts output still typed: %q", out)
	}
	if _, err := transformBootstrap("const = ;", "js"); err == nil {
		t.Error("expected syntax error")
	}
}
