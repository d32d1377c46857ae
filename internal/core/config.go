package core

// EngineConfig holds runtime configuration for the script host.
type EngineConfig struct {
	MemoryLimitMB      int    // per-runtime memory limit, 0 for engine default
	ShutdownTimeoutMs  int    // max wait for the owning goroutine during Close
	MinTimerIntervalMs int    // floor for repeating timer intervals
	FetchTimeoutSec    int    // per-fetch timeout in seconds
	MaxFetchRequests   int    // max concurrent outbound fetches
	MaxResponseBytes   int    // max fetch response body size
	MaxSockets         int    // max concurrently open WebSockets
	MaxOpenFiles       int    // max concurrently open file handles
	FSRoot             string // directory the fs bridge is confined to; empty disables it
	StoragePath        string // SQLite file backing localStorage; ":memory:" keeps it in RAM
	BootstrapScript    string // script evaluated after all bridges are installed
	BootstrapLoader    string // "", "js" or "ts"; non-empty runs the script through esbuild first
	LogLevel           string // debug, info, warn or error
}
