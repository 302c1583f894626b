package config

import (
	"sync"
)

// RuntimeConfig stores configuration set at runtime via CLI flags.
// These values are not persisted to config files.
type RuntimeConfig struct {
	mu        sync.RWMutex
	allowExec bool
}

var globalRuntime = &RuntimeConfig{}

// SetAllowExec enables or disables exec sources.
// Exec sources (shell commands) are disabled by default.
func SetAllowExec(allow bool) {
	globalRuntime.mu.Lock()
	defer globalRuntime.mu.Unlock()
	globalRuntime.allowExec = allow
}

// IsExecAllowed returns whether exec sources are enabled.
func IsExecAllowed() bool {
	globalRuntime.mu.RLock()
	defer globalRuntime.mu.RUnlock()
	return globalRuntime.allowExec
}
