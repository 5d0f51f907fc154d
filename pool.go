package chronos

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-chronos/core"
)

// DefaultShutdownTimeout bounds ShutdownGlobalRegistry per executor.
var DefaultShutdownTimeout = 5 * time.Second

// =============================================================================
// Global Registry Helper (Singleton)
// =============================================================================

var (
	globalRegistry *Registry
	globalMu       sync.Mutex
)

// InitGlobalRegistry creates the global registry from cfg. Later calls are
// no-ops until ShutdownGlobalRegistry.
func InitGlobalRegistry(cfg Config, opts ...core.Option) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalRegistry != nil {
		return // Already initialized
	}

	globalRegistry = NewRegistry(cfg, opts...)
}

// GetGlobalRegistry returns the global registry instance.
// It panics if InitGlobalRegistry has not been called.
func GetGlobalRegistry() *Registry {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalRegistry == nil {
		panic("GlobalRegistry not initialized. Call InitGlobalRegistry() first.")
	}
	return globalRegistry
}

// ShutdownGlobalRegistry gracefully shuts down every executor of the
// global registry and forgets it.
func ShutdownGlobalRegistry() error {
	globalMu.Lock()
	reg := globalRegistry
	globalRegistry = nil
	globalMu.Unlock()

	if reg == nil {
		return nil
	}
	return reg.ShutdownAll(DefaultShutdownTimeout)
}

// GetExecutor returns the executor for name from the global registry.
func GetExecutor(name string) (*core.Executor, error) {
	return GetGlobalRegistry().Get(name)
}

// Submit submits task to the executor for name from the global registry.
func Submit(ctx context.Context, name string, task core.PrioritizedTask) (*core.Handle, error) {
	exec, err := GetExecutor(name)
	if err != nil {
		return nil, err
	}
	return exec.Submit(ctx, task)
}
