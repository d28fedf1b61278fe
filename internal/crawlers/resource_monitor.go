package crawlers

import (
	"context"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceMonitorConfig memory budget of browser sessions
type ResourceMonitorConfig struct {
	SafetyReserveMemory int64 // bytes kept free for the system
	SessionMemoryUsage  int64 // average bytes per browser session
	MaxSessionsLimit    int   // absolute cap
}

// DefaultResourceMonitorConfig 1GB reserve, 300MB per session, at most 12 sessions
func DefaultResourceMonitorConfig() ResourceMonitorConfig {
	return ResourceMonitorConfig{
		SafetyReserveMemory: 1024 * 1024 * 1024,
		SessionMemoryUsage:  300 * 1024 * 1024,
		MaxSessionsLimit:    12,
	}
}

// ResourceMonitor estimates how many browser sessions the machine can hold
type ResourceMonitor struct {
	config    ResourceMonitorConfig
	available func() (uint64, error)
	cpus      func() int
}

// NewResourceMonitor creates a monitor backed by system memory statistics
func NewResourceMonitor(config ResourceMonitorConfig) *ResourceMonitor {
	if config.SessionMemoryUsage <= 0 {
		config.SessionMemoryUsage = DefaultResourceMonitorConfig().SessionMemoryUsage
	}
	if config.MaxSessionsLimit <= 0 {
		config.MaxSessionsLimit = DefaultResourceMonitorConfig().MaxSessionsLimit
	}
	return &ResourceMonitor{
		config: config,
		available: func() (uint64, error) {
			vm, err := mem.VirtualMemory()
			if err != nil {
				return 0, err
			}
			return vm.Available, nil
		},
		cpus: runtime.NumCPU,
	}
}

// MaxSessions current estimate; 0 when memory statistics are unavailable
func (rm *ResourceMonitor) MaxSessions() (int, error) {
	available, err := rm.available()
	if err != nil {
		return 0, err
	}
	return maxSessionsFor(int64(available), rm.config.SafetyReserveMemory, rm.config.SessionMemoryUsage, rm.cpus(), rm.config.MaxSessionsLimit), nil
}

// CheckWorkers logs a warning when workers exceed the estimate. The worker
// count is never changed.
func (rm *ResourceMonitor) CheckWorkers(ctx context.Context, workers int) bool {
	log := zerolog.Ctx(ctx)
	limit, err := rm.MaxSessions()
	if err != nil {
		log.Warn().Err(err).Msg("memory statistics unavailable, skipping capacity check")
		return true
	}
	if workers > limit {
		log.Warn().Int("workers", workers).Int("estimated_capacity", limit).
			Msg("more workers than browser sessions the machine is estimated to hold")
		return false
	}
	log.Debug().Int("workers", workers).Int("estimated_capacity", limit).Msg("capacity check passed")
	return true
}

func maxSessionsFor(available, reserve, perSession int64, cpus, limit int) int {
	byMemory := 1
	if surplus := available - reserve; surplus > perSession {
		byMemory = int(surplus / perSession)
	}

	result := byMemory
	if cpus > 0 && cpus < result {
		result = cpus
	}
	if limit > 0 && limit < result {
		result = limit
	}
	if result < 1 {
		result = 1
	}
	return result
}
