// Package hoststats samples resource usage of the machine running the coordinator.
package hoststats

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// Sampler reports host usage as percentages. A nil result means the value could not be read.
type Sampler interface {
	CPUPercent(ctx context.Context) *float64
	MemoryPercent(ctx context.Context) *float64
}

// HostSampler reads usage through gopsutil.
type HostSampler struct {
	Logger zerolog.Logger
}

// NewHostSampler creates a HostSampler.
func NewHostSampler(logger zerolog.Logger) *HostSampler {
	return &HostSampler{Logger: logger}
}

// CPUPercent returns utilization across all cores since the previous call.
func (h *HostSampler) CPUPercent(ctx context.Context) *float64 {
	percentages, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		h.Logger.Error().Err(err).Msg("Failed to get CPU usage")
		return nil
	}
	if len(percentages) == 0 {
		h.Logger.Warn().Msg("CPU usage data is empty")
		return nil
	}
	return &percentages[0]
}

// MemoryPercent returns the share of physical memory in use.
func (h *HostSampler) MemoryPercent(ctx context.Context) *float64 {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		h.Logger.Error().Err(err).Msg("Failed to get memory usage")
		return nil
	}
	used := vm.UsedPercent
	return &used
}
