package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// Default thresholds above which a signal reports high pressure.
const (
	DefaultSystemThreshold = 0.8
	DefaultFillThreshold   = 0.9
)

// Occupancy describes how full the cache is when a signal is sampled.
type Occupancy struct {
	Size    int
	MaxSize int
}

// Reading is one memory pressure sample. Pressure is high when UsedRatio
// exceeds Threshold.
type Reading struct {
	UsedRatio float64
	Threshold float64
}

// High reports whether the reading indicates high pressure.
func (r Reading) High() bool {
	return r.UsedRatio > r.Threshold
}

// MemorySignal reports a memory usage ratio. A signal that cannot measure in
// the current environment returns an error and the monitor moves on to the
// next one.
type MemorySignal interface {
	Name() string
	Sample(ctx context.Context, occ Occupancy) (Reading, error)
}

// SystemMemorySignal reads OS-reported virtual memory usage.
type SystemMemorySignal struct {
	threshold float64
	read      func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

// NewSystemMemorySignal creates a signal backed by the operating system.
// A threshold outside (0,1] uses DefaultSystemThreshold.
func NewSystemMemorySignal(threshold float64) *SystemMemorySignal {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSystemThreshold
	}
	return &SystemMemorySignal{threshold: threshold, read: mem.VirtualMemoryWithContext}
}

func (s *SystemMemorySignal) Name() string { return "system" }

func (s *SystemMemorySignal) Sample(ctx context.Context, _ Occupancy) (Reading, error) {
	vm, err := s.read(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("read virtual memory: %w", err)
	}
	if vm == nil || vm.Total == 0 {
		return Reading{}, errors.New("virtual memory total unavailable")
	}
	return Reading{
		UsedRatio: vm.UsedPercent / 100,
		Threshold: s.threshold,
	}, nil
}

// FillRatioSignal approximates pressure from cache occupancy. It never fails
// and is the fallback when no memory API is usable.
type FillRatioSignal struct {
	threshold float64
}

// NewFillRatioSignal creates the occupancy-based signal. A threshold outside
// (0,1] uses DefaultFillThreshold.
func NewFillRatioSignal(threshold float64) *FillRatioSignal {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultFillThreshold
	}
	return &FillRatioSignal{threshold: threshold}
}

func (s *FillRatioSignal) Name() string { return "fill_ratio" }

func (s *FillRatioSignal) Sample(_ context.Context, occ Occupancy) (Reading, error) {
	if occ.MaxSize <= 0 {
		return Reading{Threshold: s.threshold}, nil
	}
	return Reading{
		UsedRatio: float64(occ.Size) / float64(occ.MaxSize),
		Threshold: s.threshold,
	}, nil
}
