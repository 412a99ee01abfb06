// =============================================================================
// 📈 MockMemorySignal - 内存压力信号模拟实现
// =============================================================================
// 用于测试压力监控的信号模拟，支持固定读数与错误注入
//
// 使用方法:
//
//	signal := mocks.NewMockMemorySignal("os").WithRatio(0.95, 0.8)
//	c := cache.NewContextCache(cfg, nil, cache.WithMemorySignals(signal))
// =============================================================================
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/contextcache/llm/cache"
)

// MockMemorySignal 是 cache.MemorySignal 的模拟实现
type MockMemorySignal struct {
	mu sync.Mutex

	name    string
	reading cache.Reading
	err     error

	calls int
	last  cache.Occupancy
}

// NewMockMemorySignal 创建新的 MockMemorySignal，默认读数为无压力
func NewMockMemorySignal(name string) *MockMemorySignal {
	return &MockMemorySignal{
		name:    name,
		reading: cache.Reading{UsedRatio: 0, Threshold: 0.8},
	}
}

// WithRatio 设置读数
func (m *MockMemorySignal) WithRatio(used, threshold float64) *MockMemorySignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reading = cache.Reading{UsedRatio: used, Threshold: threshold}
	return m
}

// WithError 设置采样错误
func (m *MockMemorySignal) WithError(err error) *MockMemorySignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Name 实现 cache.MemorySignal
func (m *MockMemorySignal) Name() string { return m.name }

// Sample 实现 cache.MemorySignal
func (m *MockMemorySignal) Sample(_ context.Context, occ cache.Occupancy) (cache.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.last = occ
	if m.err != nil {
		return cache.Reading{}, m.err
	}
	return m.reading, nil
}

// Calls 返回采样次数
func (m *MockMemorySignal) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastOccupancy 返回最近一次采样时的占用情况
func (m *MockMemorySignal) LastOccupancy() cache.Occupancy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
