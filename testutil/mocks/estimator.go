// =============================================================================
// 🔢 MockEstimator - Token 估算器模拟实现
// =============================================================================
// 每个字符计 1 个 token，便于在测试中精确推算预算
// =============================================================================
package mocks

import (
	"sync/atomic"
	"unicode/utf8"
)

// MockEstimator 按 rune 数计算 token
type MockEstimator struct {
	calls atomic.Int64
}

// NewMockEstimator 创建新的 MockEstimator
func NewMockEstimator() *MockEstimator {
	return &MockEstimator{}
}

// CountTokens 实现 tokenizer.Estimator
func (m *MockEstimator) CountTokens(text string) int {
	m.calls.Add(1)
	return utf8.RuneCountInString(text)
}

// Name 实现 tokenizer.Estimator
func (m *MockEstimator) Name() string { return "mock" }

// Calls 返回调用次数
func (m *MockEstimator) Calls() int64 {
	return m.calls.Load()
}
