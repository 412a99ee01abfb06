// =============================================================================
// 🗜️ MockCodec - 压缩编解码器模拟实现
// =============================================================================
// 包装真实编解码器，支持压缩/解压错误注入与尺寸伪造
//
// 使用方法:
//
//	codec := mocks.NewMockCodec(cache.NewS2Codec()).WithDecompressError(errors.New("boom"))
// =============================================================================
package mocks

import (
	"sync"

	"github.com/BaSui01/contextcache/llm/cache"
)

// MockCodec 是 cache.Codec 的模拟实现
type MockCodec struct {
	mu sync.Mutex

	inner cache.Codec

	compressErr   error
	decompressErr error
	sizeSkew      int

	compressCalls   int
	decompressCalls int
}

// NewMockCodec 创建包装 inner 的 MockCodec
func NewMockCodec(inner cache.Codec) *MockCodec {
	return &MockCodec{inner: inner}
}

// WithCompressError 设置压缩错误
func (m *MockCodec) WithCompressError(err error) *MockCodec {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compressErr = err
	return m
}

// WithDecompressError 设置解压错误
func (m *MockCodec) WithDecompressError(err error) *MockCodec {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decompressErr = err
	return m
}

// WithSizeSkew 让 Compress 报告的压缩后尺寸偏离实际 skew 字节
func (m *MockCodec) WithSizeSkew(skew int) *MockCodec {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizeSkew = skew
	return m
}

// Name 实现 cache.Codec
func (m *MockCodec) Name() string { return "mock-" + m.inner.Name() }

// Compress 实现 cache.Codec
func (m *MockCodec) Compress(payload []byte) ([]byte, int, int, error) {
	m.mu.Lock()
	m.compressCalls++
	err, skew := m.compressErr, m.sizeSkew
	m.mu.Unlock()

	if err != nil {
		return nil, 0, 0, err
	}
	data, orig, comp, err := m.inner.Compress(payload)
	return data, orig, comp + skew, err
}

// Decompress 实现 cache.Codec
func (m *MockCodec) Decompress(data []byte) ([]byte, error) {
	m.mu.Lock()
	m.decompressCalls++
	err := m.decompressErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return m.inner.Decompress(data)
}

// CompressCalls 返回压缩调用次数
func (m *MockCodec) CompressCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compressCalls
}

// DecompressCalls 返回解压调用次数
func (m *MockCodec) DecompressCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decompressCalls
}
