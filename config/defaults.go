// =============================================================================
// 📦 ContextCache 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/contextcache/llm/cache"
	llmcontext "github.com/BaSui01/contextcache/llm/context"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Cache:      DefaultCacheConfig(),
		Pressure:   DefaultPressureConfig(),
		Truncation: DefaultTruncationConfig(),
		Tokenizer:  DefaultTokenizerConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
		MaxBodyBytes:    8 << 20,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	d := cache.DefaultConfig()
	return CacheConfig{
		MaxSize:                  d.MaxSize,
		DefaultTTL:               d.DefaultTTL,
		CompressionEnabled:       d.CompressionEnabled,
		AdaptiveExpiryEnabled:    d.AdaptiveExpiryEnabled,
		AutoCompressionThreshold: d.AutoCompressionThreshold,
		SweepInterval:            0,
		Codec:                    d.Codec,
	}
}

// DefaultPressureConfig 返回默认内存压力配置
func DefaultPressureConfig() PressureConfig {
	d := cache.DefaultConfig().Pressure
	return PressureConfig{
		Enabled:         d.Enabled,
		Interval:        d.Interval,
		EvictFraction:   d.EvictFraction,
		UseSystemMemory: d.UseSystemMemory,
		SystemThreshold: d.SystemThreshold,
		FillThreshold:   d.FillThreshold,
	}
}

// DefaultTruncationConfig 返回默认截断配置
func DefaultTruncationConfig() TruncationConfig {
	d := llmcontext.DefaultTruncationConfig()
	return TruncationConfig{
		SystemPromptShare: d.SystemPromptShare,
		UserShare:         d.UserShare,
		AssistantShare:    d.AssistantShare,
		PrefixChars:       d.PrefixChars,
		Marker:            d.Marker,
	}
}

// DefaultTokenizerConfig 返回默认 token 估算配置
func DefaultTokenizerConfig() TokenizerConfig {
	return TokenizerConfig{
		DefaultModel: "gpt-4o",
		UseTiktoken:  false,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "contextcache",
		SampleRate:   0.1,
	}
}
