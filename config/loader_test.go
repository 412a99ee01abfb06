// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/contextcache/llm/cache"
	llmcontext "github.com/BaSui01/contextcache/llm/context"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 服务器
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	// 缓存默认值与 cache 包保持一致
	assert.Equal(t, 100, cfg.Cache.MaxSize)
	assert.Equal(t, 30*time.Minute, cfg.Cache.DefaultTTL)
	assert.True(t, cfg.Cache.CompressionEnabled)
	assert.True(t, cfg.Cache.AdaptiveExpiryEnabled)
	assert.Equal(t, 10*1024, cfg.Cache.AutoCompressionThreshold)
	assert.Equal(t, cache.CodecZstd, cfg.Cache.Codec)

	// 内存压力
	assert.True(t, cfg.Pressure.Enabled)
	assert.Equal(t, 60*time.Second, cfg.Pressure.Interval)
	assert.Equal(t, 0.8, cfg.Pressure.SystemThreshold)
	assert.Equal(t, 0.9, cfg.Pressure.FillThreshold)

	// 截断
	assert.Equal(t, 0.3, cfg.Truncation.SystemPromptShare)
	assert.Equal(t, 0.4, cfg.Truncation.UserShare)
	assert.Equal(t, 0.6, cfg.Truncation.AssistantShare)

	// 日志
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	require.NoError(t, cfg.Validate())
}

func TestConfig_ToComponents(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, cache.DefaultConfig(), cfg.ToCache())
	assert.Equal(t, llmcontext.DefaultTruncationConfig(), cfg.ToTruncation())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 100, cfg.Cache.MaxSize)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s

cache:
  max_size: 500
  default_ttl: 10m
  compression_enabled: false
  codec: s2

pressure:
  interval: 15s
  evict_fraction: 0.5

truncation:
  prefix_chars: 120
  marker: "[cut]"

tokenizer:
  default_model: gpt-4.1
  use_tiktoken: true

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, 500, cfg.Cache.MaxSize)
	assert.Equal(t, 10*time.Minute, cfg.Cache.DefaultTTL)
	assert.False(t, cfg.Cache.CompressionEnabled)
	assert.Equal(t, "s2", cfg.Cache.Codec)
	// 未出现在文件中的字段保留默认值
	assert.True(t, cfg.Cache.AdaptiveExpiryEnabled)

	assert.Equal(t, 15*time.Second, cfg.Pressure.Interval)
	assert.Equal(t, 0.5, cfg.Pressure.EvictFraction)

	assert.Equal(t, 120, cfg.Truncation.PrefixChars)
	assert.Equal(t, "[cut]", cfg.Truncation.Marker)

	assert.Equal(t, "gpt-4.1", cfg.Tokenizer.DefaultModel)
	assert.True(t, cfg.Tokenizer.UseTiktoken)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("CONTEXTCACHE_SERVER_HTTP_PORT", "7777")
	t.Setenv("CONTEXTCACHE_CACHE_MAX_SIZE", "42")
	t.Setenv("CONTEXTCACHE_CACHE_DEFAULT_TTL", "90s")
	t.Setenv("CONTEXTCACHE_CACHE_COMPRESSION_ENABLED", "false")
	t.Setenv("CONTEXTCACHE_PRESSURE_SYSTEM_THRESHOLD", "0.7")
	t.Setenv("CONTEXTCACHE_LOG_OUTPUT_PATHS", "stdout, /tmp/cc.log")
	t.Setenv("CONTEXTCACHE_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, 42, cfg.Cache.MaxSize)
	assert.Equal(t, 90*time.Second, cfg.Cache.DefaultTTL)
	assert.False(t, cfg.Cache.CompressionEnabled)
	assert.Equal(t, 0.7, cfg.Pressure.SystemThreshold)
	assert.Equal(t, []string{"stdout", "/tmp/cc.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yamlContent := `
cache:
  max_size: 300
  codec: s2
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))
	t.Setenv("CONTEXTCACHE_CACHE_MAX_SIZE", "900")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	// 环境变量覆盖 YAML，YAML 覆盖默认值
	assert.Equal(t, 900, cfg.Cache.MaxSize)
	assert.Equal(t, "s2", cfg.Cache.Codec)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("CONTEXTCACHE_SERVER_HTTP_PORT", "80")

	_, err := NewLoader().
		WithValidator(func(cfg *Config) error {
			if cfg.Server.HTTPPort < 1024 {
				return assert.AnError
			}
			return nil
		}).
		Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLoader_InvalidInputs(t *testing.T) {
	t.Run("missing file uses defaults", func(t *testing.T) {
		cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")).Load()
		require.NoError(t, err)
		assert.Equal(t, 100, cfg.Cache.MaxSize)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("cache: [unterminated"), 0644))
		_, err := NewLoader().WithConfigPath(path).Load()
		assert.Error(t, err)
	})

	t.Run("bad duration in env", func(t *testing.T) {
		t.Setenv("CONTEXTCACHE_CACHE_DEFAULT_TTL", "soon")
		_, err := NewLoader().Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CONTEXTCACHE_CACHE_DEFAULT_TTL")
	})
}

func TestMustLoad_Panics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0644))
	assert.Panics(t, func() { MustLoad(path) })
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad http port", func(c *Config) { c.Server.HTTPPort = 0 }, "server.http_port"},
		{"metrics port clash", func(c *Config) { c.Server.MetricsPort = c.Server.HTTPPort }, "must differ"},
		{"tls key missing", func(c *Config) { c.Server.TLSCertFile = "cert.pem" }, "set together"},
		{"zero max size", func(c *Config) { c.Cache.MaxSize = 0 }, "cache.max_size"},
		{"zero ttl", func(c *Config) { c.Cache.DefaultTTL = 0 }, "cache.default_ttl"},
		{"unknown codec", func(c *Config) { c.Cache.Codec = "lz4" }, "cache.codec"},
		{"evict fraction", func(c *Config) { c.Pressure.EvictFraction = 1.5 }, "pressure.evict_fraction"},
		{"shares overflow", func(c *Config) { c.Truncation.UserShare = 0.7 }, "assistant_share"},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "telemetry.sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Validate_AggregatesErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.MaxSize = -1
	cfg.Log.Format = "xml"
	cfg.Pressure.FillThreshold = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.max_size")
	assert.Contains(t, err.Error(), "log.format")
	assert.Contains(t, err.Error(), "pressure.fill_threshold")
}
