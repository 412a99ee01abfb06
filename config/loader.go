// =============================================================================
// 📦 ContextCache 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("CONTEXTCACHE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/contextcache/llm/cache"
	llmcontext "github.com/BaSui01/contextcache/llm/context"
)

// DefaultEnvPrefix 环境变量前缀
const DefaultEnvPrefix = "CONTEXTCACHE"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 ContextCache 服务的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Cache 上下文缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Pressure 内存压力监控配置
	Pressure PressureConfig `yaml:"pressure" env:"PRESSURE"`

	// Truncation 上下文截断配置
	Truncation TruncationConfig `yaml:"truncation" env:"TRUNCATION"`

	// Tokenizer token 估算配置
	Tokenizer TokenizerConfig `yaml:"tokenizer" env:"TOKENIZER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个客户端 IP 的限流速率
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 请求体大小上限（字节）
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	// API 端口的 TLS 证书与私钥，均为空时使用明文 HTTP
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// CacheConfig 上下文缓存配置
type CacheConfig struct {
	// 最大条目数
	MaxSize int `yaml:"max_size" env:"MAX_SIZE"`
	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
	// 是否启用压缩
	CompressionEnabled bool `yaml:"compression_enabled" env:"COMPRESSION_ENABLED"`
	// 是否启用自适应过期
	AdaptiveExpiryEnabled bool `yaml:"adaptive_expiry_enabled" env:"ADAPTIVE_EXPIRY_ENABLED"`
	// 序列化后超过该字节数才压缩
	AutoCompressionThreshold int `yaml:"auto_compression_threshold" env:"AUTO_COMPRESSION_THRESHOLD"`
	// 过期清理间隔，0 表示 DefaultTTL/2
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// 压缩算法: zstd, s2
	Codec string `yaml:"codec" env:"CODEC"`
}

// PressureConfig 内存压力监控配置
type PressureConfig struct {
	// 是否启用后台监控
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 检查间隔
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	// 压力高时淘汰的条目比例
	EvictFraction float64 `yaml:"evict_fraction" env:"EVICT_FRACTION"`
	// 是否读取操作系统内存使用率
	UseSystemMemory bool `yaml:"use_system_memory" env:"USE_SYSTEM_MEMORY"`
	// 系统内存使用率阈值
	SystemThreshold float64 `yaml:"system_threshold" env:"SYSTEM_THRESHOLD"`
	// 缓存填充率阈值
	FillThreshold float64 `yaml:"fill_threshold" env:"FILL_THRESHOLD"`
}

// TruncationConfig 上下文截断配置
type TruncationConfig struct {
	// 系统提示最多占用的上下文比例
	SystemPromptShare float64 `yaml:"system_prompt_share" env:"SYSTEM_PROMPT_SHARE"`
	// 强制截断时 user 消息的配额
	UserShare float64 `yaml:"user_share" env:"USER_SHARE"`
	// 强制截断时 assistant 消息的配额
	AssistantShare float64 `yaml:"assistant_share" env:"ASSISTANT_SHARE"`
	// 强制截断保留的原文前缀字符数
	PrefixChars int `yaml:"prefix_chars" env:"PREFIX_CHARS"`
	// 截断标记
	Marker string `yaml:"marker" env:"MARKER"`
}

// TokenizerConfig token 估算配置
type TokenizerConfig struct {
	// 默认模型，决定估算器与上下文窗口
	DefaultModel string `yaml:"default_model" env:"DEFAULT_MODEL"`
	// 是否注册 tiktoken 估算器
	UseTiktoken bool `yaml:"use_tiktoken" env:"USE_TIKTOKEN"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 实例 ID，写入 service.instance.id，为空时启动时随机生成
	InstanceID string `yaml:"instance_id" env:"INSTANCE_ID"`
}

// =============================================================================
// 🔁 转换为组件配置
// =============================================================================

// ToCache 转换为 cache.Config
func (c *Config) ToCache() cache.Config {
	return cache.Config{
		MaxSize:                  c.Cache.MaxSize,
		DefaultTTL:               c.Cache.DefaultTTL,
		CompressionEnabled:       c.Cache.CompressionEnabled,
		AdaptiveExpiryEnabled:    c.Cache.AdaptiveExpiryEnabled,
		AutoCompressionThreshold: c.Cache.AutoCompressionThreshold,
		SweepInterval:            c.Cache.SweepInterval,
		Codec:                    c.Cache.Codec,
		Pressure: cache.PressureConfig{
			Enabled:         c.Pressure.Enabled,
			Interval:        c.Pressure.Interval,
			EvictFraction:   c.Pressure.EvictFraction,
			UseSystemMemory: c.Pressure.UseSystemMemory,
			SystemThreshold: c.Pressure.SystemThreshold,
			FillThreshold:   c.Pressure.FillThreshold,
		},
	}
}

// ToTruncation 转换为 llmcontext.TruncationConfig
func (c *Config) ToTruncation() llmcontext.TruncationConfig {
	return llmcontext.TruncationConfig{
		SystemPromptShare: c.Truncation.SystemPromptShare,
		UserShare:         c.Truncation.UserShare,
		AssistantShare:    c.Truncation.AssistantShare,
		PrefixChars:       c.Truncation.PrefixChars,
		Marker:            c.Truncation.Marker,
	}
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// ConfigPath 返回配置文件路径
func (l *Loader) ConfigPath() string {
	return l.configPath
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration 按 "30s" 这类格式解析
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置，一次返回所有问题
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	// 服务器
	check(validPort(c.Server.HTTPPort), "server.http_port %d out of range", c.Server.HTTPPort)
	check(c.Server.MetricsPort == 0 || validPort(c.Server.MetricsPort),
		"server.metrics_port %d out of range", c.Server.MetricsPort)
	check(c.Server.MetricsPort == 0 || c.Server.MetricsPort != c.Server.HTTPPort,
		"server.metrics_port must differ from server.http_port")
	check(c.Server.RateLimitRPS >= 0, "server.rate_limit_rps must not be negative")
	check((c.Server.TLSCertFile == "") == (c.Server.TLSKeyFile == ""),
		"server.tls_cert_file and server.tls_key_file must be set together")

	// 缓存
	check(c.Cache.MaxSize > 0, "cache.max_size must be positive")
	check(c.Cache.DefaultTTL > 0, "cache.default_ttl must be positive")
	check(c.Cache.AutoCompressionThreshold >= 0, "cache.auto_compression_threshold must not be negative")
	switch c.Cache.Codec {
	case "", cache.CodecZstd, cache.CodecS2:
	default:
		errs = append(errs, fmt.Errorf("cache.codec %q is not one of zstd, s2", c.Cache.Codec))
	}

	// 内存压力
	check(c.Pressure.Interval >= 0, "pressure.interval must not be negative")
	check(c.Pressure.EvictFraction > 0 && c.Pressure.EvictFraction <= 1,
		"pressure.evict_fraction must be in (0, 1]")
	check(c.Pressure.SystemThreshold > 0 && c.Pressure.SystemThreshold <= 1,
		"pressure.system_threshold must be in (0, 1]")
	check(c.Pressure.FillThreshold > 0 && c.Pressure.FillThreshold <= 1,
		"pressure.fill_threshold must be in (0, 1]")

	// 截断
	check(c.Truncation.SystemPromptShare > 0 && c.Truncation.SystemPromptShare <= 1,
		"truncation.system_prompt_share must be in (0, 1]")
	check(c.Truncation.UserShare > 0 && c.Truncation.AssistantShare > 0 &&
		c.Truncation.UserShare+c.Truncation.AssistantShare <= 1,
		"truncation.user_share and assistant_share must be positive and sum to at most 1")
	check(c.Truncation.PrefixChars >= 0, "truncation.prefix_chars must not be negative")

	// 日志
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	check(c.Log.Format == "json" || c.Log.Format == "console",
		"log.format %q is not one of json, console", c.Log.Format)

	// 遥测
	check(c.Telemetry.SampleRate >= 0 && c.Telemetry.SampleRate <= 1,
		"telemetry.sample_rate must be in [0, 1]")

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}

	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
