// 配置热重载实现。
//
// 监听配置文件变化，重新加载并校验后通知回调；
// 校验失败或回调 panic 时保留当前配置。
package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadCallback 重新加载配置后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// ConfigChange 代表一个字段的变化
type ConfigChange struct {
	Path            string `json:"path"`
	OldValue        any    `json:"old_value"`
	NewValue        any    `json:"new_value"`
	RequiresRestart bool   `json:"requires_restart"`
}

// hotReloadableFields 运行时可以生效的字段，其余字段需要重启
var hotReloadableFields = map[string]bool{
	"Cache.MaxSize":                  true,
	"Cache.DefaultTTL":               true,
	"Cache.CompressionEnabled":       true,
	"Cache.AdaptiveExpiryEnabled":    true,
	"Cache.AutoCompressionThreshold": true,
	"Truncation.SystemPromptShare":   true,
	"Truncation.UserShare":           true,
	"Truncation.AssistantShare":      true,
	"Truncation.PrefixChars":         true,
	"Truncation.Marker":              true,
	"Log.Level":                      true,
}

// IsHotReloadable reports whether a change to the field at path takes effect
// without a restart.
func IsHotReloadable(path string) bool {
	return hotReloadableFields[path]
}

// CacheTuner is the runtime-tunable surface of the context cache.
type CacheTuner interface {
	SetMaxSize(n int)
	SetDefaultTTL(d time.Duration)
	SetCompressionEnabled(enabled bool)
	SetAdaptiveExpiryEnabled(enabled bool)
	SetAutoCompressionThreshold(bytes int)
}

// ApplyCacheTunables pushes the changed cache settings into c.
func ApplyCacheTunables(c CacheTuner, oldCfg, newCfg CacheConfig) {
	if newCfg.MaxSize != oldCfg.MaxSize {
		c.SetMaxSize(newCfg.MaxSize)
	}
	if newCfg.DefaultTTL != oldCfg.DefaultTTL {
		c.SetDefaultTTL(newCfg.DefaultTTL)
	}
	if newCfg.CompressionEnabled != oldCfg.CompressionEnabled {
		c.SetCompressionEnabled(newCfg.CompressionEnabled)
	}
	if newCfg.AdaptiveExpiryEnabled != oldCfg.AdaptiveExpiryEnabled {
		c.SetAdaptiveExpiryEnabled(newCfg.AdaptiveExpiryEnabled)
	}
	if newCfg.AutoCompressionThreshold != oldCfg.AutoCompressionThreshold {
		c.SetAutoCompressionThreshold(newCfg.AutoCompressionThreshold)
	}
}

// Reloader 管理配置热重载
type Reloader struct {
	mu sync.RWMutex

	config    *Config
	loader    *Loader
	callbacks []ReloadCallback

	watcher     *FileWatcher
	watcherOpts []WatcherOption

	logger *zap.Logger
}

// ReloaderOption configures a Reloader
type ReloaderOption func(*Reloader)

// WithReloadLogger 设置记录器
func WithReloadLogger(logger *zap.Logger) ReloaderOption {
	return func(r *Reloader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReloadWatcherOptions 传递给内部 FileWatcher 的选项
func WithReloadWatcherOptions(opts ...WatcherOption) ReloaderOption {
	return func(r *Reloader) {
		r.watcherOpts = append(r.watcherOpts, opts...)
	}
}

// NewReloader creates a Reloader that starts from current and reloads
// through loader, which must carry a config path.
func NewReloader(current *Config, loader *Loader, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		config: current,
		loader: loader,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "config_reloader"))
	return r
}

// Current 返回当前生效的配置
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// OnReload 注册配置重新加载的回调
func (r *Reloader) OnReload(callback ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, callback)
}

// Start 启动文件监听
func (r *Reloader) Start(ctx context.Context) error {
	path := r.loader.ConfigPath()
	if path == "" {
		return fmt.Errorf("no config path set")
	}

	opts := append([]WatcherOption{
		WithWatcherLogger(r.logger),
		WithDebounceDelay(500 * time.Millisecond),
	}, r.watcherOpts...)
	watcher, err := NewFileWatcher([]string{path}, opts...)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	watcher.OnChange(r.handleFileChange)
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}

	r.mu.Lock()
	r.watcher = watcher
	r.mu.Unlock()
	return nil
}

// Stop 停止文件监听
func (r *Reloader) Stop() error {
	r.mu.Lock()
	watcher := r.watcher
	r.watcher = nil
	r.mu.Unlock()

	if watcher == nil {
		return nil
	}
	return watcher.Stop()
}

func (r *Reloader) handleFileChange(event FileEvent) {
	r.logger.Info("configuration file changed",
		zap.String("path", event.Path),
		zap.String("op", event.Op.String()))

	if event.Op == FileOpWrite || event.Op == FileOpCreate {
		if _, err := r.Reload(); err != nil {
			r.logger.Error("failed to reload configuration", zap.Error(err))
		}
	}
}

// Reload loads and validates the file, then swaps it in and notifies the
// callbacks. The current config is kept when loading, validation or a
// callback fails.
func (r *Reloader) Reload() ([]ConfigChange, error) {
	newConfig, err := r.loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := newConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r.mu.Lock()
	oldConfig := r.config
	changes := detectChanges(oldConfig, newConfig)
	if len(changes) == 0 {
		r.mu.Unlock()
		r.logger.Debug("configuration unchanged")
		return nil, nil
	}
	r.config = newConfig
	callbacks := append([]ReloadCallback(nil), r.callbacks...)
	r.mu.Unlock()

	if err := notifySafe(callbacks, oldConfig, newConfig); err != nil {
		r.mu.Lock()
		if r.config == newConfig {
			r.config = oldConfig
		}
		r.mu.Unlock()
		return nil, fmt.Errorf("config callback failed, kept previous config: %w", err)
	}

	requiresRestart := false
	for _, c := range changes {
		r.logger.Info("configuration changed",
			zap.String("path", c.Path),
			zap.Any("old_value", c.OldValue),
			zap.Any("new_value", c.NewValue),
			zap.Bool("requires_restart", c.RequiresRestart))
		requiresRestart = requiresRestart || c.RequiresRestart
	}
	if requiresRestart {
		r.logger.Warn("some configuration changes require restart to take effect")
	}
	return changes, nil
}

func notifySafe(callbacks []ReloadCallback, oldConfig, newConfig *Config) (retErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			retErr = fmt.Errorf("callback panicked: %v", rec)
		}
	}()
	for _, cb := range callbacks {
		cb(oldConfig, newConfig)
	}
	return nil
}

// detectChanges 检测新旧配置之间的变化
func detectChanges(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changes)
	return changes
}

// compareStructs 递归比较结构体字段
func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}

		oldField, newField := oldVal.Field(i), newVal.Field(i)
		if oldField.Kind() == reflect.Struct {
			compareStructs(path, oldField, newField, changes)
			continue
		}
		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:            path,
				OldValue:        oldField.Interface(),
				NewValue:        newField.Interface(),
				RequiresRestart: !hotReloadableFields[path],
			})
		}
	}
}
