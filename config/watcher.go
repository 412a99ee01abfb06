// 配置文件变更监听器实现。
//
// 通过轮询文件修改时间检测变更，防抖后触发回调。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileWatcher polls configuration files for changes.
type FileWatcher struct {
	mu sync.RWMutex

	// 配置
	paths         []string
	pollInterval  time.Duration
	debounceDelay time.Duration

	// 状态
	running   bool
	stopChan  chan struct{}
	eventChan chan FileEvent
	done      sync.WaitGroup

	// 回调
	callbacks []func(event FileEvent)

	logger *zap.Logger

	lastModTimes map[string]time.Time
}

// FileEvent represents a file change event
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileOp represents file operation types
type FileOp int

const (
	// FileOpCreate 表示文件已创建
	FileOpCreate FileOp = iota
	// FileOpWrite 指示文件已被修改
	FileOpWrite
	// FileOpRemove 表示文件已被删除
	FileOpRemove
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithDebounceDelay sets the debounce delay for file events
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.debounceDelay = d
		}
	}
}

// WithPollInterval sets how often the files are stat'ed
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher creates a new file watcher. Missing files are watched for
// creation.
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		paths:         append([]string(nil), paths...),
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		eventChan:     make(chan FileEvent, 100),
		lastModTimes:  make(map[string]time.Time),
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))

	for _, path := range w.paths {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				w.logger.Warn("config file does not exist, will watch for creation",
					zap.String("path", path))
			} else {
				return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
			}
		}
	}

	return w, nil
}

// OnChange registers a callback for file change events
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for file changes. The watcher stops when ctx is
// cancelled or Stop is called.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.stopChan = make(chan struct{})
	for _, path := range w.paths {
		if info, err := os.Stat(path); err == nil {
			w.lastModTimes[path] = info.ModTime()
		}
	}
	stop := w.stopChan
	w.mu.Unlock()

	w.done.Add(2)
	go w.pollLoop(ctx, stop)
	go w.dispatchLoop(ctx, stop)

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.paths),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Duration("debounce_delay", w.debounceDelay))

	return nil
}

// Stop stops the file watcher and waits for its goroutines to exit.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	close(w.stopChan)
	w.running = false
	w.mu.Unlock()

	w.done.Wait()
	w.logger.Info("file watcher stopped")
	return nil
}

func (w *FileWatcher) pollLoop(ctx context.Context, stop <-chan struct{}) {
	defer w.done.Done()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			for _, evt := range w.checkFiles() {
				select {
				case w.eventChan <- evt:
				case <-stop:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// checkFiles compares modification times against the last poll.
func (w *FileWatcher) checkFiles() []FileEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	var events []FileEvent
	now := time.Now()
	for _, path := range w.paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				if _, existed := w.lastModTimes[path]; existed {
					delete(w.lastModTimes, path)
					events = append(events, FileEvent{Path: path, Op: FileOpRemove, Timestamp: now})
				}
			}
			continue
		}

		lastMod, existed := w.lastModTimes[path]
		switch {
		case !existed:
			w.lastModTimes[path] = info.ModTime()
			events = append(events, FileEvent{Path: path, Op: FileOpCreate, Timestamp: now})
		case !info.ModTime().Equal(lastMod):
			w.lastModTimes[path] = info.ModTime()
			events = append(events, FileEvent{Path: path, Op: FileOpWrite, Timestamp: now})
		}
	}
	return events
}

// dispatchLoop coalesces events per path and fires callbacks once the
// debounce delay passes without new events.
func (w *FileWatcher) dispatchLoop(ctx context.Context, stop <-chan struct{}) {
	defer w.done.Done()

	pending := make(map[string]FileEvent)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case event := <-w.eventChan:
			pending[event.Path] = event
			timer.Reset(w.debounceDelay)
		case <-timer.C:
			w.mu.RLock()
			callbacks := append(([]func(FileEvent))(nil), w.callbacks...)
			w.mu.RUnlock()

			for path, evt := range pending {
				w.logger.Debug("dispatching file event",
					zap.String("path", path),
					zap.String("op", evt.Op.String()))
				for _, cb := range callbacks {
					cb(evt)
				}
			}
			pending = make(map[string]FileEvent)
		}
	}
}

// Paths returns the list of watched paths
func (w *FileWatcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.paths...)
}

// IsRunning returns whether the watcher is running
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
