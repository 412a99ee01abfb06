package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/contextcache/types"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrCacheClosed is returned by mutating operations after Close.
var ErrCacheClosed = errors.New("context cache closed")

// Eviction reasons reported to the Observer.
const (
	EvictLRU      = "lru"
	EvictExpired  = "expired"
	EvictCorrupt  = "corrupt"
	EvictPressure = "pressure"
	EvictResize   = "resize"
	EvictCodec    = "codec"
)

// Config 上下文缓存配置
type Config struct {
	MaxSize                  int            // 最大条目数
	DefaultTTL               time.Duration  // 默认过期时间
	CompressionEnabled       bool           // 是否自动压缩
	AdaptiveExpiryEnabled    bool           // 是否根据访问频率延长过期时间
	AutoCompressionThreshold int            // 序列化后超过该字节数才压缩
	SweepInterval            time.Duration  // 过期清理间隔，0 表示 DefaultTTL/2
	Codec                    string         // zstd | s2
	Pressure                 PressureConfig // 内存压力监控
}

// PressureConfig 内存压力监控配置
type PressureConfig struct {
	Enabled         bool
	Interval        time.Duration
	EvictFraction   float64
	UseSystemMemory bool
	SystemThreshold float64
	FillThreshold   float64
}

// DefaultConfig returns the cache defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:                  100,
		DefaultTTL:               30 * time.Minute,
		CompressionEnabled:       true,
		AdaptiveExpiryEnabled:    true,
		AutoCompressionThreshold: 10 * 1024,
		Codec:                    CodecZstd,
		Pressure: PressureConfig{
			Enabled:         true,
			Interval:        60 * time.Second,
			EvictFraction:   0.25,
			UseSystemMemory: true,
			SystemThreshold: DefaultSystemThreshold,
			FillThreshold:   DefaultFillThreshold,
		},
	}
}

// Observer receives cache events. Implementations must be safe for
// concurrent use and must not call back into the cache.
type Observer interface {
	ObserveHit(latency time.Duration)
	ObserveMiss()
	ObserveEviction(reason string)
	ObserveCompression(originalSize, compressedSize int)
}

type nopObserver struct{}

func (nopObserver) ObserveHit(time.Duration)    {}
func (nopObserver) ObserveMiss()                {}
func (nopObserver) ObserveEviction(string)      {}
func (nopObserver) ObserveCompression(int, int) {}

// Option configures a ContextCache.
type Option func(*ContextCache)

// WithCodec overrides the codec selected by Config.Codec.
func WithCodec(codec Codec) Option {
	return func(c *ContextCache) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithClock replaces time.Now for expiry bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *ContextCache) {
		if now != nil {
			c.now = now
			c.wallClock = false
		}
	}
}

// WithObserver attaches an event observer.
func WithObserver(o Observer) Option {
	return func(c *ContextCache) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithMemorySignals replaces the pressure signals. The fill-ratio signal is
// always appended as the last resort.
func WithMemorySignals(signals ...MemorySignal) Option {
	return func(c *ContextCache) {
		c.signals = signals
	}
}

// ContextCache 内存上下文缓存
// 以会话指纹为键缓存已组装的上下文（文件集合 + 会话摘要），支持
// LRU 淘汰、自适应过期、超过阈值自动压缩以及内存压力下的主动回收。
type ContextCache struct {
	mu      sync.RWMutex
	items   map[string]*entry
	recency recencyList
	seq     uint64
	closed  bool

	maxSize            int
	defaultTTL         time.Duration
	compressionEnabled bool
	adaptiveExpiry     bool
	threshold          int
	sweepInterval      time.Duration

	// 运行计数，Clear 时归零
	hits          uint64
	misses        uint64
	evictions     uint64
	expirations   uint64
	corrupt       uint64
	accessLatency time.Duration

	codec     Codec
	now       func() time.Time
	wallClock bool // now 为 time.Now，ticker 时间戳可直接使用
	observer  Observer
	signals   []MemorySignal
	pressure  *PressureMonitor
	group     singleflight.Group
	logger    *zap.Logger

	ttlChanged chan struct{}
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewContextCache creates the cache and starts its background sweeper and,
// when enabled, the memory pressure monitor. Call Close to stop them.
func NewContextCache(cfg Config, logger *zap.Logger, opts ...Option) *ContextCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.MaxSize < 1 {
		cfg.MaxSize = defaults.MaxSize
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaults.DefaultTTL
	}
	if cfg.AutoCompressionThreshold < 0 {
		cfg.AutoCompressionThreshold = 0
	}

	c := &ContextCache{
		items:              make(map[string]*entry),
		maxSize:            cfg.MaxSize,
		defaultTTL:         cfg.DefaultTTL,
		compressionEnabled: cfg.CompressionEnabled,
		adaptiveExpiry:     cfg.AdaptiveExpiryEnabled,
		threshold:          cfg.AutoCompressionThreshold,
		sweepInterval:      cfg.SweepInterval,
		now:                time.Now,
		wallClock:          true,
		observer:           nopObserver{},
		logger:             logger.With(zap.String("component", "context_cache")),
		ttlChanged:         make(chan struct{}, 1),
	}
	if cfg.Pressure.UseSystemMemory {
		c.signals = []MemorySignal{NewSystemMemorySignal(cfg.Pressure.SystemThreshold)}
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.codec == nil {
		codec, err := NewCodec(cfg.Codec)
		if err != nil {
			c.logger.Warn("unknown codec, falling back to s2",
				zap.String("codec", cfg.Codec), zap.Error(err))
			codec = NewS2Codec()
		}
		c.codec = codec
	}
	c.pressure = newPressureMonitor(c, cfg.Pressure)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.sweepLoop(ctx)
	if cfg.Pressure.Enabled {
		c.wg.Add(1)
		go c.pressureLoop(ctx)
	}

	c.logger.Info("context cache started",
		zap.Int("max_size", c.maxSize),
		zap.Duration("default_ttl", c.defaultTTL),
		zap.String("codec", c.codec.Name()),
		zap.Bool("pressure_monitor", cfg.Pressure.Enabled))
	return c
}

// Get returns the cached files and summary for key. Expired and corrupt
// entries are removed and reported as misses.
func (c *ContextCache) Get(key string) (FileMap, string, bool) {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, "", false
	}

	e, ok := c.items[key]
	if !ok {
		c.misses++
		c.observer.ObserveMiss()
		c.logger.Debug("cache miss", zap.String("key", key))
		return nil, "", false
	}

	now := c.now()
	if e.expired(now) {
		c.removeLocked(e, EvictExpired)
		c.misses++
		c.observer.ObserveMiss()
		c.logger.Debug("cache entry expired", zap.String("key", key))
		return nil, "", false
	}

	files, err := c.materialize(e)
	if err != nil {
		c.removeLocked(e, EvictCorrupt)
		c.corrupt++
		c.misses++
		c.observer.ObserveMiss()
		c.logger.Warn("corrupt cache entry dropped", zap.String("key", key), zap.Error(err))
		return nil, "", false
	}

	e.accessCount++
	e.lastAccessed = now
	if c.adaptiveExpiry {
		bonus := float64(min(e.accessCount, 10)) / 10
		extended := now.Add(time.Duration(float64(c.defaultTTL) * (1 + bonus)))
		if extended.After(e.expiresAt) {
			e.expiresAt = extended
		}
	}
	c.recency.moveToFront(e)

	latency := time.Since(start)
	e.accessTotal += latency
	c.accessLatency += latency
	c.hits++
	c.observer.ObserveHit(latency)

	return files, e.summary, true
}

// materialize returns a caller-owned copy of the entry's files.
func (c *ContextCache) materialize(e *entry) (FileMap, error) {
	switch p := e.payload.(type) {
	case plainPayload:
		return p.files.Clone(), nil
	case compressedPayload:
		raw, err := c.codec.Decompress(p.data)
		if err != nil {
			return nil, types.NewError(types.ErrCorruptEntry, "decompress cache entry").WithCause(err)
		}
		if len(raw) != p.originalSize {
			return nil, types.NewError(types.ErrCorruptEntry,
				fmt.Sprintf("decompressed size %d, recorded %d", len(raw), p.originalSize))
		}
		files, err := decodeFiles(raw)
		if err != nil {
			return nil, types.NewError(types.ErrCorruptEntry, "decode cache entry").WithCause(err)
		}
		return files, nil
	default:
		return nil, types.NewError(types.ErrCorruptEntry, "unknown payload")
	}
}

// Set stores files and summary under key. A ttl of zero or less uses the
// default TTL. When the serialized files exceed the compression threshold
// they are kept compressed only.
func (c *ContextCache) Set(key string, files FileMap, summary string, ttl time.Duration) error {
	p, err := c.preparePayload(key, files)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCacheClosed
	}

	now := c.now()
	c.sweepLocked(now)

	if old, ok := c.items[key]; ok {
		c.removeLocked(old, "")
	}
	for len(c.items) >= c.maxSize && c.recency.tail != nil {
		c.removeLocked(c.recency.tail, EvictLRU)
	}

	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.seq++
	e := &entry{
		key:          key,
		payload:      p,
		summary:      summary,
		fileCount:    len(files),
		insertedAt:   now,
		lastAccessed: now,
		expiresAt:    now.Add(ttl),
		seq:          c.seq,
	}
	c.items[key] = e
	c.recency.pushFront(e)

	c.logger.Debug("cache set",
		zap.String("key", key),
		zap.Bool("compressed", e.compressed()),
		zap.Int("files", e.fileCount))
	return nil
}

// preparePayload serializes and, above the threshold, compresses files. It
// runs outside the lock.
func (c *ContextCache) preparePayload(key string, files FileMap) (payload, error) {
	c.mu.RLock()
	enabled, threshold, codec := c.compressionEnabled, c.threshold, c.codec
	c.mu.RUnlock()

	plain := plainPayload{files: files.Clone()}
	if !enabled {
		return plain, nil
	}
	raw, err := encodeFiles(plain.files)
	if err != nil {
		c.logger.Warn("serialize context files failed, storing uncompressed",
			zap.String("key", key), zap.Error(err))
		return plain, nil
	}
	if len(raw) <= threshold {
		return plain, nil
	}

	cp, err := compress(codec, raw)
	if err != nil {
		if types.IsErrorCode(err, types.ErrCodecInconsistent) {
			c.logger.Error("codec returned inconsistent sizes",
				zap.String("key", key), zap.String("codec", codec.Name()), zap.Error(err))
			if c.Delete(key) {
				c.observer.ObserveEviction(EvictCodec)
			}
			return nil, err
		}
		c.logger.Warn("compression failed, storing uncompressed",
			zap.String("key", key), zap.Error(err))
		return plain, nil
	}
	c.observer.ObserveCompression(cp.originalSize, cp.compressedSize)
	return cp, nil
}

// compress runs codec over raw and verifies the sizes it reports.
func compress(codec Codec, raw []byte) (compressedPayload, error) {
	data, originalSize, compressedSize, err := codec.Compress(raw)
	if err != nil {
		return compressedPayload{}, types.NewError(types.ErrCompressionFailed, "compress context files").WithCause(err)
	}
	if originalSize != len(raw) || compressedSize != len(data) {
		return compressedPayload{}, types.NewError(types.ErrCodecInconsistent,
			fmt.Sprintf("codec %s reported %d/%d bytes, actual %d/%d",
				codec.Name(), originalSize, compressedSize, len(raw), len(data)))
	}
	return compressedPayload{data: data, originalSize: originalSize, compressedSize: compressedSize}, nil
}

// codecCheckFiles is the fixed payload CheckCodec round-trips.
var codecCheckFiles = FileMap{"health/codec.go": "package health\n\nconst ok = true\n"}

// CheckCodec round-trips a small payload through the configured codec. It
// returns the same typed errors a failing Set would see, plus
// ErrCodecInconsistent when the decoded bytes differ from the input.
func (c *ContextCache) CheckCodec(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.RLock()
	codec := c.codec
	c.mu.RUnlock()

	raw, err := encodeFiles(codecCheckFiles)
	if err != nil {
		return fmt.Errorf("encode codec check payload: %w", err)
	}
	cp, err := compress(codec, raw)
	if err != nil {
		return err
	}
	out, err := codec.Decompress(cp.data)
	if err != nil {
		return types.NewError(types.ErrCodecInconsistent, "codec "+codec.Name()+" cannot decode its own output").
			WithCause(err)
	}
	if !bytes.Equal(out, raw) {
		return types.NewError(types.ErrCodecInconsistent, "codec "+codec.Name()+" round trip changed the payload")
	}
	return nil
}

// Delete removes key and reports whether it was present.
func (c *ContextCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(e, "")
	return true
}

// Clear removes every entry and resets the running counters.
func (c *ContextCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
	c.logger.Info("context cache cleared")
}

func (c *ContextCache) clearLocked() {
	c.items = make(map[string]*entry)
	c.recency.reset()
	c.hits, c.misses = 0, 0
	c.evictions, c.expirations, c.corrupt = 0, 0, 0
	c.accessLatency = 0
}

// removeLocked unlinks e. An empty reason means an explicit delete.
func (c *ContextCache) removeLocked(e *entry, reason string) {
	delete(c.items, e.key)
	c.recency.remove(e)
	switch reason {
	case "":
		return
	case EvictExpired:
		c.expirations++
	default:
		c.evictions++
	}
	c.observer.ObserveEviction(reason)
}

// Sweep deletes every expired entry and returns how many were removed.
func (c *ContextCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	return c.sweepLocked(c.now())
}

func (c *ContextCache) sweepLocked(now time.Time) int {
	removed := 0
	for _, e := range c.items {
		if e.expired(now) {
			c.removeLocked(e, EvictExpired)
			removed++
		}
	}
	return removed
}

// SetMaxSize changes the capacity. Values below one are clamped to one and
// surplus entries are evicted immediately, least recently used first.
func (c *ContextCache) SetMaxSize(n int) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.maxSize = n
	evicted := 0
	for len(c.items) > c.maxSize && c.recency.tail != nil {
		c.removeLocked(c.recency.tail, EvictResize)
		evicted++
	}
	c.logger.Info("max size updated", zap.Int("max_size", n), zap.Int("evicted", evicted))
}

// SetDefaultTTL changes the TTL used by later inserts and hits. Non-positive
// values are ignored.
func (c *ContextCache) SetDefaultTTL(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.defaultTTL = d
	c.mu.Unlock()

	select {
	case c.ttlChanged <- struct{}{}:
	default:
	}
	c.logger.Info("default ttl updated", zap.Duration("ttl", d))
}

// SetCompressionEnabled toggles compression for later inserts.
func (c *ContextCache) SetCompressionEnabled(enabled bool) {
	c.mu.Lock()
	c.compressionEnabled = enabled
	c.mu.Unlock()
}

// SetAdaptiveExpiryEnabled toggles TTL extension on hits.
func (c *ContextCache) SetAdaptiveExpiryEnabled(enabled bool) {
	c.mu.Lock()
	c.adaptiveExpiry = enabled
	c.mu.Unlock()
}

// SetAutoCompressionThreshold changes the serialized size above which later
// inserts are compressed. Negative values are treated as zero.
func (c *ContextCache) SetAutoCompressionThreshold(bytes int) {
	if bytes < 0 {
		bytes = 0
	}
	c.mu.Lock()
	c.threshold = bytes
	c.mu.Unlock()
}

type computed struct {
	files   FileMap
	summary string
}

// GetOrCompute returns the cached value for key or, on a miss, runs compute
// once for all concurrent callers of the same key and stores its result.
func (c *ContextCache) GetOrCompute(
	ctx context.Context,
	key string,
	ttl time.Duration,
	compute func(ctx context.Context) (FileMap, string, error),
) (FileMap, string, error) {
	if files, summary, ok := c.Get(key); ok {
		return files, summary, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		files, summary, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(key, files, summary, ttl); err != nil && !errors.Is(err, ErrCacheClosed) {
			c.logger.Warn("store computed context failed", zap.String("key", key), zap.Error(err))
		}
		return computed{files: files.Clone(), summary: summary}, nil
	})
	if err != nil {
		return nil, "", err
	}
	res := v.(computed)
	return res.files.Clone(), res.summary, nil
}

// Inspect returns entry metadata without touching access bookkeeping.
func (c *ContextCache) Inspect(key string) (EntryInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok {
		return EntryInfo{}, false
	}
	return e.info(), true
}

// Entries lists entry metadata, most recently used first.
func (c *ContextCache) Entries() []EntryInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]EntryInfo, 0, len(c.items))
	for e := c.recency.head; e != nil; e = e.next {
		out = append(out, e.info())
	}
	return out
}

// Len returns the number of stored entries, expired ones included until swept.
func (c *ContextCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Pressure returns the cache's memory pressure monitor.
func (c *ContextCache) Pressure() *PressureMonitor {
	return c.pressure
}

// Closed reports whether Close has been called.
func (c *ContextCache) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close stops the background goroutines and drops every entry. It is safe
// to call more than once.
func (c *ContextCache) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.wg.Wait()

		c.mu.Lock()
		c.closed = true
		c.clearLocked()
		c.mu.Unlock()

		c.logger.Info("context cache closed")
	})
	return nil
}

func (c *ContextCache) currentSweepInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	interval := c.sweepInterval
	if interval <= 0 {
		interval = c.defaultTTL / 2
	}
	return max(interval, time.Millisecond)
}

// sweepLoop 定期清理过期条目，默认 TTL 变化时重置周期
func (c *ContextCache) sweepLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.currentSweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.ttlChanged:
			ticker.Reset(c.currentSweepInterval())
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("expired entries swept", zap.Int("removed", n))
			}
		}
	}
}

func (c *ContextCache) pressureLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.pressure.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			if !c.wallClock {
				tick = c.now()
			}
			c.pressure.checkAt(ctx, tick)
		}
	}
}
