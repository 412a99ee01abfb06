package cache

import (
	"context"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PressureReport summarizes one CheckAndRelieve run.
type PressureReport struct {
	CheckedAt  time.Time `json:"checked_at"`
	Skipped    bool      `json:"skipped"`
	Signal     string    `json:"signal,omitempty"`
	UsedRatio  float64   `json:"used_ratio"`
	Threshold  float64   `json:"threshold"`
	High       bool      `json:"high"`
	Evicted    int       `json:"evicted"`
	Compressed int       `json:"compressed"`
	Failed     int       `json:"failed"`
}

// PressureMonitor 内存压力监控
// 压力高时先淘汰访问次数最少的条目，再强制压缩剩余未压缩条目。
// 每次只为单个条目持有缓存锁，不会长时间阻塞 Get/Set。
type PressureMonitor struct {
	cache         *ContextCache
	signals       []MemorySignal
	interval      time.Duration
	evictFraction float64
	lastChecked   atomic.Pointer[time.Time]
	logger        *zap.Logger
}

func newPressureMonitor(c *ContextCache, cfg PressureConfig) *PressureMonitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	fraction := cfg.EvictFraction
	if fraction <= 0 || fraction > 1 {
		fraction = 0.25
	}
	signals := make([]MemorySignal, 0, len(c.signals)+1)
	for _, s := range c.signals {
		if s != nil {
			signals = append(signals, s)
		}
	}
	signals = append(signals, NewFillRatioSignal(cfg.FillThreshold))

	return &PressureMonitor{
		cache:         c,
		signals:       signals,
		interval:      interval,
		evictFraction: fraction,
		logger:        c.logger.With(zap.String("component", "pressure_monitor")),
	}
}

// Interval returns the minimum time between two checks.
func (m *PressureMonitor) Interval() time.Duration {
	return m.interval
}

// CheckAndRelieve samples memory pressure and, when it is high, evicts the
// least accessed entries and compresses the rest. Calls within one interval
// of the previous check return a skipped report. The bool result reports
// whether relief was applied.
func (m *PressureMonitor) CheckAndRelieve(ctx context.Context) (PressureReport, bool) {
	return m.checkAt(ctx, m.cache.now())
}

// checkAt runs a check stamped with now. The background loop passes the tick
// time so that consecutive ticks are exactly one interval apart.
func (m *PressureMonitor) checkAt(ctx context.Context, now time.Time) (PressureReport, bool) {
	report := PressureReport{CheckedAt: now}

	last := m.lastChecked.Load()
	if last != nil && now.Sub(*last) < m.interval {
		report.Skipped = true
		return report, false
	}
	if !m.lastChecked.CompareAndSwap(last, &now) {
		report.Skipped = true
		return report, false
	}

	occ := m.occupancy()
	reading, name := m.sample(ctx, occ)
	report.Signal = name
	report.UsedRatio = reading.UsedRatio
	report.Threshold = reading.Threshold
	report.High = reading.High()
	if !report.High {
		m.logger.Debug("memory pressure normal",
			zap.String("signal", name), zap.Float64("used_ratio", reading.UsedRatio))
		return report, false
	}

	m.logger.Warn("high memory pressure, relieving cache",
		zap.String("signal", name),
		zap.Float64("used_ratio", reading.UsedRatio),
		zap.Float64("threshold", reading.Threshold),
		zap.Int("size", occ.Size),
		zap.Int("max_size", occ.MaxSize))

	if occ.Size*2 > occ.MaxSize {
		report.Evicted = m.evictLeastAccessed(occ.Size)
	}
	report.Compressed, report.Failed = m.compressRemaining()

	m.logger.Info("memory pressure relieved",
		zap.Int("evicted", report.Evicted),
		zap.Int("compressed", report.Compressed),
		zap.Int("failed", report.Failed))
	return report, true
}

func (m *PressureMonitor) occupancy() Occupancy {
	c := m.cache
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Occupancy{Size: len(c.items), MaxSize: c.maxSize}
}

// sample returns the first reading a signal can produce. The fill-ratio
// signal is last and never fails.
func (m *PressureMonitor) sample(ctx context.Context, occ Occupancy) (Reading, string) {
	for _, s := range m.signals {
		r, err := s.Sample(ctx, occ)
		if err != nil {
			m.logger.Debug("memory signal unavailable", zap.String("signal", s.Name()), zap.Error(err))
			continue
		}
		return r, s.Name()
	}
	return Reading{}, ""
}

type candidate struct {
	e            *entry
	accessCount  uint64
	lastAccessed time.Time
	seq          uint64
}

// evictLeastAccessed removes ceil(size*fraction) entries with the lowest
// access counts, one lock acquisition per entry.
func (m *PressureMonitor) evictLeastAccessed(size int) int {
	c := m.cache
	c.mu.RLock()
	candidates := make([]candidate, 0, len(c.items))
	for _, e := range c.items {
		candidates = append(candidates, candidate{
			e:            e,
			accessCount:  e.accessCount,
			lastAccessed: e.lastAccessed,
			seq:          e.seq,
		})
	}
	c.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.accessCount != b.accessCount {
			return a.accessCount < b.accessCount
		}
		if !a.lastAccessed.Equal(b.lastAccessed) {
			return a.lastAccessed.Before(b.lastAccessed)
		}
		return a.seq < b.seq
	})

	n := int(math.Ceil(float64(size) * m.evictFraction))
	n = min(n, len(candidates))

	evicted := 0
	for _, cand := range candidates[:n] {
		c.mu.Lock()
		if cur, ok := c.items[cand.e.key]; ok && cur == cand.e {
			c.removeLocked(cur, EvictPressure)
			evicted++
		}
		c.mu.Unlock()
	}
	return evicted
}

// compressRemaining force-compresses every plain entry regardless of the
// threshold or the compression switch. Work happens outside the lock and is
// committed only if the entry was not replaced meanwhile. An entry that
// cannot be compressed is deleted.
func (m *PressureMonitor) compressRemaining() (compressed, failed int) {
	c := m.cache

	type plainEntry struct {
		e     *entry
		files FileMap
	}
	c.mu.RLock()
	pending := make([]plainEntry, 0, len(c.items))
	for _, e := range c.items {
		if p, ok := e.payload.(plainPayload); ok {
			pending = append(pending, plainEntry{e: e, files: p.files})
		}
	}
	codec := c.codec
	c.mu.RUnlock()

	for _, pe := range pending {
		raw, err := encodeFiles(pe.files)
		var cp compressedPayload
		if err == nil {
			cp, err = compress(codec, raw)
		}

		c.mu.Lock()
		cur, ok := c.items[pe.e.key]
		if !ok || cur != pe.e || cur.compressed() {
			c.mu.Unlock()
			continue
		}
		if err != nil {
			c.removeLocked(cur, EvictCodec)
			c.mu.Unlock()
			failed++
			m.logger.Warn("forced compression failed, entry dropped",
				zap.String("key", pe.e.key), zap.Error(err))
			continue
		}
		cur.payload = cp
		c.mu.Unlock()

		c.observer.ObserveCompression(cp.originalSize, cp.compressedSize)
		compressed++
	}
	return compressed, failed
}
