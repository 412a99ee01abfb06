package cache

import "time"

// Stats is a point-in-time snapshot of the cache. Counters reset on Clear.
type Stats struct {
	Size                     int           `json:"size"`
	MaxSize                  int           `json:"max_size"`
	DefaultTTL               time.Duration `json:"default_ttl"`
	Hits                     uint64        `json:"hits"`
	Misses                   uint64        `json:"misses"`
	HitRatio                 float64       `json:"hit_ratio"`
	CompressionRatio         float64       `json:"compression_ratio"`
	AverageAccessLatency     time.Duration `json:"average_access_latency"`
	CompressedEntries        int           `json:"compressed_entries"`
	AutoCompressionThreshold int           `json:"auto_compression_threshold"`
	Evictions                uint64        `json:"evictions"`
	Expirations              uint64        `json:"expirations"`
	CorruptEntries           uint64        `json:"corrupt_entries"`
	CompressionEnabled       bool          `json:"compression_enabled"`
	AdaptiveExpiryEnabled    bool          `json:"adaptive_expiry_enabled"`
	OriginalBytes            int64         `json:"original_bytes"`
	CompressedBytes          int64         `json:"compressed_bytes"`
}

// Stats computes a snapshot from the live entries and running counters.
// CompressionRatio is compressed bytes over original bytes of the compressed
// entries; zero when nothing is compressed.
func (c *ContextCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		Size:                     len(c.items),
		MaxSize:                  c.maxSize,
		DefaultTTL:               c.defaultTTL,
		Hits:                     c.hits,
		Misses:                   c.misses,
		AutoCompressionThreshold: c.threshold,
		Evictions:                c.evictions,
		Expirations:              c.expirations,
		CorruptEntries:           c.corrupt,
		CompressionEnabled:       c.compressionEnabled,
		AdaptiveExpiryEnabled:    c.adaptiveExpiry,
	}
	for _, e := range c.items {
		if p, ok := e.payload.(compressedPayload); ok {
			s.CompressedEntries++
			s.OriginalBytes += int64(p.originalSize)
			s.CompressedBytes += int64(p.compressedSize)
		}
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRatio = float64(s.Hits) / float64(total)
	}
	if s.OriginalBytes > 0 {
		s.CompressionRatio = float64(s.CompressedBytes) / float64(s.OriginalBytes)
	}
	if s.Hits > 0 {
		s.AverageAccessLatency = c.accessLatency / time.Duration(s.Hits)
	}
	return s
}
