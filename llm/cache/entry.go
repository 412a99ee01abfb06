package cache

import "time"

// payload is the stored form of a context buffer. An entry holds exactly one
// of plainPayload or compressedPayload, never both.
type payload interface {
	isPayload()
}

type plainPayload struct {
	files FileMap
}

type compressedPayload struct {
	data           []byte
	originalSize   int
	compressedSize int
}

func (plainPayload) isPayload()      {}
func (compressedPayload) isPayload() {}

// entry 缓存条目，同时作为 LRU 双向链表节点
type entry struct {
	key     string
	payload payload
	summary string

	fileCount    int
	insertedAt   time.Time
	lastAccessed time.Time
	expiresAt    time.Time

	accessCount uint64
	accessTotal time.Duration
	seq         uint64

	prev *entry
	next *entry
}

func (e *entry) compressed() bool {
	_, ok := e.payload.(compressedPayload)
	return ok
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.After(now)
}

// EntryInfo is a read-only view of a cache entry. It never exposes the payload.
type EntryInfo struct {
	Key                 string        `json:"key"`
	Compressed          bool          `json:"compressed"`
	OriginalSize        int           `json:"original_size,omitempty"`
	CompressedSize      int           `json:"compressed_size,omitempty"`
	FileCount           int           `json:"file_count"`
	HasSummary          bool          `json:"has_summary"`
	InsertedAt          time.Time     `json:"inserted_at"`
	LastAccessed        time.Time     `json:"last_accessed"`
	ExpiresAt           time.Time     `json:"expires_at"`
	AccessCount         uint64        `json:"access_count"`
	TotalAccessDuration time.Duration `json:"total_access_duration"`
}

func (e *entry) info() EntryInfo {
	info := EntryInfo{
		Key:                 e.key,
		FileCount:           e.fileCount,
		HasSummary:          e.summary != "",
		InsertedAt:          e.insertedAt,
		LastAccessed:        e.lastAccessed,
		ExpiresAt:           e.expiresAt,
		AccessCount:         e.accessCount,
		TotalAccessDuration: e.accessTotal,
	}
	if p, ok := e.payload.(compressedPayload); ok {
		info.Compressed = true
		info.OriginalSize = p.originalSize
		info.CompressedSize = p.compressedSize
	}
	return info
}

// recencyList 按访问时间排序的双向链表，head 为最近使用
type recencyList struct {
	head *entry
	tail *entry
}

// pushFront 添加节点到头部 O(1)
func (l *recencyList) pushFront(e *entry) {
	e.prev = nil
	e.next = l.head
	if l.head != nil {
		l.head.prev = e
	}
	l.head = e
	if l.tail == nil {
		l.tail = e
	}
}

// remove 从链表中移除节点 O(1)
func (l *recencyList) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (l *recencyList) moveToFront(e *entry) {
	if e == l.head {
		return
	}
	l.remove(e)
	l.pushFront(e)
}

func (l *recencyList) reset() {
	l.head, l.tail = nil, nil
}
