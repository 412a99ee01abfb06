package cache

import (
	"encoding/hex"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/BaSui01/contextcache/internal/pool"
)

// DefaultRecentMessages is how many trailing message ids take part in the
// fingerprint. Older ids do not affect cache identity.
const DefaultRecentMessages = 3

const defaultKeyPrefix = "ctx:cache:"

// keyEncMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2). Same logical fingerprint always produces
// identical bytes.
var keyEncMode cbor.EncMode

func init() {
	var err error
	keyEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR key encoder initialization failed: " + err.Error())
	}
}

// fingerprint is the canonical shape hashed into a cache key. A nil
// PromptID encodes as CBOR null and stays distinct from an empty one.
type fingerprint struct {
	PromptID   *string  `cbor:"prompt_id"`
	MessageIDs []string `cbor:"message_ids"`
	FilePaths  []string `cbor:"file_paths"`
}

// KeyBuilder derives cache keys from a conversation fingerprint.
type KeyBuilder struct {
	// RecentMessages 参与指纹的最近消息 id 数量
	RecentMessages int
	// Prefix 键前缀
	Prefix string
}

// NewKeyBuilder creates a KeyBuilder with the default settings.
func NewKeyBuilder() *KeyBuilder {
	return &KeyBuilder{
		RecentMessages: DefaultRecentMessages,
		Prefix:         defaultKeyPrefix,
	}
}

var defaultKeyBuilder = NewKeyBuilder()

// BuildKey builds the cache key for promptID, the last three messageIDs and
// the set of filePaths. The order of filePaths does not matter.
func BuildKey(promptID *string, messageIDs []string, filePaths []string) string {
	return defaultKeyBuilder.Build(promptID, messageIDs, filePaths)
}

// Build builds a key. Input slices are never mutated.
func (b *KeyBuilder) Build(promptID *string, messageIDs []string, filePaths []string) string {
	fp := fingerprint{
		PromptID:   promptID,
		MessageIDs: recentIDs(messageIDs, b.RecentMessages),
		FilePaths:  sortedSet(filePaths),
	}

	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)
	_ = keyEncMode.NewEncoder(buf).Encode(fp)

	sum := blake3.Sum256(buf.Bytes())
	return b.Prefix + hex.EncodeToString(sum[:])
}

// recentIDs returns a fresh, non-nil slice with the last n ids.
func recentIDs(ids []string, n int) []string {
	if n <= 0 {
		n = DefaultRecentMessages
	}
	start := 0
	if len(ids) > n {
		start = len(ids) - n
	}
	out := make([]string, 0, len(ids)-start)
	return append(out, ids[start:]...)
}

// sortedSet returns a sorted, de-duplicated, non-nil copy of paths.
func sortedSet(paths []string) []string {
	out := make([]string, 0, len(paths))
	out = append(out, paths...)
	sort.Strings(out)

	deduped := make([]string, 0, len(out))
	for _, p := range out {
		if n := len(deduped); n > 0 && deduped[n-1] == p {
			continue
		}
		deduped = append(deduped, p)
	}
	return deduped
}
