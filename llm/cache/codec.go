package cache

import (
	"bytes"
	"fmt"
	"maps"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"

	"github.com/BaSui01/contextcache/internal/pool"
)

// FileMap maps a project-relative path to the file content selected into
// the context buffer.
type FileMap map[string]string

// Clone returns a copy of m. The copy is never nil.
func (m FileMap) Clone() FileMap {
	if m == nil {
		return FileMap{}
	}
	return maps.Clone(m)
}

// Codec is a reversible byte compressor. Decompress(Compress(x)) must equal x
// for every input.
type Codec interface {
	// Name 返回编解码器名称
	Name() string

	// Compress 压缩 payload，同时返回压缩前后的字节数
	Compress(payload []byte) (data []byte, originalSize, compressedSize int, err error)

	// Decompress 还原 Compress 的输出，数据损坏时返回错误
	Decompress(data []byte) ([]byte, error)
}

// Codec names accepted by NewCodec.
const (
	CodecZstd = "zstd"
	CodecS2   = "s2"
)

// NewCodec returns the codec registered under name. An empty name selects zstd.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", CodecZstd:
		return NewZstdCodec()
	case CodecS2:
		return NewS2Codec(), nil
	default:
		return nil, fmt.Errorf("unknown codec: %s", name)
	}
}

// maxDecodedSize bounds the memory a single decode may allocate.
const maxDecodedSize = 256 << 20

// ZstdCodec compresses with zstd. The encoder and decoder are shared; their
// EncodeAll/DecodeAll methods are safe for concurrent use.
type ZstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCodec creates a zstd codec tuned for many small payloads.
func NewZstdCodec() (*ZstdCodec, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderConcurrency(1),
		zstd.WithLowerEncoderMem(true),
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(maxDecodedSize),
	)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &ZstdCodec{enc: enc, dec: dec}, nil
}

func (c *ZstdCodec) Name() string { return CodecZstd }

func (c *ZstdCodec) Compress(payload []byte) ([]byte, int, int, error) {
	data := c.enc.EncodeAll(payload, make([]byte, 0, len(payload)/2+16))
	return data, len(payload), len(data), nil
}

func (c *ZstdCodec) Decompress(data []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// S2Codec compresses with s2, trading ratio for speed.
type S2Codec struct{}

// NewS2Codec creates an s2 codec.
func NewS2Codec() *S2Codec { return &S2Codec{} }

func (c *S2Codec) Name() string { return CodecS2 }

func (c *S2Codec) Compress(payload []byte) ([]byte, int, int, error) {
	data := s2.Encode(nil, payload)
	return data, len(payload), len(data), nil
}

func (c *S2Codec) Decompress(data []byte) ([]byte, error) {
	n, err := s2.DecodedLen(data)
	if err != nil {
		return nil, fmt.Errorf("s2 decode: %w", err)
	}
	if n > maxDecodedSize {
		return nil, fmt.Errorf("s2 decode: decoded size %d exceeds limit", n)
	}
	out, err := s2.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("s2 decode: %w", err)
	}
	return out, nil
}

// FileMap payloads are serialized with core deterministic CBOR so that the
// serialized size, which drives the compression threshold, is stable.
var (
	filesEncMode cbor.EncMode
	filesDecMode cbor.DecMode
)

func init() {
	var err error
	filesEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR payload encoder initialization failed: " + err.Error())
	}
	filesDecMode, err = cbor.DecOptions{MaxMapPairs: 1 << 20}.DecMode()
	if err != nil {
		panic("cache: CBOR payload decoder initialization failed: " + err.Error())
	}
}

// encodeFiles serializes files through a pooled buffer. The result is a copy
// that the caller owns.
func encodeFiles(files FileMap) ([]byte, error) {
	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)

	if err := filesEncMode.NewEncoder(buf).Encode(map[string]string(files)); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

func decodeFiles(data []byte) (FileMap, error) {
	var files map[string]string
	if err := filesDecMode.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("decode context files: %w", err)
	}
	return FileMap(files).Clone(), nil
}
