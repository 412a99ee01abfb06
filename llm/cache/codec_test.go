package cache

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testCodecs(t *testing.T) []Codec {
	t.Helper()
	zc, err := NewZstdCodec()
	require.NoError(t, err)
	return []Codec{zc, NewS2Codec()}
}

func TestNewCodec(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "", want: CodecZstd},
		{name: "zstd", want: CodecZstd},
		{name: "s2", want: CodecS2},
		{name: "lz4", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCodec(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Name())
		})
	}
}

func TestCodec_ReportsSizes(t *testing.T) {
	payload := bytes.Repeat([]byte("context buffer "), 1000)
	for _, c := range testCodecs(t) {
		t.Run(c.Name(), func(t *testing.T) {
			data, orig, comp, err := c.Compress(payload)
			require.NoError(t, err)
			assert.Equal(t, len(payload), orig)
			assert.Equal(t, len(data), comp)
			assert.Less(t, comp, orig)

			out, err := c.Decompress(data)
			require.NoError(t, err)
			assert.Equal(t, payload, out)
		})
	}
}

func TestCodec_CorruptInput(t *testing.T) {
	for _, c := range testCodecs(t) {
		t.Run(c.Name(), func(t *testing.T) {
			_, err := c.Decompress([]byte("definitely not compressed data"))
			assert.Error(t, err)
		})
	}
}

func TestCodec_RoundTripProperty(t *testing.T) {
	for _, c := range testCodecs(t) {
		t.Run(c.Name(), func(t *testing.T) {
			rapid.Check(t, func(rt *rapid.T) {
				files := rapid.MapOf(rapid.String(), rapid.String()).Draw(rt, "files")

				raw, err := encodeFiles(files)
				if err != nil {
					rt.Fatalf("encode: %v", err)
				}
				data, _, _, err := c.Compress(raw)
				if err != nil {
					rt.Fatalf("compress: %v", err)
				}
				out, err := c.Decompress(data)
				if err != nil {
					rt.Fatalf("decompress: %v", err)
				}
				decoded, err := decodeFiles(out)
				if err != nil {
					rt.Fatalf("decode: %v", err)
				}

				if len(decoded) != len(files) {
					rt.Fatalf("file count: got %d, want %d", len(decoded), len(files))
				}
				for k, v := range files {
					if decoded[k] != v {
						rt.Fatalf("file %q: got %q, want %q", k, decoded[k], v)
					}
				}
			})
		})
	}
}

func TestEncodeFiles_Deterministic(t *testing.T) {
	files := FileMap{"b.ts": "2", "a.ts": "1", "c.ts": "3"}
	first, err := encodeFiles(files)
	require.NoError(t, err)
	for range 20 {
		again, err := encodeFiles(files.Clone())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestFileMap_Clone(t *testing.T) {
	var nilMap FileMap
	assert.NotNil(t, nilMap.Clone())

	orig := FileMap{"a.ts": "x"}
	cp := orig.Clone()
	cp["a.ts"] = "y"
	assert.Equal(t, "x", orig["a.ts"])
}
