package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/contextcache/api"
	"github.com/BaSui01/contextcache/llm/cache"
	"github.com/BaSui01/contextcache/testutil"
	"github.com/BaSui01/contextcache/testutil/fixtures"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

type rawResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorInfo      `json:"error"`
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var resp rawResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.True(t, resp.Success, "unexpected error response: %+v", resp.Error)

	var out T
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	return out
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *ErrorInfo {
	t.Helper()
	var resp rawResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	return resp.Error
}

func newTestCache(t *testing.T) *cache.ContextCache {
	t.Helper()
	cfg := cache.DefaultConfig()
	cfg.MaxSize = 10
	cfg.Pressure.Enabled = false
	c := cache.NewContextCache(cfg, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func cacheMux(h *CacheHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/cache/stats", h.HandleStats)
	mux.HandleFunc("GET /api/v1/cache/entries", h.HandleEntries)
	mux.HandleFunc("DELETE /api/v1/cache", h.HandleClear)
	mux.HandleFunc("GET /api/v1/cache/entries/{key}", h.HandleGetEntry)
	mux.HandleFunc("PUT /api/v1/cache/entries/{key}", h.HandlePutEntry)
	mux.HandleFunc("DELETE /api/v1/cache/entries/{key}", h.HandleDeleteEntry)
	mux.HandleFunc("PUT /api/v1/cache/config", h.HandleUpdateConfig)
	mux.HandleFunc("POST /api/v1/cache/keys", h.HandleBuildKey)
	return mux
}

func jsonRequest(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// =============================================================================
// 🧪 CacheHandler 测试
// =============================================================================

func TestCacheHandler_StatsAndEntries(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Set("k1", fixtures.SmallFiles(), "two constants", 0))
	require.NoError(t, c.Set("k2", fixtures.SmallFiles(), "", 0))
	_, _, ok := c.Get("k1")
	require.True(t, ok)

	mux := cacheMux(NewCacheHandler(c, nil, zaptest.NewLogger(t)))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	stats := decodeData[cache.Stats](t, w)
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 10, stats.MaxSize)
	assert.Equal(t, uint64(1), stats.Hits)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/cache/entries", nil))
	require.Equal(t, http.StatusOK, w.Code)
	entries := decodeData[api.CacheEntriesResponse](t, w)
	assert.Equal(t, 2, entries.Total)
	require.Len(t, entries.Entries, 2)
	assert.Equal(t, "k1", entries.Entries[0].Key)
	assert.True(t, entries.Entries[0].HasSummary)
}

func TestCacheHandler_DeleteEntry(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Set("ctx:cache:abc", fixtures.SmallFiles(), "", 0))
	mux := cacheMux(NewCacheHandler(c, nil, nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/cache/entries/ctx:cache:abc", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, c.Len())

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/cache/entries/ctx:cache:abc", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, w).Code)
}

func TestCacheHandler_Clear(t *testing.T) {
	c := newTestCache(t)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(k, fixtures.SmallFiles(), "", 0))
	}
	mux := cacheMux(NewCacheHandler(c, nil, nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/cache", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decodeData[api.ClearResponse](t, w).Removed)
	assert.Zero(t, c.Len())
}

func TestCacheHandler_UpdateConfig(t *testing.T) {
	c := newTestCache(t)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(k, fixtures.SmallFiles(), "", 0))
	}
	mux := cacheMux(NewCacheHandler(c, nil, nil))

	body := `{"max_size":2,"default_ttl":"90s","compression_enabled":false,"auto_compression_threshold":4096}`
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, jsonRequest(http.MethodPut, "/api/v1/cache/config", body))
	require.Equal(t, http.StatusOK, w.Code)

	stats := decodeData[cache.Stats](t, w)
	assert.Equal(t, 2, stats.MaxSize)
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 90*time.Second, stats.DefaultTTL)
	assert.False(t, stats.CompressionEnabled)
	assert.Equal(t, 4096, stats.AutoCompressionThreshold)
}

func TestCacheHandler_UpdateConfigRejectsInvalid(t *testing.T) {
	c := newTestCache(t)
	mux := cacheMux(NewCacheHandler(c, nil, nil))
	before := c.Stats()

	tests := []struct {
		name string
		body string
	}{
		{name: "empty update", body: `{}`},
		{name: "bad duration", body: `{"default_ttl":"soon"}`},
		{name: "negative duration", body: `{"default_ttl":"-1m"}`},
		{name: "zero max size", body: `{"max_size":0,"default_ttl":"1m"}`},
		{name: "negative threshold", body: `{"auto_compression_threshold":-1}`},
		{name: "unknown field", body: `{"max_entries":3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, jsonRequest(http.MethodPut, "/api/v1/cache/config", tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "INVALID_REQUEST", decodeError(t, w).Code)
		})
	}

	after := c.Stats()
	assert.Equal(t, before.MaxSize, after.MaxSize)
	assert.Equal(t, before.DefaultTTL, after.DefaultTTL)
}

func TestCacheHandler_UpdateConfigRequiresJSON(t *testing.T) {
	mux := cacheMux(NewCacheHandler(newTestCache(t), nil, nil))

	r := httptest.NewRequest(http.MethodPut, "/api/v1/cache/config", strings.NewReader(`{"max_size":3}`))
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCacheHandler_BuildKey(t *testing.T) {
	mux := cacheMux(NewCacheHandler(newTestCache(t), nil, nil))

	build := func(body string) string {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, jsonRequest(http.MethodPost, "/api/v1/cache/keys", body))
		require.Equal(t, http.StatusOK, w.Code)
		return decodeData[api.BuildKeyResponse](t, w).Key
	}

	k1 := build(`{"prompt_id":"p1","message_ids":["m1","m2","m3","m4"],"file_paths":["b.ts","a.ts"]}`)
	k2 := build(`{"prompt_id":"p1","message_ids":["m0","m2","m3","m4"],"file_paths":["a.ts","b.ts","a.ts"]}`)
	k3 := build(`{"message_ids":["m2","m3","m4"],"file_paths":["a.ts","b.ts"]}`)

	promptID := "p1"
	assert.Equal(t, cache.BuildKey(&promptID, []string{"m2", "m3", "m4"}, []string{"a.ts", "b.ts"}), k1)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestCacheHandler_PutGetEntryRoundTrip(t *testing.T) {
	c := newTestCache(t)
	mux := cacheMux(NewCacheHandler(c, nil, zaptest.NewLogger(t)))

	small := fixtures.SmallFiles()
	large := fixtures.LargeFiles(4, 8*1024)

	put := func(key string, files map[string]string, summary string) {
		t.Helper()
		body := testutil.MustJSON(api.PutEntryRequest{Files: files, Summary: summary, TTL: "10m"})
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, jsonRequest(http.MethodPut, "/api/v1/cache/entries/"+key, body))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	put("ctx:cache:small", small, "two constants")
	put("ctx:cache:large", large, "")

	stats := c.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 1, stats.CompressedEntries)

	for key, want := range map[string]map[string]string{
		"ctx:cache:small": small,
		"ctx:cache:large": large,
	} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/cache/entries/"+key, nil))
		require.Equal(t, http.StatusOK, w.Code)
		entry := decodeData[api.EntryResponse](t, w)
		assert.Equal(t, key, entry.Key)
		assert.Equal(t, want, entry.Files)
	}
	assert.Equal(t, uint64(2), c.Stats().Hits)

	// 覆盖写入替换旧条目
	put("ctx:cache:small", map[string]string{"c.go": "package c"}, "")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/cache/entries/ctx:cache:small", nil))
	require.Equal(t, http.StatusOK, w.Code)
	entry := decodeData[api.EntryResponse](t, w)
	assert.Equal(t, map[string]string{"c.go": "package c"}, entry.Files)
	assert.Empty(t, entry.Summary)
	assert.Equal(t, 2, c.Len())
}

func TestCacheHandler_GetEntryMiss(t *testing.T) {
	c := newTestCache(t)
	mux := cacheMux(NewCacheHandler(c, nil, nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/cache/entries/ctx:cache:none", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, w).Code)
	assert.Equal(t, uint64(1), c.Stats().Misses)
}

func TestCacheHandler_PutEntryRejectsInvalid(t *testing.T) {
	c := newTestCache(t)
	mux := cacheMux(NewCacheHandler(c, nil, nil))

	tests := []struct {
		name string
		body string
	}{
		{name: "missing files", body: `{"summary":"s"}`},
		{name: "bad ttl", body: `{"files":{"a.go":"x"},"ttl":"later"}`},
		{name: "negative ttl", body: `{"files":{"a.go":"x"},"ttl":"-5s"}`},
		{name: "unknown field", body: `{"files":{"a.go":"x"},"expires":3}`},
		{name: "malformed", body: `{"files":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, jsonRequest(http.MethodPut, "/api/v1/cache/entries/k", tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Zero(t, c.Len())
}

func TestCacheHandler_PutEntryAfterClose(t *testing.T) {
	c := newTestCache(t)
	mux := cacheMux(NewCacheHandler(c, nil, nil))
	require.NoError(t, c.Close())

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, jsonRequest(http.MethodPut, "/api/v1/cache/entries/k", `{"files":{"a.go":"x"}}`))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	errInfo := decodeError(t, w)
	assert.Equal(t, "SERVICE_UNAVAILABLE", errInfo.Code)
	assert.True(t, errInfo.Retryable)
}
