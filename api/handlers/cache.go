package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/BaSui01/contextcache/api"
	"github.com/BaSui01/contextcache/llm/cache"
	"github.com/BaSui01/contextcache/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🗄️ 缓存管理 Handler
// =============================================================================

// CacheService 缓存管理端点依赖的缓存能力
type CacheService interface {
	Stats() cache.Stats
	Entries() []cache.EntryInfo
	Len() int
	Get(key string) (cache.FileMap, string, bool)
	Set(key string, files cache.FileMap, summary string, ttl time.Duration) error
	Delete(key string) bool
	Clear()
	SetMaxSize(n int)
	SetDefaultTTL(d time.Duration)
	SetCompressionEnabled(enabled bool)
	SetAdaptiveExpiryEnabled(enabled bool)
	SetAutoCompressionThreshold(bytes int)
}

// CacheHandler 缓存管理处理器
type CacheHandler struct {
	cache  CacheService
	keys   *cache.KeyBuilder
	logger *zap.Logger
}

// NewCacheHandler 创建缓存管理处理器
func NewCacheHandler(c CacheService, keys *cache.KeyBuilder, logger *zap.Logger) *CacheHandler {
	if keys == nil {
		keys = cache.NewKeyBuilder()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheHandler{
		cache:  c,
		keys:   keys,
		logger: logger.With(zap.String("handler", "cache")),
	}
}

// HandleStats 处理缓存统计请求
// @Summary 缓存统计
// @Description 返回缓存命中率、压缩率、容量等统计
// @Tags 缓存
// @Produce json
// @Success 200 {object} Response{data=cache.Stats} "缓存统计"
// @Router /api/v1/cache/stats [get]
func (h *CacheHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.cache.Stats())
}

// HandleEntries 处理缓存条目列表请求
// @Summary 缓存条目
// @Description 列出所有条目的元数据，最近使用的在前
// @Tags 缓存
// @Produce json
// @Success 200 {object} Response{data=api.CacheEntriesResponse} "条目列表"
// @Router /api/v1/cache/entries [get]
func (h *CacheHandler) HandleEntries(w http.ResponseWriter, r *http.Request) {
	entries := h.cache.Entries()
	WriteSuccess(w, api.CacheEntriesResponse{
		Entries: entries,
		Total:   len(entries),
	})
}

// HandleClear 处理清空缓存请求
// @Summary 清空缓存
// @Description 删除所有条目并重置计数器
// @Tags 缓存
// @Produce json
// @Success 200 {object} Response{data=api.ClearResponse} "删除的条目数"
// @Router /api/v1/cache [delete]
func (h *CacheHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	removed := h.cache.Len()
	h.cache.Clear()

	requestLogger(r, h.logger).Info("cache cleared via api", zap.Int("removed", removed))
	WriteSuccess(w, api.ClearResponse{Removed: removed})
}

// HandleGetEntry 处理读取单个条目请求
// @Summary 读取缓存条目
// @Description 命中时返回文件集合与摘要，并计入命中统计
// @Tags 缓存
// @Produce json
// @Param key path string true "缓存键"
// @Success 200 {object} Response{data=api.EntryResponse} "缓存条目"
// @Failure 404 {object} Response "条目不存在或已过期"
// @Router /api/v1/cache/entries/{key} [get]
func (h *CacheHandler) HandleGetEntry(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "cache key is required", h.logger)
		return
	}

	files, summary, ok := h.cache.Get(key)
	if !ok {
		WriteError(w, types.NewError(types.ErrNotFound, "cache entry not found: "+key), h.logger)
		return
	}
	WriteSuccess(w, api.EntryResponse{
		Key:     key,
		Files:   files,
		Summary: summary,
	})
}

// HandlePutEntry 处理写入单个条目请求
// @Summary 写入缓存条目
// @Description 以给定键存储文件集合与摘要，已存在的条目被替换
// @Tags 缓存
// @Accept json
// @Produce json
// @Param key path string true "缓存键"
// @Param request body api.PutEntryRequest true "条目内容"
// @Success 200 {object} Response{data=cache.Stats} "写入后的统计"
// @Failure 400 {object} Response "参数无效"
// @Failure 503 {object} Response "缓存已关闭"
// @Router /api/v1/cache/entries/{key} [put]
func (h *CacheHandler) HandlePutEntry(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "cache key is required", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.PutEntryRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Files == nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "files is required", h.logger)
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d < 0 {
			WriteError(w, types.NewError(types.ErrInvalidRequest, "ttl must be a non-negative duration").
				WithCause(err), h.logger)
			return
		}
		ttl = d
	}

	if err := h.cache.Set(key, cache.FileMap(req.Files), req.Summary, ttl); err != nil {
		switch {
		case errors.Is(err, cache.ErrCacheClosed):
			WriteError(w, types.NewError(types.ErrServiceUnavailable, "cache is shutting down").
				WithCause(err).WithRetryable(true), h.logger)
		default:
			if typed, ok := types.AsError(err); ok {
				WriteError(w, typed, h.logger)
				return
			}
			WriteError(w, types.NewError(types.ErrInternalError, "store cache entry").WithCause(err), h.logger)
		}
		return
	}

	requestLogger(r, h.logger).Debug("cache entry stored via api",
		zap.String("key", key),
		zap.Int("files", len(req.Files)))
	WriteSuccess(w, h.cache.Stats())
}

// HandleDeleteEntry 处理删除单个条目请求
// @Summary 删除缓存条目
// @Tags 缓存
// @Produce json
// @Param key path string true "缓存键"
// @Success 200 {object} Response "已删除"
// @Failure 404 {object} Response "条目不存在"
// @Router /api/v1/cache/entries/{key} [delete]
func (h *CacheHandler) HandleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "cache key is required", h.logger)
		return
	}

	if !h.cache.Delete(key) {
		WriteError(w, types.NewError(types.ErrNotFound, "cache entry not found: "+key), h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"deleted": key})
}

// HandleUpdateConfig 处理运行时参数更新请求
// @Summary 更新缓存参数
// @Description 调整容量、默认 TTL、压缩开关、自适应过期和自动压缩阈值，省略的字段保持不变
// @Tags 缓存
// @Accept json
// @Produce json
// @Param request body api.CacheConfigUpdate true "参数更新"
// @Success 200 {object} Response{data=cache.Stats} "更新后的统计"
// @Failure 400 {object} Response "参数无效"
// @Router /api/v1/cache/config [put]
func (h *CacheHandler) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.CacheConfigUpdate
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Empty() {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "no cache setting given", h.logger)
		return
	}

	// 先整体校验，避免部分生效
	var ttl time.Duration
	if req.DefaultTTL != nil {
		d, err := time.ParseDuration(*req.DefaultTTL)
		if err != nil || d <= 0 {
			WriteError(w, types.NewError(types.ErrInvalidRequest, "default_ttl must be a positive duration").
				WithCause(err), h.logger)
			return
		}
		ttl = d
	}
	if req.MaxSize != nil && *req.MaxSize < 1 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "max_size must be at least 1", h.logger)
		return
	}
	if req.AutoCompressionThreshold != nil && *req.AutoCompressionThreshold < 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"auto_compression_threshold must not be negative", h.logger)
		return
	}

	if req.MaxSize != nil {
		h.cache.SetMaxSize(*req.MaxSize)
	}
	if req.DefaultTTL != nil {
		h.cache.SetDefaultTTL(ttl)
	}
	if req.CompressionEnabled != nil {
		h.cache.SetCompressionEnabled(*req.CompressionEnabled)
	}
	if req.AdaptiveExpiryEnabled != nil {
		h.cache.SetAdaptiveExpiryEnabled(*req.AdaptiveExpiryEnabled)
	}
	if req.AutoCompressionThreshold != nil {
		h.cache.SetAutoCompressionThreshold(*req.AutoCompressionThreshold)
	}

	requestLogger(r, h.logger).Info("cache settings updated via api")
	WriteSuccess(w, h.cache.Stats())
}

// HandleBuildKey 处理缓存键构造请求
// @Summary 构造缓存键
// @Description 由提示词 ID、最近消息 ID 和文件集合计算缓存键
// @Tags 缓存
// @Accept json
// @Produce json
// @Param request body api.BuildKeyRequest true "会话指纹"
// @Success 200 {object} Response{data=api.BuildKeyResponse} "缓存键"
// @Router /api/v1/cache/keys [post]
func (h *CacheHandler) HandleBuildKey(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.BuildKeyRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	WriteSuccess(w, api.BuildKeyResponse{
		Key: h.keys.Build(req.PromptID, req.MessageIDs, req.FilePaths),
	})
}
