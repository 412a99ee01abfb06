package api

import (
	"time"

	"github.com/BaSui01/contextcache/llm/cache"
	llmcontext "github.com/BaSui01/contextcache/llm/context"
	"github.com/BaSui01/contextcache/types"
)

// =============================================================================
// 缓存键类型
// =============================================================================

// BuildKeyRequest 构造缓存键请求
// @Description 由会话指纹构造缓存键
type BuildKeyRequest struct {
	// 提示词 ID，省略与空字符串产生不同的键
	PromptID *string `json:"prompt_id,omitempty" example:"prompt-7"`
	// 会话中的消息 ID，按时间顺序
	MessageIDs []string `json:"message_ids"`
	// 上下文中选中的文件路径
	FilePaths []string `json:"file_paths"`
}

// BuildKeyResponse 构造缓存键响应
type BuildKeyResponse struct {
	Key string `json:"key" example:"ctx:cache:3b1f..."`
}

// =============================================================================
// 缓存管理类型
// =============================================================================

// CacheConfigUpdate 运行时缓存参数更新，省略的字段保持不变
// @Description 运行时缓存参数
type CacheConfigUpdate struct {
	MaxSize                  *int    `json:"max_size,omitempty" example:"200"`
	DefaultTTL               *string `json:"default_ttl,omitempty" example:"15m"`
	CompressionEnabled       *bool   `json:"compression_enabled,omitempty"`
	AdaptiveExpiryEnabled    *bool   `json:"adaptive_expiry_enabled,omitempty"`
	AutoCompressionThreshold *int    `json:"auto_compression_threshold,omitempty" example:"10240"`
}

// Empty reports whether the update carries no fields.
func (u CacheConfigUpdate) Empty() bool {
	return u.MaxSize == nil && u.DefaultTTL == nil && u.CompressionEnabled == nil &&
		u.AdaptiveExpiryEnabled == nil && u.AutoCompressionThreshold == nil
}

// CacheEntriesResponse 缓存条目列表，最近使用的在前
type CacheEntriesResponse struct {
	Entries []cache.EntryInfo `json:"entries"`
	Total   int               `json:"total"`
}

// PutEntryRequest 写入缓存条目请求
// @Description 文件集合与摘要，ttl 省略时使用默认 TTL
type PutEntryRequest struct {
	// 路径到文件内容
	Files map[string]string `json:"files"`
	// 可选的上下文摘要
	Summary string `json:"summary,omitempty"`
	// 条目存活时间，例如 "10m"
	TTL string `json:"ttl,omitempty" example:"10m"`
}

// EntryResponse 单个缓存条目
type EntryResponse struct {
	Key     string            `json:"key"`
	Files   map[string]string `json:"files"`
	Summary string            `json:"summary,omitempty"`
}

// ClearResponse 清空缓存响应
type ClearResponse struct {
	Removed int `json:"removed"`
}

// =============================================================================
// 上下文截断类型
// =============================================================================

// TruncateRequest 截断请求
// @Description 将消息列表截断到模型上下文窗口内
type TruncateRequest struct {
	// 模型名称，决定估算器与默认上下文窗口
	Model string `json:"model,omitempty" example:"gpt-4o"`
	// 对话消息
	Messages []types.Message `json:"messages"`
	// 系统提示的 token 数
	SystemPromptTokens int `json:"system_prompt_tokens"`
	// 上下文窗口大小，省略时按模型取值
	MaxContextTokens int `json:"max_context_tokens,omitempty" example:"8192"`
	// 为回复预留的 token 数，省略时按模型取值
	ReservedCompletionTokens *int `json:"reserved_completion_tokens,omitempty" example:"1024"`
}

// TruncateResponse 截断响应
type TruncateResponse struct {
	Messages  []types.Message             `json:"messages"`
	Report    llmcontext.TruncationReport `json:"report"`
	Estimator string                      `json:"estimator"`
	Elapsed   time.Duration               `json:"elapsed_ns"`
}
