// Package tokenizer 提供统一的 Token 估算接口，
// 支持 tiktoken 精确计数与 CJK 感知的启发式估算器，用于上下文窗口的 Token 预算管理。
package tokenizer
