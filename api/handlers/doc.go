// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供上下文缓存服务 HTTP API 的请求处理器实现。

# 概述

handlers 包实现了缓存管理、上下文截断与健康检查端点的请求处理逻辑，
以及统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口，
路由使用 Go 1.22 的方法与路径通配模式注册。

# 核心类型

  - CacheHandler     — 缓存统计、条目列表、单条目读写与删除、清空、运行时参数与缓存键构造
  - ContextHandler   — 按 token 预算截断对话，截断配置可热替换
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码与响应大小
  - HealthCheck      — 可插拔健康检查接口（CacheHealthCheck、FuncHealthCheck）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（大小限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 截断结果通过 TruncationRecorder 上报指标，并写入追踪 span
*/
package handlers
