// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 ContextCache 服务端与命令行程序入口。

# 概述

cmd/contextcache 是上下文缓存服务的可执行入口，提供 HTTP 管理接口、
健康检查、版本查询以及离线的缓存键计算与上下文截断子命令。程序支持
YAML 配置文件加载、结构化日志（zap）、Prometheus 指标采集、
OpenTelemetry 追踪以及配置热重载。

# 核心类型

  - Server          — 主服务器，管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware      — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - truncateOptions — truncate 子命令的命令行覆盖项

# 主要能力

  - 子命令：serve（启动服务）、health、version、key（计算缓存键）、
    truncate（从 stdin 或文件读取消息并按 token 预算截断）
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、OTelTracing、RateLimiter（基于 IP）、MaxBodySize
  - 配置热重载：config.Reloader 监听文件变更，缓存参数、截断配置与
    日志级别即时生效
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus，独立 Registry）
  - 优雅关闭：信号监听 → 关闭 HTTP/Metrics → 停止限流清理与热更新 →
    关闭缓存 → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
