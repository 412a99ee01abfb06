// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、上下文缓存与上下文截断三个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制。所有指标按 namespace 隔离，可注册到默认 Registry
或调用方提供的 Registerer。

# 核心类型

  - Collector：指标收集器，实现 cache.Observer，可直接作为
    ContextCache 的事件观察者。
  - StatsSource：缓存快照函数，通过 RegisterStatsSource 在抓取时
    导出为 Gauge。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 缓存指标：命中、未命中、命中延迟、按原因分组的淘汰、压缩次数与压缩率。
  - 截断指标：按结果分组的截断次数、被丢弃的消息数、截断前后的 token 分布。
*/
package metrics
