// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 ContextCache 提供集中式的 TracerProvider 和 MeterProvider 配置，
// 以及缓存快照的 OTel 指标和截断请求的 span 属性。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
