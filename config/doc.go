// Package config 提供 ContextCache 服务的配置管理功能。
//
// 包含配置加载（默认值 → YAML → 环境变量）、聚合校验、
// 基于轮询的文件监听，以及缓存与截断参数的运行时热重载。
package config
