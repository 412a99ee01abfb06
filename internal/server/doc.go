// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
优雅关闭与系统信号监听。

# 概述

本包通过 Manager 封装 net/http.Server，统一管理监听、服务、
关闭与错误传播流程；Group 把 API 与 metrics 等多个监听
以及缓存、配置监听、遥测等关闭钩子组合在一起。

# 核心类型

  - Manager：单个 HTTP 服务器，提供 Start/Shutdown、
    Errors 异步错误通道与 ListenAddr 实际监听地址。
  - Config：服务器配置，包含名称、监听地址、读写超时、空闲超时、
    最大请求头大小、优雅关闭超时，以及可选的 TLS 证书与私钥
    （经 tlsutil 加固，启动时加载，失败直接返回错误）。
  - Group：一组服务器，Start 失败时回滚已启动的服务器，
    Wait 监听 SIGINT/SIGTERM、ctx 取消或服务器异常，
    Shutdown 依次关闭服务器并执行关闭钩子。
*/
package server
