// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 contextcache 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm/cache、llm/context、
llm/tokenizer 与 api 等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Message / Role     — 对话消息（纯文本或结构化 ContentBlock）
  - ContentBlock       — 结构化内容块（text / code / image）
  - Error / ErrorCode  — 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - Message.Text：将文本与结构化内容块合并为估算 token 时使用的文本
  - 错误工具链：NewError / WithCause / GetErrorCode / IsErrorCode / IsRetryable
*/
package types
