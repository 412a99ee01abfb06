// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 context 提供按 token 预算截断对话消息的能力。

# 概述

Truncator 在每次模型调用前把消息列表压到模型上下文窗口之内，
同时尽量保持对话连贯与代码结构完整。它是纯函数式的，没有共享状态。

# 截断规则

  - 可用预算 = maxContextTokens - min(systemPromptTokens, 30% maxContextTokens)
    - reservedCompletionTokens；预算 <= 0 时只保留最后一条消息。
  - 系统消息原样保留；末尾尚未回复的 user 消息视为待回复轮次，不会被丢弃。
  - 依次丢弃未配对消息、最旧的 user/assistant 对，最后一对永远保留。
  - 仍超出预算时对最后一对做强制截断：保留代码块与声明行
    （function/class/const/import/export 等）、原文前缀和截断标记，
    user 与 assistant 分别不超过剩余预算的 40% 与 60%。
*/
package context
