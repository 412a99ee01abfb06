// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供上下文缓存服务测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，避免重复实现
相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，自动注册 Cleanup 防止泄漏
  - 断言工具: AssertMessagesEqual / AssertJSONEqual
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual，
    支持超时轮询等待条件满足
  - 时间控制: ManualClock，可注入缓存替代 time.Now
  - 数据工具: MustJSON / MustParseJSON / CopyMessages
  - TLS: WriteSelfSignedCert 生成 127.0.0.1 的自签名证书

# 子包

  - testutil/mocks: MockMemorySignal（内存压力信号）、MockCodec
    （压缩编解码器）、MockEstimator（Token 估算器），均支持错误注入
  - testutil/fixtures: 测试数据工厂，提供预置对话、代码消息与文件集合

# 使用示例

	clock := testutil.NewManualClock(time.Unix(0, 0))
	c := cache.NewContextCache(cfg, nil, cache.WithClock(clock.Now))
	clock.Advance(time.Minute)
*/
package testutil
