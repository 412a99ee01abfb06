// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供上下文缓冲区（项目文件 + 会话摘要）的进程内缓存，
按会话指纹寻址，支持压缩、自适应过期与内存压力驱动的淘汰。

# 概述

上下文选择器为每次模型调用挑选项目文件，代价较高。本包以会话指纹
（promptId + 最近 3 条消息 id + 排序后的文件路径）为键缓存选择结果，
未命中时由调用方计算并写回。缓存仅驻留内存，尽力而为，不跨进程一致。

# 核心类型

  - ContextCache：缓存存储，单一读写锁保护条目表与计数器，
    提供 Get/Set/Delete/Clear/GetOrCompute 以及运行时可调配置。
  - Codec：可逆压缩编解码器，ZstdCodec（默认）与 S2Codec。
  - PressureMonitor：周期性内存压力检查，按访问次数淘汰并强制压缩。
  - MemorySignal：压力信号来源，SystemMemorySignal（操作系统内存）
    与 FillRatioSignal（缓存填充率）。
  - Stats：按需计算的统计快照。

# 主要能力

  - 确定性指纹：BuildKey 对文件集合排序后做 CBOR 确定性编码与 BLAKE3 哈希。
  - 真 LRU：溢出时淘汰最久未访问的条目，并列时按插入顺序。
  - 自适应过期：热点条目寿命最多延长到约 2 倍 TTL，且过期时间只增不减。
  - 后台任务：过期清扫（TTL/2）与压力监控共享同一把锁，Close 时确定性退出。
  - 损坏容错：解压失败的条目被删除并按未命中处理，绝不向调用方传播。

# 使用方式

	store := cache.NewContextCache(cache.DefaultConfig(), logger)
	defer store.Close()

	key := cache.BuildKey(promptID, messageIDs, filePaths)
	files, summary, ok := store.Get(key)
	if !ok {
		files, summary = selectContext(...)
		_ = store.Set(key, files, summary, 0)
	}
*/
package cache
