// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 cache 提供基于 Redis 的缓存管理能力，服务于查询向量缓存
（rag.CachedEmbedder）。

# 核心类型

  - Manager：持有 go-redis 客户端，提供 Get/Set/GetJSON/SetJSON/Delete，
    所有键自动加 KeyPrefix 前缀。
  - Config：地址、密码、连接池、默认 TTL 与健康检查间隔。
  - Stats：从 INFO 输出解析的命中/未命中与内存统计。

未命中统一返回 ErrCacheMiss，可用 IsCacheMiss 判断。
*/
package cache
