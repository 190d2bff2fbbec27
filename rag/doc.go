// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
# 概述

Package rag 提供知识库混合检索：向量候选集与关键词候选集分别做
min/max 归一化后按 α 加权融合，阈值过滤、确定性排序后截断。

# 核心接口/类型

  - Ranker：混合检索排序器（Rank），V/K 两路经 errgroup 并发拉取
  - Query / Fragment / Hit：检索请求、排序结果与后端原始候选
  - VectorSearcher / KeywordSearcher：检索后端接口
  - Embedder：查询向量化；LLMEmbedder 基于 llm.EmbeddingProvider，
    CachedEmbedder 以 Redis 缓存查询向量
  - FragmentSource / HitRecorder：结果回填与命中计数

# 后端实现

  - MemoryIndex：内存索引：余弦向量检索 + BM25 关键词检索 + 命中统计（TopHits）
  - QdrantSearcher：基于 Qdrant REST API 的向量检索

# 上下文构建

BuildContext 将检索结果渲染为 "--- Source i ---" 块，按 tokenizer 计数控制预算，
供 ai_chat 节点注入 {{context}}。
*/
package rag
