// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package llm 定义 AI_CHAT 节点与检索向量化所依赖的模型接入契约。

# 核心接口

  - [Provider]：Completion / Stream / HealthCheck / Name
  - [EmbeddingProvider]：文本向量化

# 错误语义

Provider 返回 [Error]，由 [ToTypesError] 翻译为工作流错误分类：
超时、限流与上游 5xx 为 RETRYABLE，鉴权、权限、请求与配额错误为 FATAL。

具体实现见 llm/providers/openaicompat，Token 计数见 llm/tokenizer。
*/
package llm
