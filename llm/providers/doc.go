// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
# 概述

包 providers 提供 OpenAI 兼容 Provider 的公共基础层：错误映射、
请求/响应线格式与转换函数。

# 核心函数

  - MapHTTPError：将 HTTP 状态码映射为语义化的 llm.Error（含 Retryable 标记）
  - NetworkError：网络/解码失败统一为可重试的上游错误
  - ConvertMessagesToOpenAI / ToLLMChatResponse：聊天消息格式转换
  - ToLLMEmbeddingResponse：按 index 还原向量顺序
  - ChooseModel：按优先级选择模型（请求 > 默认 > 兜底）
*/
package providers
