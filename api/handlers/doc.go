// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 KnowFlow HTTP API 的请求处理器实现。

# 核心类型

  - WorkflowHandler：定义发布与读取，运行启动、查询、取消与执行日志
  - RetrievalHandler：混合检索排序
  - ToolHandler：工具端点注册、健康列表与调用历史
  - HealthHandler：存活/就绪探针与版本信息
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo：结构化错误信息，含 code、class、node_id、retryable

# 主要能力

  - 统一响应格式：WriteSuccess / WriteStatus / WriteError / WriteJSON
  - types.ErrorCode → HTTP 状态码映射，错误携带的 HTTPStatus 优先
  - 请求解析：DecodeJSONBody（4 MB 限制 + 严格模式）
  - 定义发布同时接受 JSON 定义与 YAML DSL（Content-Type: application/yaml）
  - 处理器只依赖小接口（WorkflowService、Ranker、ToolRegistry），便于测试替换

路由在 cmd/knowflow 中使用 Go 1.22 的方法路由模式注册，
路径参数通过 r.PathValue("id") 读取。
*/
package handlers
