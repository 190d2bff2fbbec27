// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package tools 提供外部工具服务的统一调用层。

# 概述

Registry 是进程内的端点注册表与健康表，通过 NewRegistry 创建、Close 关闭。
首次 Register 时启动探测循环，按 health_check_interval 并发探测所有端点，
连续 down_after 次失败标记为 down，连续 up_after 次成功标记为 up，
新端点初始为 unknown。

# 传输

  - http: POST {url}/call_tool，探测 GET {url}/capabilities
  - sse: POST {url} JSON-RPC tools/call，响应为 JSON 或 text/event-stream，探测 initialize
  - websocket: JSON-RPC 2.0，基于 coder/websocket

# 错误分类

传输失败以 *ToolError 表示：connect 与 timeout 可重试，protocol 不可重试。
HTTP 5xx 和 429 归为 connect，其余 4xx 与解码失败归为 protocol。
Registry.Call 返回的错误都是 *types.Error，其 Cause 为 *ToolError。
*/
package tools
