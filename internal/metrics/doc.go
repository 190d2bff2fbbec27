// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、工作流执行、
检索与工具调用四个维度。

# 核心类型

  - Collector：指标收集器。同时实现 workflow.Observer、rag.RankObserver
    与 tools.Observer，由 cmd/knowflow 在启动时注入各组件。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 工作流指标：运行启动/结束计数、运行耗时、活跃运行数，
    节点执行按 kind/status 计数，重试按 kind 计数。
  - 检索指标：Rank 调用按 mode 与成败计数，耗时与结果条数分布。
  - 工具指标：调用按 endpoint/status 计数与耗时，端点健康状态 Gauge。

NewCollector 注册到默认 registry；测试与多实例场景使用
NewCollectorWithRegistry 传入独立的 prometheus.Registerer。
*/
package metrics
