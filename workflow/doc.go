// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供知识工作流的图模型、校验与执行引擎。

# 概述

工作流定义（Definition）是由节点与有向边构成的 DAG。发布时经 Validate
做结构校验，Compile 生成以整数下标组织的 arena 形式（Graph），其中预先
计算了拓扑序与每个节点的祖先集合。Executor 以单个调度协程驱动一次运行，
所有状态迁移在运行锁内完成，工作协程只通过事件通道回报结果。

# 核心类型

  - Definition / Node / Edge：不可变的工作流定义
  - Builder / NodeBuilder：Fluent API 构建定义
  - Graph：编译后的 arena 图
  - Handler / HandlerTable：按 NodeKind 静态分派的节点处理器
  - Executor / Execution：调度与单次运行句柄
  - Engine：Publish / StartRun / GetRunStatus / CancelRun / RunLog
  - Store / MemoryStore：定义、运行与执行日志的持久化
  - LogEntry / LogSink：按 seq 有序的执行日志

# 执行语义

  - 入边状态：satisfied / dead / pending，全部确定后节点变为 READY 或 SKIPPED
  - CONDITION：按定义顺序评估 guard，取所有为真的边；均不成立时走默认边
  - 重试：仅 RETRYABLE 错误按 base*2^(attempt-1) 退避重试，预算按节点计算
  - best_effort 节点失败后下游以空输出继续
  - 取消或运行超时后等待 cancel_grace，之后运行标记为 CANCELLED
*/
package workflow
