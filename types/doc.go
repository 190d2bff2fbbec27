// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 KnowFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、rag、tools、api
等上层模块提供统一的错误契约，避免循环依赖。

# 错误分类

每个 Error 除了错误码之外还携带一个 Class，决定执行器是否重试：

  - VALIDATION：图结构错误，发布时报告，永不重试
  - RETRYABLE：超时、限流、连接失败等瞬时 I/O 错误，按节点策略重试
  - FATAL：凭证错误、畸形载荷、表达式错误、节点超时，立即失败
  - CANCELLED：用户取消或运行超时，独立的终止分类

ClassOf 会把 context.Canceled / context.DeadlineExceeded 归类为 CANCELLED，
其他未识别的错误归类为 FATAL。
*/
package types
