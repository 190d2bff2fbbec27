// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 是 KnowFlow 服务端程序入口。

# 子命令

  - serve      启动 API 与 Metrics 服务
  - migrate    数据库迁移（up、down、status、version、goto、force、reset）
  - validate   校验工作流定义文件（YAML/JSON）
  - version    打印构建信息
  - health     探测运行中实例的 /health 或 /ready

# 组装

Server 按顺序组装：遥测、Prometheus 收集器、存储（gorm 或内存）、
MongoDB 日志镜像、Redis 向量缓存、OpenAI 兼容模型、检索索引与排序器、
工具端点注册表、节点处理器、执行引擎。

中间件链由外到内：Recovery、RequestID、SecurityHeaders、RequestLogger、
OTelTracing、CORS、Authenticate（API Key / JWT）、RateLimiter、MetricsMiddleware。

构建信息 Version、BuildTime、GitCommit 通过 ldflags 注入。
*/
package main
