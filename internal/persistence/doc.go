// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package persistence 提供工作流定义、运行、执行日志与工具调用记录的持久化实现。

GormStore 基于 gorm，支持 postgres、mysql、sqlite（cgo）与 sqlite-pure
（github.com/glebarez/sqlite）四种驱动，运行与节点执行在同一事务中写入，
事务重试委托给 internal/database.PoolManager。

MongoLogSink 把执行日志额外写入 MongoDB 集合，作为 workflow.LogSink 挂到 Engine。
*/
package persistence
