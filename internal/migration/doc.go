// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 KnowFlow 的关系库 Schema，基于 golang-migrate。

迁移文件按方言内嵌在 migrations/{postgres,mysql,sqlite} 下，表结构与
internal/persistence 的 gorm 模型一致：workflow_definitions、
workflow_runs、node_executions、execution_log 与 tool_calls。

CLI 把 Migrator 包装为 knowflow migrate 子命令
（up、down、down-all、steps、goto、force、version、status、info、reset）。
*/
package migration
