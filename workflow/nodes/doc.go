// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package nodes 实现各节点类型的处理器与参数模板渲染。

NewRegistry 构建按 NodeKind 静态分派的 workflow.HandlerTable；
ResolveParams 作为 workflow.ParamsResolver，在派发前展开 {{key}} 与
{{node.output.path}} 模板，递归处理嵌套的 map 与列表。无法解析的占位符原样保留，
ai_chat 的 {{context}} 由处理器在检索上下文构建后再展开。
*/
package nodes
