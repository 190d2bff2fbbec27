// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 KnowFlow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步等待: WaitFor
  - 工作流: NewEngine 基于内存存储构建引擎，RunToEnd 发布并等待运行结束

# 子包

  - testutil/mocks: MockProvider（脚本化对话模型）、MockTransport（脚本化工具传输）、
    StaticVector / StaticKeyword / StaticEmbedder（固定候选索引）
  - testutil/fixtures: 预置工作流定义与检索语料

# 使用示例

	provider := mocks.NewMockProvider().WithResponse("hello")
	handlers := nodes.NewRegistry(nodes.Deps{Provider: provider})
	run := testutil.RunToEnd(t, testutil.NewEngine(t, handlers, workflow.WithParamsResolver(nodes.ResolveParams)), def, nil)
*/
package testutil
