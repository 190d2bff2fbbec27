package nodes

import (
	"go.uber.org/zap"

	"github.com/BaSui01/knowflow/llm"
	"github.com/BaSui01/knowflow/llm/tokenizer"
	"github.com/BaSui01/knowflow/workflow"
)

// Deps 节点处理器的外部协作者，缺失的协作者会让对应节点以错误结束。
type Deps struct {
	Provider      llm.Provider
	DefaultModel  string
	ContextTokens int
	Tokenizer     func(model string) tokenizer.Tokenizer
	Ranker        Ranker
	Tools         ToolCaller
	Logger        *zap.Logger
}

// NewRegistry builds the static dispatch table for every node kind.
func NewRegistry(d Deps) workflow.HandlerTable {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return workflow.HandlerTable{
		workflow.KindStart:     StartHandler{},
		workflow.KindEnd:       EndHandler{},
		workflow.KindCondition: ConditionHandler{},
		workflow.KindFunction:  FunctionHandler{},
		workflow.KindRetrieval: &RetrievalHandler{Ranker: d.Ranker},
		workflow.KindToolCall:  &ToolCallHandler{Tools: d.Tools},
		workflow.KindAIChat: &AIChatHandler{
			Provider:      d.Provider,
			DefaultModel:  d.DefaultModel,
			ContextTokens: d.ContextTokens,
			Tokenizer:     d.Tokenizer,
			Logger:        logger.With(zap.String("component", "ai_chat")),
		},
	}
}
