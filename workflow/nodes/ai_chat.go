package nodes

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/BaSui01/knowflow/llm"
	"github.com/BaSui01/knowflow/llm/tokenizer"
	"github.com/BaSui01/knowflow/rag"
	"github.com/BaSui01/knowflow/types"
	"github.com/BaSui01/knowflow/workflow"
)

// DefaultContextTokens is the token budget of injected retrieval context.
const DefaultContextTokens = 2000

// AIChatHandler 渲染提示词并调用对话模型。
//
// params:
//
//	prompt              用户消息模板（必填）
//	system              系统消息模板
//	model               覆盖默认模型
//	temperature         采样温度
//	max_tokens          生成上限
//	context_node        检索节点 id，其结果以 {{context}} 注入
//	context_max_tokens  注入上下文的 token 预算
type AIChatHandler struct {
	Provider      llm.Provider
	DefaultModel  string
	ContextTokens int
	// Tokenizer 按模型返回分词器，为空时使用 tokenizer.ForModel
	Tokenizer func(model string) tokenizer.Tokenizer
	Logger    *zap.Logger
}

func (h *AIChatHandler) Execute(ctx context.Context, req *workflow.Request, upstream map[string]any) (*workflow.Output, error) {
	if err := checkCtx(ctx, req.NodeID); err != nil {
		return nil, err
	}
	if h.Provider == nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "no chat provider configured").WithNodeID(req.NodeID)
	}
	prompt, err := requiredString(req.NodeID, req.Params, "prompt")
	if err != nil {
		return nil, err
	}
	system, _ := stringParam(req.Params, "system")

	model := h.DefaultModel
	if m, ok := stringParam(req.Params, "model"); ok && m != "" {
		model = m
	}

	if nodeID, ok := stringParam(req.Params, "context_node"); ok && nodeID != "" {
		block, err := h.buildContext(req, upstream, nodeID, model)
		if err != nil {
			return nil, err
		}
		env := map[string]any{"context": block}
		prompt = RenderString(prompt, env)
		system = RenderString(system, env)
	}

	chat := &llm.ChatRequest{TraceID: req.RunID, Model: model}
	if system != "" {
		chat.Messages = append(chat.Messages, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	chat.Messages = append(chat.Messages, llm.Message{Role: llm.RoleUser, Content: prompt})
	if t, ok, err := floatParam(req.Params, "temperature"); err != nil {
		return nil, paramError(req.NodeID, "%v", err)
	} else if ok {
		chat.Temperature = float32(t)
	}
	if mt, ok, err := intParam(req.Params, "max_tokens"); err != nil {
		return nil, paramError(req.NodeID, "%v", err)
	} else if ok {
		chat.MaxTokens = mt
	}

	resp, err := h.Provider.Completion(ctx, chat)
	if cerr := checkCtx(ctx, req.NodeID); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		return nil, llm.ToTypesError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, types.NewRetryableError(types.ErrUpstreamError, "empty completion").
			WithProvider(h.Provider.Name()).WithNodeID(req.NodeID)
	}

	// 节点值即生成文本，守卫和模板直接引用 <id>.output
	return &workflow.Output{
		Value: resp.Text(),
		Metadata: map[string]any{
			"model":         resp.Model,
			"provider":      resp.Provider,
			"finish_reason": resp.Choices[0].FinishReason,
			"prompt":        prompt,
			"usage": map[string]any{
				"prompt_tokens":     resp.Usage.PromptTokens,
				"completion_tokens": resp.Usage.CompletionTokens,
				"total_tokens":      resp.Usage.TotalTokens,
			},
		},
	}, nil
}

// buildContext renders the fragments of a retrieval node as source blocks.
func (h *AIChatHandler) buildContext(req *workflow.Request, upstream map[string]any, nodeID, model string) (string, error) {
	src, ok := upstream[nodeID]
	if !ok {
		// 上游检索节点被跳过或 best-effort 失败，按空上下文处理
		return "", nil
	}
	out, _ := src.(map[string]any)
	frags, err := fragmentsFrom(out["results"])
	if err != nil {
		return "", types.NewError(types.ErrInvalidParams, "context_node output has no usable results").
			WithNodeID(req.NodeID).WithCause(err)
	}

	budget := h.ContextTokens
	if budget <= 0 {
		budget = DefaultContextTokens
	}
	if n, ok, err := intParam(req.Params, "context_max_tokens"); err != nil {
		return "", paramError(req.NodeID, "%v", err)
	} else if ok {
		budget = n
	}

	var tok tokenizer.Tokenizer
	if h.Tokenizer != nil {
		tok = h.Tokenizer(model)
	} else {
		tok = tokenizer.ForModel(model, h.Logger)
	}
	block, err := rag.BuildContext(frags, tok, budget)
	if err != nil {
		return "", types.NewError(types.ErrInternalError, "build context").WithNodeID(req.NodeID).WithCause(err)
	}
	return block, nil
}

func fragmentsFrom(v any) ([]rag.Fragment, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var frags []rag.Fragment
	if err := json.Unmarshal(data, &frags); err != nil {
		return nil, err
	}
	return frags, nil
}
