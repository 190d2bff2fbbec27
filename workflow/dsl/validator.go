package dsl

import (
	"fmt"

	"github.com/BaSui01/knowflow/workflow"
)

// Validator DSL 验证器，检查文件层面的字段；图结构由 workflow.Validate 负责。
type Validator struct{}

// NewValidator 创建验证器
func NewValidator() *Validator {
	return &Validator{}
}

// Validate 验证 DSL 定义，返回全部问题
func (v *Validator) Validate(dsl *WorkflowDSL) []error {
	var errs []error

	if dsl.Version == "" {
		errs = append(errs, fmt.Errorf("version is required"))
	} else if dsl.Version != SupportedVersion {
		errs = append(errs, fmt.Errorf("unsupported version %q (want %q)", dsl.Version, SupportedVersion))
	}
	if dsl.ID == "" {
		errs = append(errs, fmt.Errorf("id is required"))
	}
	if len(dsl.Nodes) == 0 {
		errs = append(errs, fmt.Errorf("nodes must have at least one node"))
	}

	for i := range dsl.Nodes {
		errs = append(errs, v.validateNode(&dsl.Nodes[i])...)
	}

	for name, def := range dsl.Variables {
		switch def.Type {
		case "", "string", "int", "float", "bool", "list", "map":
		default:
			errs = append(errs, fmt.Errorf("variable %s: invalid type %q", name, def.Type))
		}
	}
	return errs
}

// validateNode 验证单个节点
func (v *Validator) validateNode(node *NodeDef) []error {
	var errs []error
	if node.ID == "" {
		return append(errs, fmt.Errorf("node ID is required"))
	}

	kind := workflow.NodeKind(node.Type)
	if !kind.Known() {
		errs = append(errs, fmt.Errorf("node %s: invalid type %q", node.ID, node.Type))
	}
	if kind != workflow.KindCondition && (len(node.Branches) > 0 || node.Default != "") {
		errs = append(errs, fmt.Errorf("node %s: branches/default are only allowed on condition nodes", node.ID))
	}
	for i, br := range node.Branches {
		if br.When == "" || br.To == "" {
			errs = append(errs, fmt.Errorf("node %s: branch %d requires when and to", node.ID, i))
		}
	}

	switch kind {
	case workflow.KindAIChat:
		if _, ok := node.Params["prompt"]; !ok {
			errs = append(errs, fmt.Errorf("node %s: ai_chat requires params.prompt", node.ID))
		}
	case workflow.KindRetrieval:
		if _, ok := node.Params["query"]; !ok {
			errs = append(errs, fmt.Errorf("node %s: retrieval requires params.query", node.ID))
		}
	case workflow.KindToolCall:
		for _, key := range []string{"endpoint", "tool"} {
			if _, ok := node.Params[key]; !ok {
				errs = append(errs, fmt.Errorf("node %s: tool_call requires params.%s", node.ID, key))
			}
		}
	case workflow.KindFunction:
		if _, ok := node.Params["op"]; !ok {
			errs = append(errs, fmt.Errorf("node %s: function requires params.op", node.ID))
		}
	}
	return errs
}
