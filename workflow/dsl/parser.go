package dsl

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/knowflow/workflow"
)

// SupportedVersion DSL 版本
const SupportedVersion = "1"

// Document 解析结果：定义加变量声明
type Document struct {
	Definition *workflow.Definition
	Variables  map[string]VariableDef
	Metadata   map[string]any
	Source     string
}

// ApplyDefaults merges declared defaults into vars and checks required variables.
func (d *Document) ApplyDefaults(vars map[string]any) (map[string]any, error) {
	return d.Definition.ResolveInputs(vars)
}

// Parser DSL 解析器
type Parser struct {
	validator *Validator
}

// NewParser 创建 DSL 解析器
func NewParser() *Parser {
	return &Parser{validator: NewValidator()}
}

// ParseFile 从文件解析，按扩展名选择 JSON 或 YAML
func (p *Parser) ParseFile(filename string) (*Document, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read DSL file: %w", err)
	}
	var doc *Document
	if strings.EqualFold(filepath.Ext(filename), ".json") {
		doc, err = p.ParseJSON(data)
	} else {
		doc, err = p.Parse(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	doc.Source = filename
	return doc, nil
}

// Parse 从 YAML 字节解析
func (p *Parser) Parse(data []byte) (*Document, error) {
	var dsl WorkflowDSL
	if err := yaml.Unmarshal(data, &dsl); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return p.build(&dsl)
}

// ParseJSON 从 JSON 字节解析
func (p *Parser) ParseJSON(data []byte) (*Document, error) {
	var dsl WorkflowDSL
	if err := json.Unmarshal(data, &dsl); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	return p.build(&dsl)
}

// LoadDir parses every .yaml/.yml/.json file in dir, sorted by name.
func (p *Parser) LoadDir(dir string) ([]*Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflows dir: %w", err)
	}
	var docs []*Document
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		doc, err := p.ParseFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (p *Parser) build(dsl *WorkflowDSL) (*Document, error) {
	// 1. 验证 DSL
	if errs := p.validator.Validate(dsl); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("validation errors: %s", strings.Join(msgs, "; "))
	}

	// 2. ${var} 静态插值
	vars := resolveVariables(dsl.Variables)

	// 3. 构建定义
	def, err := buildDefinition(dsl, vars)
	if err != nil {
		return nil, err
	}

	// 4. 图结构校验
	if err := workflow.Validate(def); err != nil {
		return nil, err
	}

	return &Document{Definition: def, Variables: dsl.Variables, Metadata: dsl.Metadata}, nil
}

// resolveVariables 解析变量默认值
func resolveVariables(varDefs map[string]VariableDef) map[string]any {
	vars := make(map[string]any)
	for name, def := range varDefs {
		if def.Default != nil {
			vars[name] = def.Default
		}
	}
	return vars
}

// interpolate 变量插值（替换 ${var_name}），{{ }} 运行期模板保持原样
func interpolate(value any, vars map[string]any) any {
	switch v := value.(type) {
	case string:
		result := v
		for name, val := range vars {
			result = strings.ReplaceAll(result, "${"+name+"}", fmt.Sprintf("%v", val))
		}
		return result
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = interpolate(item, vars)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = interpolate(item, vars)
		}
		return out
	}
	return value
}

func buildDefinition(dsl *WorkflowDSL, vars map[string]any) (*workflow.Definition, error) {
	def := &workflow.Definition{
		ID:          dsl.ID,
		Name:        dsl.Name,
		Description: dsl.Description,
		Version:     dsl.Version,
		Entries:     dsl.Entries,
	}
	if def.Name == "" {
		def.Name = dsl.ID
	}
	if len(dsl.Variables) > 0 {
		def.Inputs = make(map[string]workflow.Input, len(dsl.Variables))
		for name, v := range dsl.Variables {
			def.Inputs[name] = workflow.Input{Type: v.Type, Default: v.Default, Description: v.Description, Required: v.Required}
		}
	}

	if dsl.Policy != nil {
		policy, err := buildPolicy(dsl.Policy)
		if err != nil {
			return nil, err
		}
		def.Policy = policy
	}

	for _, nd := range dsl.Nodes {
		node := workflow.Node{
			ID:         nd.ID,
			Kind:       workflow.NodeKind(nd.Type),
			Name:       nd.Name,
			BestEffort: nd.BestEffort,
		}
		if nd.Params != nil {
			node.Params = interpolate(nd.Params, vars).(map[string]any)
		}
		if nd.Timeout != "" {
			d, err := parseDuration(nd.Timeout)
			if err != nil {
				return nil, fmt.Errorf("node %s: timeout: %w", nd.ID, err)
			}
			node.TimeoutMs = d
		}
		if nd.Retry != nil {
			base, err := parseDuration(nd.Retry.Backoff)
			if err != nil {
				return nil, fmt.Errorf("node %s: retry.backoff: %w", nd.ID, err)
			}
			max, err := parseDuration(nd.Retry.MaxBackoff)
			if err != nil {
				return nil, fmt.Errorf("node %s: retry.max_backoff: %w", nd.ID, err)
			}
			node.Retry = workflow.RetryPolicy{MaxAttempts: nd.Retry.MaxAttempts, BackoffBaseMs: base, BackoffMaxMs: max}
		}
		def.Nodes = append(def.Nodes, node)

		for _, next := range nd.Next {
			def.Edges = append(def.Edges, workflow.Edge{Source: nd.ID, Target: next})
		}
		for _, br := range nd.Branches {
			def.Edges = append(def.Edges, workflow.Edge{Source: nd.ID, Target: br.To, Guard: br.When})
		}
		if nd.Default != "" {
			def.Edges = append(def.Edges, workflow.Edge{Source: nd.ID, Target: nd.Default})
		}
	}

	for _, ed := range dsl.Edges {
		def.Edges = append(def.Edges, workflow.Edge{ID: ed.ID, Source: ed.From, Target: ed.To, Guard: ed.Guard})
	}
	return def, nil
}

func buildPolicy(pd *PolicyDef) (workflow.RunPolicy, error) {
	policy := workflow.RunPolicy{
		MaxConcurrency:     pd.MaxConcurrency,
		SkippedAsSatisfied: pd.SkippedAsSatisfied,
	}
	var err error
	if policy.TimeoutMs, err = parseDuration(pd.Timeout); err != nil {
		return policy, fmt.Errorf("policy.timeout: %w", err)
	}
	if policy.CancelGraceMs, err = parseDuration(pd.CancelGrace); err != nil {
		return policy, fmt.Errorf("policy.cancel_grace: %w", err)
	}
	if policy.MaxBackoffMs, err = parseDuration(pd.MaxBackoff); err != nil {
		return policy, fmt.Errorf("policy.max_backoff: %w", err)
	}
	return policy, nil
}

// parseDuration 返回毫秒数，空字符串为 0
func parseDuration(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return int(d / time.Millisecond), nil
}
