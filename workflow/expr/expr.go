package expr

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// MaxLength 是表达式源码的最大字节数。
	MaxLength = 4096
	// MaxDepth 是语法树的最大嵌套深度。
	MaxDepth = 64
)

// SyntaxError is returned by Compile for malformed expressions.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Msg)
}

// UndefinedVariableError is returned by Eval when a path does not resolve.
type UndefinedVariableError struct {
	Name string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("undefined variable %q", e.Name)
}

// Program is a compiled guard expression. It is immutable and safe for concurrent use.
type Program struct {
	source string
	root   node
}

// Source returns the original expression text.
func (p *Program) Source() string { return p.source }

// Compile parses an expression into a Program.
func Compile(src string) (*Program, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, &SyntaxError{Pos: 0, Msg: "empty expression"}
	}
	if len(src) > MaxLength {
		return nil, &SyntaxError{Pos: MaxLength, Msg: fmt.Sprintf("expression exceeds %d bytes", MaxLength)}
	}

	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	root, err := p.parseOr(0)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t != nil {
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected token %q", t.value)}
	}
	return &Program{source: src, root: root}, nil
}

// Eval evaluates the program against vars and coerces the result to bool.
func (p *Program) Eval(vars map[string]any) (bool, error) {
	v, err := p.root.eval(vars)
	if err != nil {
		return false, err
	}
	return toBool(v), nil
}

// Evaluate compiles and evaluates in one step.
func Evaluate(src string, vars map[string]any) (bool, error) {
	p, err := Compile(src)
	if err != nil {
		return false, err
	}
	return p.Eval(vars)
}

// --- AST ---

type node interface {
	eval(vars map[string]any) (any, error)
}

type literalNode struct{ value any }

func (n literalNode) eval(map[string]any) (any, error) { return n.value, nil }

type varNode struct{ path string }

func (n varNode) eval(vars map[string]any) (any, error) {
	v, ok := Resolve(n.path, vars)
	if !ok {
		return nil, &UndefinedVariableError{Name: n.path}
	}
	return v, nil
}

type notNode struct{ operand node }

func (n notNode) eval(vars map[string]any) (any, error) {
	v, err := n.operand.eval(vars)
	if err != nil {
		return nil, err
	}
	return !toBool(v), nil
}

type logicalNode struct {
	op          string
	left, right node
}

func (n logicalNode) eval(vars map[string]any) (any, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return nil, err
	}
	// 短路求值：右侧未定义的变量不会在左侧已决定结果时报错
	if n.op == "&&" && !toBool(l) {
		return false, nil
	}
	if n.op == "||" && toBool(l) {
		return true, nil
	}
	r, err := n.right.eval(vars)
	if err != nil {
		return nil, err
	}
	return toBool(r), nil
}

type binaryNode struct {
	op          string
	left, right node
}

func (n binaryNode) eval(vars map[string]any) (any, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(vars)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "contains":
		return contains(l, r), nil
	case "in":
		return contains(r, l), nil
	case "startsWith":
		return strings.HasPrefix(toString(l), toString(r)), nil
	case "endsWith":
		return strings.HasSuffix(toString(l), toString(r)), nil
	default:
		return evalComparison(l, n.op, r), nil
	}
}

// --- Recursive descent parser ---

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() *token {
	if p.pos < len(p.tokens) {
		return &p.tokens[p.pos]
	}
	return nil
}

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) peekOp(ops ...string) (string, bool) {
	t := p.peek()
	if t == nil || t.kind != tkOp {
		return "", false
	}
	for _, op := range ops {
		if t.value == op {
			return op, true
		}
	}
	return "", false
}

func (p *parser) checkDepth(depth int) error {
	if depth > MaxDepth {
		pos := 0
		if t := p.peek(); t != nil {
			pos = t.pos
		}
		return &SyntaxError{Pos: pos, Msg: fmt.Sprintf("expression nests deeper than %d", MaxDepth)}
	}
	return nil
}

// parseOr handles: expr || expr
func (p *parser) parseOr(depth int) (node, error) {
	if err := p.checkDepth(depth); err != nil {
		return nil, err
	}
	left, err := p.parseAnd(depth)
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.peekOp("||"); !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseAnd(depth)
		if err != nil {
			return nil, err
		}
		left = logicalNode{op: "||", left: left, right: right}
	}
}

// parseAnd handles: expr && expr
func (p *parser) parseAnd(depth int) (node, error) {
	left, err := p.parseComparison(depth)
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.peekOp("&&"); !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseComparison(depth)
		if err != nil {
			return nil, err
		}
		left = logicalNode{op: "&&", left: left, right: right}
	}
}

// parseComparison handles: expr (==|!=|>|<|>=|<=|contains|in|startsWith|endsWith) expr
func (p *parser) parseComparison(depth int) (node, error) {
	left, err := p.parseUnary(depth)
	if err != nil {
		return nil, err
	}
	op, ok := p.peekOp("==", "!=", ">", "<", ">=", "<=", "contains", "in", "startsWith", "endsWith")
	if !ok {
		return left, nil
	}
	p.advance()
	right, err := p.parseUnary(depth)
	if err != nil {
		return nil, err
	}
	return binaryNode{op: op, left: left, right: right}, nil
}

// parseUnary handles: !expr, primary
func (p *parser) parseUnary(depth int) (node, error) {
	if err := p.checkDepth(depth); err != nil {
		return nil, err
	}
	if _, ok := p.peekOp("!"); ok {
		p.advance()
		operand, err := p.parseUnary(depth + 1)
		if err != nil {
			return nil, err
		}
		return notNode{operand: operand}, nil
	}
	return p.parsePrimary(depth)
}

// parsePrimary handles: literals, identifiers, parenthesized expressions
func (p *parser) parsePrimary(depth int) (node, error) {
	t := p.peek()
	if t == nil {
		end := 0
		if n := len(p.tokens); n > 0 {
			end = p.tokens[n-1].pos + len(p.tokens[n-1].value)
		}
		return nil, &SyntaxError{Pos: end, Msg: "unexpected end of expression"}
	}

	switch t.kind {
	case tkNumber:
		p.advance()
		f, err := strconv.ParseFloat(t.value, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("invalid number %q", t.value)}
		}
		return literalNode{value: f}, nil

	case tkString:
		p.advance()
		return literalNode{value: t.value}, nil

	case tkIdent:
		p.advance()
		switch t.value {
		case "true":
			return literalNode{value: true}, nil
		case "false":
			return literalNode{value: false}, nil
		case "null", "nil":
			return literalNode{value: nil}, nil
		default:
			if strings.HasSuffix(t.value, ".") || strings.Contains(t.value, "..") {
				return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("malformed field path %q", t.value)}
			}
			return varNode{path: t.value}, nil
		}

	case tkLParen:
		p.advance()
		inner, err := p.parseOr(depth + 1)
		if err != nil {
			return nil, err
		}
		if t := p.peek(); t == nil || t.kind != tkRParen {
			return nil, &SyntaxError{Pos: p.lastPos(), Msg: "expected closing parenthesis"}
		}
		p.advance()
		return inner, nil

	default:
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected token %q", t.value)}
	}
}

func (p *parser) lastPos() int {
	if t := p.peek(); t != nil {
		return t.pos
	}
	if n := len(p.tokens); n > 0 {
		return p.tokens[n-1].pos
	}
	return 0
}
