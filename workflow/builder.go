package workflow

import (
	"fmt"

	"go.uber.org/zap"
)

// Builder provides a fluent API for constructing workflow definitions in code.
type Builder struct {
	def    Definition
	logger *zap.Logger
}

// NewBuilder creates a builder for a definition with the given id.
func NewBuilder(id string) *Builder {
	return &Builder{
		def:    Definition{ID: id, Name: id},
		logger: zap.NewNop(),
	}
}

// WithName sets the display name.
func (b *Builder) WithName(name string) *Builder {
	b.def.Name = name
	return b
}

// WithDescription sets the workflow description.
func (b *Builder) WithDescription(desc string) *Builder {
	b.def.Description = desc
	return b
}

// WithVersion sets the definition version.
func (b *Builder) WithVersion(v string) *Builder {
	b.def.Version = v
	return b
}

// WithLogger sets a custom logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	if logger != nil {
		b.logger = logger.With(zap.String("component", "workflow_builder"))
	}
	return b
}

// WithPolicy sets the run policy.
func (b *Builder) WithPolicy(p RunPolicy) *Builder {
	b.def.Policy = p
	return b
}

// Node adds a node and returns a NodeBuilder for configuring it.
func (b *Builder) Node(id string, kind NodeKind) *NodeBuilder {
	b.def.Nodes = append(b.def.Nodes, Node{ID: id, Kind: kind})
	return &NodeBuilder{parent: b, index: len(b.def.Nodes) - 1}
}

// Edge adds an unguarded edge.
func (b *Builder) Edge(from, to string) *Builder {
	b.def.Edges = append(b.def.Edges, Edge{Source: from, Target: to})
	return b
}

// GuardedEdge adds an edge taken when guard evaluates to true.
func (b *Builder) GuardedEdge(from, to, guard string) *Builder {
	b.def.Edges = append(b.def.Edges, Edge{Source: from, Target: to, Guard: guard})
	return b
}

// Entry declares explicit entry nodes.
func (b *Builder) Entry(ids ...string) *Builder {
	b.def.Entries = append(b.def.Entries, ids...)
	return b
}

// Build validates and returns the definition.
func (b *Builder) Build() (*Definition, error) {
	def, err := b.def.Clone()
	if err != nil {
		return nil, err
	}
	if err := Validate(def); err != nil {
		return nil, fmt.Errorf("build workflow %q: %w", def.ID, err)
	}
	b.logger.Debug("workflow definition built",
		zap.String("id", def.ID),
		zap.Int("nodes", len(def.Nodes)),
		zap.Int("edges", len(def.Edges)))
	return def, nil
}

// MustBuild is like Build but panics on error. Intended for tests and static definitions.
func (b *Builder) MustBuild() *Definition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}

// NodeBuilder configures a single node.
type NodeBuilder struct {
	parent *Builder
	index  int
}

func (nb *NodeBuilder) node() *Node { return &nb.parent.def.Nodes[nb.index] }

// Name sets the node display name.
func (nb *NodeBuilder) Name(name string) *NodeBuilder {
	nb.node().Name = name
	return nb
}

// Param sets one param value.
func (nb *NodeBuilder) Param(key string, value any) *NodeBuilder {
	n := nb.node()
	if n.Params == nil {
		n.Params = make(map[string]any)
	}
	n.Params[key] = value
	return nb
}

// Params merges params into the node.
func (nb *NodeBuilder) Params(params map[string]any) *NodeBuilder {
	for k, v := range params {
		nb.Param(k, v)
	}
	return nb
}

// Retry sets the retry policy.
func (nb *NodeBuilder) Retry(maxAttempts, backoffBaseMs, backoffMaxMs int) *NodeBuilder {
	nb.node().Retry = RetryPolicy{MaxAttempts: maxAttempts, BackoffBaseMs: backoffBaseMs, BackoffMaxMs: backoffMaxMs}
	return nb
}

// Timeout sets the per-node timeout in milliseconds.
func (nb *NodeBuilder) Timeout(ms int) *NodeBuilder {
	nb.node().TimeoutMs = ms
	return nb
}

// BestEffort marks the node as best-effort.
func (nb *NodeBuilder) BestEffort() *NodeBuilder {
	nb.node().BestEffort = true
	return nb
}

// Done returns to the parent builder.
func (nb *NodeBuilder) Done() *Builder {
	return nb.parent
}
